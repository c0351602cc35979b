package tokenizer

// Tokenizer 是统一的 token 计数接口。
type Tokenizer interface {
	// CountTokens 返回给定文本的 token 数.
	CountTokens(text string) (int, error)

	// CountMessages 返回消息列表的总 token 数,
	// 包括每条消息的开销（角色标记、分隔符等）。
	CountMessages(messages []Message) (int, error)

	// MaxTokens 返回模型的最大上下文长度.
	MaxTokens() int

	// Name 返回分词器的名称.
	Name() string
}

// Message 是一个轻量级消息结构, 由 tokenizer 包使用
// 以避免与 llm 包的循环依赖。
type Message struct {
	Role    string
	Content string
}

// ForModel 返回模型对应的分词器：OpenAI 系列模型使用 tiktoken，
// 其他模型使用估算器。tiktoken 初始化失败（例如离线无法下载编码表）
// 时自动退回估算器。
func ForModel(model string) Tokenizer {
	if enc, ok := lookupEncoding(model); ok {
		return &fallbackTokenizer{
			primary:  newTiktokenTokenizer(model, enc),
			fallback: NewEstimatorTokenizer(model, enc.maxTokens),
		}
	}
	return NewEstimatorTokenizer(model, 0)
}

// fallbackTokenizer 在 primary 出错时使用 fallback。
type fallbackTokenizer struct {
	primary  Tokenizer
	fallback Tokenizer
}

func (f *fallbackTokenizer) CountTokens(text string) (int, error) {
	if n, err := f.primary.CountTokens(text); err == nil {
		return n, nil
	}
	return f.fallback.CountTokens(text)
}

func (f *fallbackTokenizer) CountMessages(messages []Message) (int, error) {
	if n, err := f.primary.CountMessages(messages); err == nil {
		return n, nil
	}
	return f.fallback.CountMessages(messages)
}

func (f *fallbackTokenizer) MaxTokens() int { return f.primary.MaxTokens() }

func (f *fallbackTokenizer) Name() string { return f.primary.Name() }
