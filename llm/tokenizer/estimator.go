package tokenizer

import "unicode"

const (
	// 每条消息的角色与分隔符开销，以及回复前缀开销
	perMessageOverhead = 4
	replyPrimingTokens = 3

	// 以 1/12 token 为单位计费，避免浮点累加误差
	costUnits  = 12
	sparseCost = costUnits / 4
	denseCost  = costUnits * 2 / 3

	defaultMaxTokens = 4096
)

// 表意文字与假名约 1.5 字符/token，其余约 4 字符/token
var denseScripts = []*unicode.RangeTable{
	unicode.Han,
	unicode.Hiragana,
	unicode.Katakana,
	unicode.Hangul,
}

// EstimatorTokenizer 按字符类别估算 token 数，用于没有 BPE 编码表的模型
// （如星火系列）以及 tiktoken 不可用时的退路。
type EstimatorTokenizer struct {
	model     string
	maxTokens int
}

// NewEstimatorTokenizer maxTokens <= 0 时使用 4096。
func NewEstimatorTokenizer(model string, maxTokens int) *EstimatorTokenizer {
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &EstimatorTokenizer{model: model, maxTokens: maxTokens}
}

// CountTokens 非空文本至少计 1 个 token。
func (e *EstimatorTokenizer) CountTokens(text string) (int, error) {
	if text == "" {
		return 0, nil
	}
	cost := 0
	for _, r := range text {
		cost += runeCost(r)
	}
	return max(1, cost/costUnits), nil
}

func (e *EstimatorTokenizer) CountMessages(messages []Message) (int, error) {
	total := replyPrimingTokens
	for _, m := range messages {
		n, err := e.CountTokens(m.Content)
		if err != nil {
			return 0, err
		}
		total += n + perMessageOverhead
	}
	return total, nil
}

func (e *EstimatorTokenizer) MaxTokens() int { return e.maxTokens }

func (e *EstimatorTokenizer) Name() string { return "estimator" }

func runeCost(r rune) int {
	if r > unicode.MaxASCII && (unicode.In(r, denseScripts...) || isFullWidthPunct(r)) {
		return denseCost
	}
	return sparseCost
}

// CJK 符号与全角字符
func isFullWidthPunct(r rune) bool {
	return (r >= 0x3000 && r <= 0x303F) || (r >= 0xFF00 && r <= 0xFFEF)
}
