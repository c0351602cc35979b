package llm

import (
	"context"
	"strings"
	"time"
)

// 统一的 LLM 错误码，用于对齐 HTTP 状态与可重试性。
type ErrorCode string

const (
	ErrInvalidRequest      ErrorCode = "LLM_INVALID_REQUEST"      // 参数/格式错误
	ErrUnauthorized        ErrorCode = "LLM_UNAUTHORIZED"         // 未授权或密钥失效
	ErrRateLimited         ErrorCode = "LLM_RATE_LIMITED"         // 上游或本地限流
	ErrContentFiltered     ErrorCode = "LLM_CONTENT_FILTERED"     // 命中内容安全
	ErrUpstreamTimeout     ErrorCode = "LLM_UPSTREAM_TIMEOUT"     // 上游超时
	ErrUpstreamError       ErrorCode = "LLM_UPSTREAM_ERROR"       // 上游 5xx/网络错误
	ErrProviderUnavailable ErrorCode = "LLM_PROVIDER_UNAVAILABLE" // Provider 不可用
)

// Error is the provider-level failure surfaced through StreamChunk.Err or
// returned from Stream.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status"`
	Retryable  bool      `json:"retryable"`
	Provider   string    `json:"provider,omitempty"`
}

func (e *Error) Error() string { return e.Message }

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role             Role   `json:"role"`
	Content          string `json:"content,omitempty"`
	ReasoningContent string `json:"reasoning_content,omitempty"`
}

// ChatRequest carries one chat call issued by a workflow node.
type ChatRequest struct {
	FlowID        string         `json:"flow_id,omitempty"`
	TraceID       string         `json:"trace_id,omitempty"`
	UserID        string         `json:"user_id,omitempty"`
	Model         string         `json:"model"`
	Messages      []Message      `json:"messages"`
	MaxTokens     int            `json:"max_tokens,omitempty"`
	Temperature   float32        `json:"temperature,omitempty"`
	TopP          float32        `json:"top_p,omitempty"`
	Timeout       time.Duration  `json:"timeout,omitempty"`
	SearchDisable bool           `json:"search_disable,omitempty"`
	ExtraParams   map[string]any `json:"extra_params,omitempty"`
}

type ChatUsage struct {
	PromptTokens     int `json:"prompt_tokens,omitempty"`
	CompletionTokens int `json:"completion_tokens,omitempty"`
	TotalTokens      int `json:"total_tokens,omitempty"`
}

// Add accumulates another usage record.
func (u *ChatUsage) Add(o *ChatUsage) {
	if o == nil {
		return
	}
	u.PromptTokens += o.PromptTokens
	u.CompletionTokens += o.CompletionTokens
	u.TotalTokens += o.TotalTokens
}

type StreamChunk struct {
	ID           string     `json:"id,omitempty"`
	Provider     string     `json:"provider,omitempty"`
	Model        string     `json:"model,omitempty"`
	Delta        Message    `json:"delta"`
	FinishReason string     `json:"finish_reason,omitempty"`
	Usage        *ChatUsage `json:"usage,omitempty"` // 最终 chunk 可带 usage
	Err          *Error     `json:"error,omitempty"`
}

// ChatResponse is the accumulated result of a stream.
type ChatResponse struct {
	Model            string    `json:"model"`
	Content          string    `json:"content"`
	ReasoningContent string    `json:"reasoning_content,omitempty"`
	FinishReason     string    `json:"finish_reason,omitempty"`
	Usage            ChatUsage `json:"usage"`
}

// Provider 定义了统一的流式 LLM 适配接口。
type Provider interface {
	// Stream 发起流式聊天请求，返回增量响应通道。通道在结束或出错后关闭。
	Stream(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error)

	// Name 返回 Provider 的唯一标识
	Name() string
}

// Collect drains a stream into a ChatResponse. onDelta, when set, observes
// every non-empty delta in arrival order.
func Collect(ctx context.Context, p Provider, req *ChatRequest, onDelta func(StreamChunk)) (*ChatResponse, error) {
	ch, err := p.Stream(ctx, req)
	if err != nil {
		return nil, err
	}

	resp := &ChatResponse{Model: req.Model}
	var content, reasoning strings.Builder
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case chunk, ok := <-ch:
			if !ok {
				resp.Content = content.String()
				resp.ReasoningContent = reasoning.String()
				return resp, nil
			}
			if chunk.Err != nil {
				return nil, chunk.Err
			}
			if chunk.Delta.Content != "" || chunk.Delta.ReasoningContent != "" {
				content.WriteString(chunk.Delta.Content)
				reasoning.WriteString(chunk.Delta.ReasoningContent)
				if onDelta != nil {
					onDelta(chunk)
				}
			}
			if chunk.FinishReason != "" {
				resp.FinishReason = chunk.FinishReason
			}
			resp.Usage.Add(chunk.Usage)
		}
	}
}
