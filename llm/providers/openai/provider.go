// Package openai adapts OpenAI-compatible chat completion endpoints to the
// streaming llm.Provider contract used by workflow nodes.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.uber.org/zap"

	"github.com/BaSui01/flowengine/llm"
)

const providerName = "openai"

// Config configures the provider.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

// Provider streams chat completions from an OpenAI-compatible API. Base URL
// support covers self-hosted and third-party compatible gateways.
type Provider struct {
	client openai.Client
	model  string
	logger *zap.Logger
}

// New creates a Provider.
func New(cfg Config, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	// node retryConfig owns retries
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey), option.WithMaxRetries(0)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Provider{
		client: openai.NewClient(opts...),
		model:  cfg.Model,
		logger: logger.With(zap.String("component", "openai_provider")),
	}
}

func (p *Provider) Name() string { return providerName }

// Stream implements llm.Provider.
func (p *Provider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	if len(req.Messages) == 0 {
		return nil, &llm.Error{Code: llm.ErrInvalidRequest, Message: "no messages", Provider: providerName}
	}

	var cancel context.CancelFunc
	if req.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
	}

	params := p.buildParams(req)
	stream := p.client.Chat.Completions.NewStreaming(ctx, params)

	out := make(chan llm.StreamChunk, 64)
	go func() {
		defer close(out)
		if cancel != nil {
			defer cancel()
		}
		defer stream.Close()

		emit := func(c llm.StreamChunk) bool {
			select {
			case out <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for stream.Next() {
			chunk := stream.Current()
			sc := llm.StreamChunk{ID: chunk.ID, Provider: providerName, Model: chunk.Model}
			if len(chunk.Choices) > 0 {
				choice := chunk.Choices[0]
				sc.Delta = llm.Message{
					Role:             llm.RoleAssistant,
					Content:          choice.Delta.Content,
					ReasoningContent: reasoningDelta(choice.Delta.RawJSON()),
				}
				sc.FinishReason = string(choice.FinishReason)
			}
			if chunk.Usage.TotalTokens > 0 {
				sc.Usage = &llm.ChatUsage{
					PromptTokens:     int(chunk.Usage.PromptTokens),
					CompletionTokens: int(chunk.Usage.CompletionTokens),
					TotalTokens:      int(chunk.Usage.TotalTokens),
				}
			}
			if !emit(sc) {
				return
			}
		}

		if err := stream.Err(); err != nil {
			p.logger.Warn("chat stream failed", zap.String("model", params.Model), zap.Error(err))
			emit(llm.StreamChunk{Provider: providerName, Err: toLLMError(err)})
		}
	}()

	return out, nil
}

func (p *Provider) buildParams(req *llm.ChatRequest) openai.ChatCompletionNewParams {
	model := req.Model
	if model == "" {
		model = p.model
	}
	params := openai.ChatCompletionNewParams{
		Model: model,
		StreamOptions: openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		},
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(float64(req.Temperature))
	}
	if req.TopP > 0 {
		params.TopP = openai.Float(float64(req.TopP))
	}
	if req.UserID != "" {
		params.User = openai.String(req.UserID)
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case llm.RoleSystem:
			messages = append(messages, openai.SystemMessage(m.Content))
		case llm.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}
	params.Messages = messages
	return params
}

// reasoningDelta extracts the non-standard reasoning_content field emitted by
// reasoning models behind compatible gateways.
func reasoningDelta(raw string) string {
	if !strings.Contains(raw, "reasoning_content") {
		return ""
	}
	var d struct {
		ReasoningContent string `json:"reasoning_content"`
	}
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return ""
	}
	return d.ReasoningContent
}

func toLLMError(err error) *llm.Error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		code := llm.ErrUpstreamError
		retryable := apiErr.StatusCode >= 500
		switch {
		case apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden:
			code = llm.ErrUnauthorized
		case apiErr.StatusCode == http.StatusTooManyRequests:
			code, retryable = llm.ErrRateLimited, true
		case apiErr.StatusCode == http.StatusBadRequest:
			code = llm.ErrInvalidRequest
		}
		return &llm.Error{
			Code:       code,
			Message:    fmt.Sprintf("openai: %s", apiErr.Error()),
			HTTPStatus: apiErr.StatusCode,
			Retryable:  retryable,
			Provider:   providerName,
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &llm.Error{Code: llm.ErrUpstreamTimeout, Message: err.Error(), Retryable: true, Provider: providerName}
	}
	return &llm.Error{Code: llm.ErrUpstreamError, Message: err.Error(), Retryable: true, Provider: providerName}
}
