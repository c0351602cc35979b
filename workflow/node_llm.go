package workflow

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/flowengine/llm"
	"github.com/BaSui01/flowengine/types"
)

// reasoningOutput is the output name that receives the model's reasoning.
const reasoningOutput = "REASONING_CONTENT"

// runLLM streams one chat completion into the node's stream buffer.
func (ec *EngineContext) runLLM(ctx context.Context, n *Node, p *LLMParams, inputs map[string]any) NodeRunResult {
	prompt, err := renderTemplate(p.Template, inputs)
	if err != nil {
		return failed(err, types.ErrTemplateRender, "render template")
	}
	var system string
	if p.SystemTemplate != "" {
		if system, err = renderTemplate(p.SystemTemplate, inputs); err != nil {
			return failed(err, types.ErrTemplateRender, "render system template")
		}
	}

	model := p.Model
	if model == "" {
		model = ec.deps.Config.LLM.Model
	}
	history := ec.chatHistory(ctx, n, p.EnableChatHistoryV2, model)

	msgs := make([]llm.Message, 0, len(history)+2)
	if system != "" {
		msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: system})
	}
	msgs = append(msgs, history...)
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: prompt})

	req := &llm.ChatRequest{
		FlowID:        ec.flowID(),
		TraceID:       ec.runID,
		UserID:        ec.input.UID,
		Model:         model,
		Messages:      msgs,
		MaxTokens:     p.MaxTokens,
		Temperature:   p.Temperature,
		TopP:          p.TopP,
		Timeout:       ec.deps.Config.LLM.Timeout,
		SearchDisable: p.SearchDisable,
		ExtraParams:   p.ExtraParams,
	}

	ch, err := ec.deps.Provider.Stream(ctx, req)
	if err != nil {
		return failedErr(llmFailure(err))
	}

	buf := ec.streams[n.ID]
	visible := len(ec.StreamConsumers[n.ID]) == 0
	forwarded := false
	var content, reasoning strings.Builder
	usage := &llm.ChatUsage{}

	for done := false; !done; {
		select {
		case <-ctx.Done():
			res := failedErr(contextFailure(ctx, n.ID))
			res.noRetry = forwarded
			return res
		case chunk, ok := <-ch:
			if !ok {
				done = true
				break
			}
			if chunk.Err != nil {
				res := failedErr(llmFailure(chunk.Err))
				res.Usage = usage
				res.noRetry = forwarded
				return res
			}
			usage.Add(chunk.Usage)
			d := streamDelta{Content: chunk.Delta.Content, ReasoningContent: chunk.Delta.ReasoningContent}
			if d.Content == "" && d.ReasoningContent == "" {
				continue
			}
			forwarded = true
			content.WriteString(d.Content)
			reasoning.WriteString(d.ReasoningContent)
			buf.append(d)
			if visible {
				ec.emitToken(n, d)
			}
		}
	}

	answer := content.String()
	outputs := map[string]any{n.firstOutput("output"): answer}
	if n.hasOutput(reasoningOutput) {
		outputs[reasoningOutput] = reasoning.String()
	}
	ec.appendHistory(ctx, n, p.EnableChatHistoryV2, prompt, answer)

	res := succeeded(outputs)
	res.Usage = usage
	return res
}

// llmFailure wraps a provider error; retryability follows the provider.
func llmFailure(err error) *types.Error {
	if te, ok := types.AsError(err); ok {
		return te
	}
	retryable := false
	var le *llm.Error
	if errors.As(err, &le) {
		retryable = le.Retryable
	}
	return types.NewError(types.ErrLLMRequest, "chat completion failed").WithCause(err).WithRetryable(retryable)
}

func (ec *EngineContext) historyKey(n *Node) HistoryKey {
	return HistoryKey{FlowID: ec.flowID(), NodeID: n.ID, UID: ec.input.UID, ChatID: ec.input.ChatID}
}

// chatHistory returns the history handed to the model. With chat history
// enabled it comes from the history store when one is configured, and is
// bounded by rounds and maxTokens.
func (ec *EngineContext) chatHistory(ctx context.Context, n *Node, h *ChatHistoryV2, model string) []llm.Message {
	if h == nil || !h.IsEnabled {
		return ec.input.History
	}
	history := ec.input.History
	if ec.deps.History != nil {
		stored, err := ec.deps.History.Recent(ctx, ec.historyKey(n), h.Rounds)
		if err != nil {
			ec.logger.Warn("load chat history failed", zap.String("node_id", n.ID), zap.Error(err))
		} else {
			history = stored
		}
	}
	return projectHistory(history, h.Rounds, h.MaxTokens, model)
}

func (ec *EngineContext) appendHistory(ctx context.Context, n *Node, h *ChatHistoryV2, prompt, answer string) {
	if h == nil || !h.IsEnabled || ec.deps.History == nil {
		return
	}
	err := ec.deps.History.Append(ctx, ec.historyKey(n),
		llm.Message{Role: llm.RoleUser, Content: prompt},
		llm.Message{Role: llm.RoleAssistant, Content: answer},
	)
	if err != nil {
		ec.logger.Warn("save chat history failed", zap.String("node_id", n.ID), zap.Error(err))
	}
}
