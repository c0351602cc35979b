package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/BaSui01/flowengine/llm"
	"github.com/BaSui01/flowengine/types"
)

// runDecision asks the model to classify the query into one intent and
// activates the branch of that intent.
func (ec *EngineContext) runDecision(ctx context.Context, n *Node, p *DecisionParams, inputs map[string]any) NodeRunResult {
	query, ok := inputs["Query"]
	if !ok && len(n.Inputs) > 0 {
		query = inputs[n.Inputs[0].Name]
	}

	model := p.Model
	if model == "" {
		model = ec.deps.Config.LLM.Model
	}
	req := &llm.ChatRequest{
		FlowID:      ec.flowID(),
		TraceID:     ec.runID,
		UserID:      ec.input.UID,
		Model:       model,
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: decisionPrompt(p, stringify(query))}},
		MaxTokens:   p.MaxTokens,
		Temperature: p.Temperature,
		Timeout:     ec.deps.Config.LLM.Timeout,
	}
	resp, err := llm.Collect(ctx, ec.deps.Provider, req, nil)
	if err != nil {
		e := llmFailure(err)
		if e.Code == types.ErrLLMRequest {
			e.Code = types.ErrDecisionExecution
		}
		return failedErr(e)
	}

	intent, ok := matchIntent(p.IntentChains, resp.Content)
	if !ok {
		return failedErr(types.Errorf(types.ErrDecisionExecution, "answer %q matches no intent and no default intent is configured", resp.Content))
	}
	res := succeeded(map[string]any{n.firstOutput("class_name"): intent.Name})
	res.Handles = []string{intent.ID}
	res.Usage = &resp.Usage
	return res
}

func decisionPrompt(p *DecisionParams, query string) string {
	var b strings.Builder
	if p.PromptPrefix != "" {
		b.WriteString(p.PromptPrefix)
		b.WriteString("\n\n")
	}
	b.WriteString("Classify the user input into exactly one of the following intents. Reply with the intent name only.\n")
	for _, in := range p.IntentChains {
		if in.IntentType == IntentTypeDefault {
			continue
		}
		if in.Description != "" {
			fmt.Fprintf(&b, "- %s: %s\n", in.Name, in.Description)
		} else {
			fmt.Fprintf(&b, "- %s\n", in.Name)
		}
	}
	b.WriteString("\nUser input: ")
	b.WriteString(query)
	return b.String()
}

// matchIntent prefers an exact name or id match, then a name contained in
// the answer, then the default intent.
func matchIntent(intents []Intent, answer string) (Intent, bool) {
	a := strings.ToLower(strings.Trim(strings.TrimSpace(answer), "\"'`.。"))
	var fallback *Intent
	for i := range intents {
		in := intents[i]
		if in.IntentType == IntentTypeDefault {
			if fallback == nil {
				fallback = &intents[i]
			}
			continue
		}
		if a == strings.ToLower(in.Name) || a == strings.ToLower(in.ID) {
			return in, true
		}
	}
	if a != "" {
		for _, in := range intents {
			if in.IntentType != IntentTypeDefault && strings.Contains(a, strings.ToLower(in.Name)) {
				return in, true
			}
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	return Intent{}, false
}
