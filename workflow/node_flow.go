package workflow

import (
	"context"

	"github.com/BaSui01/flowengine/llm"
	"github.com/BaSui01/flowengine/types"
)

// runFlow runs another workflow as a single node. Its start node receives
// this node's inputs; only interrupt events of the sub-run reach the caller.
func (ec *EngineContext) runFlow(ctx context.Context, n *Node, p *FlowParams, inputs map[string]any) NodeRunResult {
	if limit := ec.deps.Config.Engine.MaxFlowDepth; limit > 0 && ec.depth+1 > limit {
		return failedErr(types.Errorf(types.ErrSubFlowExecution, "sub-flow %s exceeds the maximum nesting depth %d", p.FlowID, limit))
	}

	d, err := ec.deps.Flows.LoadFlow(ctx, p.FlowID, p.AppID, p.Version)
	if err != nil {
		return failed(err, types.ErrFlowNotFound, "load sub-flow "+p.FlowID)
	}
	sub, err := NewBuilder(d, ec.deps).WithFlowID(p.FlowID).withDepth(ec.depth + 1).Build()
	if err != nil {
		return failedErr(types.Errorf(types.ErrSubFlowExecution, "build sub-flow %s", p.FlowID).WithCause(err))
	}

	var history []llm.Message
	if h := p.EnableChatHistoryV2; h != nil && h.IsEnabled {
		history = projectHistory(ec.input.History, h.Rounds, h.MaxTokens, ec.deps.Config.LLM.Model)
	}
	appID := p.AppID
	if appID == "" {
		appID = ec.input.AppID
	}

	res, err := sub.schedule(ctx, RunInput{
		FlowID:    p.FlowID,
		AppID:     appID,
		UID:       ec.input.UID,
		ChatID:    ec.input.ChatID,
		SessionID: ec.input.SessionID,
		Inputs:    inputs,
		History:   history,
	}, interruptsOnly(ec.emit))
	if err != nil {
		out := failedErr(types.Errorf(types.ErrSubFlowExecution, "sub-flow %s failed", p.FlowID).WithCause(err))
		if res != nil {
			out.Usage = &res.Usage
		}
		return out
	}

	outputs := make(map[string]any, len(n.Outputs))
	for _, o := range n.Outputs {
		if v, ok := res.Outputs[o.Name]; ok {
			outputs[o.Name] = v
			continue
		}
		if o.Name == "output" || o.Name == "content" {
			outputs[o.Name] = res.Content
			continue
		}
		if o.Required {
			return failedErr(types.Errorf(types.ErrSubFlowExecution, "sub-flow %s did not produce output %q", p.FlowID, o.Name))
		}
		outputs[o.Name] = o.Schema.Default
	}
	out := succeeded(outputs)
	out.Usage = &res.Usage
	return out
}

// interruptsOnly forwards interrupt events and drops the rest.
func interruptsOnly(emit emitter) emitter {
	return func(ev CallbackEvent) {
		if ev.Type == EventInterrupt {
			emit(ev)
		}
	}
}
