package workflow

import (
	"context"
	"strings"

	"github.com/BaSui01/flowengine/types"
)

// runStart seeds the declared outputs from the run inputs.
func (ec *EngineContext) runStart(n *Node) NodeRunResult {
	outputs := make(map[string]any, len(n.Outputs))
	for _, o := range n.Outputs {
		v, ok := ec.input.Inputs[o.Name]
		if !ok || v == nil {
			if o.Required {
				return failedErr(types.Errorf(types.ErrStartNodeSchema, "required input %q is missing", o.Name))
			}
			outputs[o.Name] = o.Schema.Default
			continue
		}
		if !checkType(o.Schema.Type, v) {
			return failedErr(types.Errorf(types.ErrStartNodeSchema, "input %q is not of type %s", o.Name, o.Schema.Type))
		}
		outputs[o.Name] = v
	}
	res := succeeded(outputs)
	res.Inputs = ec.input.Inputs
	return res
}

// runIterationStart exposes the current element (and its index) to the body.
func (ec *EngineContext) runIterationStart(n *Node) NodeRunResult {
	outputs := make(map[string]any, len(n.Outputs))
	for _, o := range n.Outputs {
		outputs[o.Name] = o.Schema.Default
	}
	item := n.firstOutput("input")
	outputs[item] = ec.iterItem
	if item != "index" && n.hasOutput("index") {
		outputs["index"] = ec.iterIndex
	}
	return succeeded(outputs)
}

// runIterationEnd publishes the per-element outputs of an iteration body.
func (ec *EngineContext) runIterationEnd(n *Node, p *IterationEndParams, inputs map[string]any) NodeRunResult {
	outputs := make(map[string]any, len(inputs)+1)
	for k, v := range inputs {
		outputs[k] = v
	}
	if p.OutputMode == OutputModePrompt && p.Template != "" {
		s, err := renderTemplate(p.Template, inputs)
		if err != nil {
			return failed(err, types.ErrTemplateRender, "render iteration output")
		}
		outputs[n.firstOutput("output")] = s
	}
	return succeeded(outputs)
}

// runEnd produces the final answer of the run.
func (ec *EngineContext) runEnd(ctx context.Context, n *Node, p *EndParams) NodeRunResult {
	if p.OutputMode == OutputModeVariable {
		inputs, err := ec.waitInputs(ctx, n)
		if err != nil {
			return failed(err, types.ErrEndNodeExecution, "resolve end inputs").withInputs(inputs)
		}
		res := succeeded(inputs)
		res.Inputs = inputs
		res.Content = toJSON(inputs)
		return res
	}

	content, reasoning, terr := ec.renderOutput(ctx, n, p.Template, p.ReasoningTemplate, p.StreamOutput, types.ErrEndNodeExecution)
	if terr != nil {
		return failedErr(terr)
	}
	inputs, err := ec.waitInputs(ctx, n)
	if err != nil {
		return failed(err, types.ErrEndNodeExecution, "resolve end inputs").withInputs(inputs)
	}
	res := succeeded(inputs)
	res.Inputs = inputs
	res.Content = content
	res.ReasoningContent = reasoning
	res.Streamed = p.StreamOutput
	return res
}

// runMessage renders an intermediate answer to the caller.
func (ec *EngineContext) runMessage(ctx context.Context, n *Node, p *MessageParams) NodeRunResult {
	content, reasoning, terr := ec.renderOutput(ctx, n, p.Template, p.ReasoningTemplate, p.StreamOutput, types.ErrMessageNodeExecution)
	if terr != nil {
		return failedErr(terr)
	}
	inputs, err := ec.waitInputs(ctx, n)
	if err != nil {
		return failed(err, types.ErrMessageNodeExecution, "resolve message inputs").withInputs(inputs)
	}
	res := succeeded(map[string]any{n.firstOutput("output"): content})
	res.Inputs = inputs
	res.Content = content
	res.ReasoningContent = reasoning
	res.Streamed = p.StreamOutput
	return res
}

// renderOutput renders the reasoning and content templates of an end or
// message node. With stream set, literal text and resolved variables are
// emitted as tokens in template order and LLM sources are forwarded delta by
// delta while they are still running.
func (ec *EngineContext) renderOutput(ctx context.Context, n *Node, tpl, reasoningTpl string, stream bool, code types.ErrorCode) (string, string, *types.Error) {
	var reasoning string
	if reasoningTpl != "" {
		r, _, err := ec.renderSegments(ctx, n, reasoningTpl, false, code)
		if err != nil {
			return "", "", err
		}
		reasoning = r
		if stream && r != "" {
			ec.emitToken(n, streamDelta{ReasoningContent: r})
		}
	}
	content, forwarded, err := ec.renderSegments(ctx, n, tpl, stream, code)
	if err != nil {
		return "", "", err
	}
	if reasoning == "" {
		reasoning = forwarded
	}
	return content, reasoning, nil
}

// renderSegments walks tpl in order. It returns the content and the
// reasoning deltas forwarded from LLM sources.
func (ec *EngineContext) renderSegments(ctx context.Context, n *Node, tpl string, stream bool, code types.ErrorCode) (string, string, *types.Error) {
	var content, reasoning strings.Builder
	out := func(d streamDelta) {
		content.WriteString(d.Content)
		reasoning.WriteString(d.ReasoningContent)
		if stream {
			ec.emitToken(n, d)
		}
	}

	for _, seg := range parseTemplate(tpl) {
		if !seg.isVar {
			out(streamDelta{Content: seg.literal})
			continue
		}
		if src, ok := streamSourceOf(ec.Nodes, n, seg); ok && stream && ec.isStreamSource(n.ID, src.ID) {
			if err := ec.forward(ctx, n, src, out, code); err != nil {
				return "", "", err
			}
			continue
		}
		v, err := ec.waitInput(ctx, n, seg.root())
		if err != nil {
			return "", "", types.Wrap(err, types.ErrTemplateRender, "resolve {{"+seg.varPath+"}}")
		}
		if seg.varPath != seg.root() {
			segs, perr := parsePath(seg.varPath)
			if perr != nil {
				return "", "", types.Wrap(perr, types.ErrTemplateRender, "parse {{"+seg.varPath+"}}")
			}
			if v, err = descend(v, segs[1:], seg.varPath); err != nil {
				return "", "", types.Errorf(types.ErrTemplateRender, "cannot render {{%s}}", seg.varPath).WithCause(err)
			}
		}
		out(streamDelta{Content: stringify(v)})
	}
	return content.String(), reasoning.String(), nil
}

// forward replays and follows the stream buffer of src.
func (ec *EngineContext) forward(ctx context.Context, n, src *Node, out func(streamDelta), code types.ErrorCode) *types.Error {
	r := ec.streams[src.ID].reader()
	for {
		d, more, err := r.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return contextFailure(ctx, n.ID)
			}
			// 等待源节点完成，保证根因先于本节点记录
			select {
			case <-ec.Status[src.ID].Complete():
			case <-ctx.Done():
			}
			return types.Errorf(code, "stream source %s failed", src.ID).WithCause(err)
		}
		if !more {
			return nil
		}
		out(d)
	}
}

func (ec *EngineContext) emitToken(n *Node, d streamDelta) {
	if d.Content == "" && d.ReasoningContent == "" {
		return
	}
	ec.emit(CallbackEvent{
		Type:             EventNodeToken,
		NodeID:           n.ID,
		NodeKind:         n.Kind,
		AliasName:        n.AliasName,
		Content:          d.Content,
		ReasoningContent: d.ReasoningContent,
	})
}

var separatorEscapes = strings.NewReplacer(`\n`, "\n", `\t`, "\t", `\r`, "\r")

// runTextJoiner joins inputs into a prompt or splits one input by a separator.
func (ec *EngineContext) runTextJoiner(n *Node, p *TextJoinerParams, inputs map[string]any) NodeRunResult {
	name := n.firstOutput("output")
	if p.Mode == TextJoinerModeSeparate {
		v, ok := inputs["input"]
		if !ok && len(n.Inputs) > 0 {
			v = inputs[n.Inputs[0].Name]
		}
		parts := strings.Split(stringify(v), separatorEscapes.Replace(p.Separator))
		items := make([]any, len(parts))
		for i, s := range parts {
			items[i] = s
		}
		return succeeded(map[string]any{name: items})
	}

	s, err := renderTemplate(p.Prompt, inputs)
	if err != nil {
		return failed(err, types.ErrTemplateRender, "render prompt")
	}
	return succeeded(map[string]any{name: s})
}
