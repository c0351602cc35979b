package workflow

import (
	"context"
	"strings"

	"github.com/BaSui01/flowengine/types"
	"github.com/BaSui01/flowengine/workflow/dsl"
)

// Builder turns a workflow DSL into an executable Engine. Building is pure:
// the same DSL always yields the same chains and node instances.
type Builder struct {
	dsl    *dsl.WorkflowDSL
	deps   Dependencies
	flowID string
	// scope is the iteration node owning the sub-graph; empty for a workflow.
	scope string
	depth int
}

// NewBuilder creates a builder for d.
func NewBuilder(d *dsl.WorkflowDSL, deps Dependencies) *Builder {
	return &Builder{dsl: d, deps: deps.withDefaults()}
}

// WithFlowID sets the flow id reported in events, traces and history keys.
func (b *Builder) WithFlowID(flowID string) *Builder {
	b.flowID = flowID
	return b
}

func (b *Builder) withDepth(depth int) *Builder {
	b.depth = depth
	return b
}

func (b *Builder) sub(body *dsl.WorkflowDSL, iterationID string) *Builder {
	return &Builder{dsl: body, deps: b.deps, flowID: b.flowID, scope: iterationID, depth: b.depth}
}

func (b *Builder) startKind() NodeKind {
	if b.scope == "" {
		return KindStart
	}
	return KindIterationStart
}

// scopeNodes returns the nodes that belong directly to this scope.
func (b *Builder) scopeNodes() []dsl.NodeDef {
	var out []dsl.NodeDef
	for _, n := range b.dsl.Nodes {
		if n.Data.ParentID == b.scope {
			out = append(out, n)
		}
	}
	return out
}

// scopeEdges keeps the edges between nodes of this scope. The edge from an
// iteration node into its own body is structural and ignored; any other edge
// crossing a scope boundary is rejected.
func (b *Builder) scopeEdges(inScope map[string]struct{}) ([]dsl.EdgeDef, error) {
	parentOf := make(map[string]string, len(b.dsl.Nodes))
	for _, n := range b.dsl.Nodes {
		parentOf[n.ID] = n.Data.ParentID
	}
	var out []dsl.EdgeDef
	for _, e := range b.dsl.Edges {
		srcParent, srcOK := parentOf[e.SourceNodeID]
		tgtParent, tgtOK := parentOf[e.TargetNodeID]
		if !srcOK || !tgtOK {
			return nil, types.Errorf(types.ErrDSLSchema, "edge %s -> %s references an unknown node", e.SourceNodeID, e.TargetNodeID)
		}
		_, srcIn := inScope[e.SourceNodeID]
		_, tgtIn := inScope[e.TargetNodeID]
		switch {
		case srcIn && tgtIn:
			out = append(out, e)
		case !srcIn && !tgtIn:
		case tgtParent == e.SourceNodeID || srcParent == e.TargetNodeID:
		default:
			return nil, types.Errorf(types.ErrDSLSchema, "edge %s -> %s crosses an iteration boundary", e.SourceNodeID, e.TargetNodeID)
		}
	}
	return out, nil
}

// BuildChains derives the dependency graph of this scope.
func (b *Builder) BuildChains() (*Chains, error) {
	if b.dsl == nil {
		return nil, types.NewError(types.ErrDSLSchema, "workflow DSL is nil")
	}
	nodes := b.scopeNodes()
	if len(nodes) == 0 {
		return nil, types.NewError(types.ErrDSLSchema, "workflow has no nodes")
	}
	inScope := make(map[string]struct{}, len(nodes))
	for _, n := range nodes {
		inScope[n.ID] = struct{}{}
	}
	edges, err := b.scopeEdges(inScope)
	if err != nil {
		return nil, err
	}
	return buildChains(nodes, edges, b.startKind())
}

// BuildNodes builds one typed node instance per node of this scope.
func (b *Builder) BuildNodes() (map[string]*Node, error) {
	defs := b.scopeNodes()
	nodes := make(map[string]*Node, len(defs))
	for _, def := range defs {
		n, err := b.buildNode(def)
		if err != nil {
			return nil, err
		}
		nodes[n.ID] = n
	}
	return nodes, nil
}

func (b *Builder) buildNode(def dsl.NodeDef) (*Node, error) {
	kind, ok := ParseNodeKind(def.NodeType())
	if !ok {
		return nil, types.Errorf(types.ErrNodeTypeUnknown, "node %s has unknown type %q", def.ID, def.NodeType()).WithNode(def.ID)
	}
	params := newParams(kind)
	if err := dsl.DecodeParam(def, params); err != nil {
		return nil, err
	}
	if err := validateParams(def.ID, params); err != nil {
		return nil, err
	}
	if err := b.checkCollaborators(def.ID, kind); err != nil {
		return nil, err
	}

	n := &Node{
		ID:               def.ID,
		Kind:             kind,
		AliasName:        def.Data.NodeMeta.AliasName,
		ParentID:         def.Data.ParentID,
		InputIdentifier:  def.InputNames(),
		OutputIdentifier: def.OutputNames(),
		Inputs:           def.Data.Inputs,
		Outputs:          def.Data.Outputs,
		Params:           params,
		Retry:            def.Data.RetryConfig,
	}
	if kind == KindIteration {
		body, err := b.sub(extractBody(b.dsl, def.ID), def.ID).buildStatic()
		if err != nil {
			return nil, types.Errorf(types.ErrDSLSchema, "iteration %s has an invalid body", def.ID).WithCause(err).WithNode(def.ID)
		}
		n.body = body
	}
	return n, nil
}

// extractBody returns every descendant of iterationID and the edges between them.
func extractBody(d *dsl.WorkflowDSL, iterationID string) *dsl.WorkflowDSL {
	parentOf := make(map[string]string, len(d.Nodes))
	for _, n := range d.Nodes {
		parentOf[n.ID] = n.Data.ParentID
	}
	within := func(id string) bool {
		seen := map[string]bool{}
		for p := parentOf[id]; p != "" && !seen[p]; p = parentOf[p] {
			if p == iterationID {
				return true
			}
			seen[p] = true
		}
		return false
	}

	body := &dsl.WorkflowDSL{}
	members := make(map[string]struct{})
	for _, n := range d.Nodes {
		if within(n.ID) {
			body.Nodes = append(body.Nodes, n)
			members[n.ID] = struct{}{}
		}
	}
	for _, e := range d.Edges {
		_, src := members[e.SourceNodeID]
		_, tgt := members[e.TargetNodeID]
		if src && tgt {
			body.Edges = append(body.Edges, e)
		}
	}
	return body
}

func paramErr(nodeID, format string, args ...any) error {
	return types.Errorf(types.ErrNodeParamSchema, "node %s: "+format, append([]any{nodeID}, args...)...).WithNode(nodeID)
}

// validateParams checks the semantic constraints JSON decoding cannot.
func validateParams(id string, params NodeParams) error {
	switch p := params.(type) {
	case *EndParams:
		if p.OutputMode != OutputModeVariable && p.OutputMode != OutputModePrompt {
			return paramErr(id, "invalid outputMode %d", p.OutputMode)
		}
	case *LLMParams:
		if strings.TrimSpace(p.Template) == "" {
			return paramErr(id, "template is required")
		}
	case *CodeParams:
		if strings.TrimSpace(p.Code) == "" {
			return paramErr(id, "code is required")
		}
		if p.Language != "python" {
			return paramErr(id, "unsupported language %q", p.Language)
		}
		if p.Timeout < 0 {
			return paramErr(id, "timeout must not be negative")
		}
	case *FlowParams:
		if p.FlowID == "" {
			return paramErr(id, "flowId is required")
		}
	case *TextJoinerParams:
		switch p.Mode {
		case TextJoinerModeJoin:
		case TextJoinerModeSeparate:
			if p.Separator == "" {
				return paramErr(id, "separator is required in separate mode")
			}
		default:
			return paramErr(id, "invalid mode %d", p.Mode)
		}
	case *IfElseParams:
		if len(p.Cases) == 0 {
			return paramErr(id, "at least one case is required")
		}
		for i := range p.Cases {
			c := &p.Cases[i]
			if c.ID == "" {
				return paramErr(id, "case id is required")
			}
			if op := strings.ToLower(c.LogicalOperator); op != "" && op != "and" && op != "or" {
				return paramErr(id, "invalid logicalOperator %q", c.LogicalOperator)
			}
			if c.Expression != "" {
				e, err := dsl.CompileExpr(c.Expression)
				if err != nil {
					return paramErr(id, "case %s: %v", c.ID, err)
				}
				c.compiled = e
			}
		}
	case *DecisionParams:
		if len(p.IntentChains) == 0 {
			return paramErr(id, "at least one intent is required")
		}
		for _, in := range p.IntentChains {
			if in.ID == "" || in.Name == "" {
				return paramErr(id, "intent id and name are required")
			}
		}
	case *QuestionAnswerParams:
		if strings.TrimSpace(p.Question) == "" {
			return paramErr(id, "question is required")
		}
		switch p.AnswerType {
		case AnswerTypeDirect:
		case AnswerTypeOption:
			if len(p.Options) == 0 {
				return paramErr(id, "option answer type needs options")
			}
		default:
			return paramErr(id, "invalid answerType %q", p.AnswerType)
		}
		if p.Timeout < 0 {
			return paramErr(id, "timeout must not be negative")
		}
	case *IterationParams:
		if p.Concurrency < 0 {
			return paramErr(id, "concurrency must not be negative")
		}
	}
	return nil
}

func (b *Builder) checkCollaborators(id string, kind NodeKind) error {
	var missing string
	switch kind {
	case KindLLM, KindDecision:
		if b.deps.Provider == nil {
			missing = "chat provider"
		}
	case KindKnowledge:
		if b.deps.Retriever == nil {
			missing = "knowledge retriever"
		}
	case KindCode:
		if b.deps.CodeExecutor == nil {
			missing = "code executor"
		}
	case KindFlow:
		if b.deps.Flows == nil {
			missing = "flow loader"
		}
	case KindQuestionAnswer:
		if b.deps.Events == nil {
			missing = "event registry"
		}
	}
	if missing != "" {
		return types.Errorf(types.ErrInvalidRequest, "node %s needs a %s but none is configured", id, missing).WithNode(id)
	}
	return nil
}

// BuildNodeStatus creates a PENDING status for every node.
func (b *Builder) BuildNodeStatus(nodes map[string]*Node) StatusTable {
	return newStatusTable(nodes)
}

// BuildNodeDependencies checks that every reference points upstream. A
// reference leaving an iteration body is resolved against the enclosing run.
func (b *Builder) BuildNodeDependencies(nodes map[string]*Node, chains *Chains) error {
	for _, id := range chains.Order {
		n := nodes[id]
		var upstream map[string]struct{}
		for _, item := range n.Inputs {
			if item.Schema.Value.Type != dsl.ValueTypeRef {
				continue
			}
			ref, ok := item.Schema.Value.Ref()
			if !ok {
				return types.Errorf(types.ErrVariableParse, "node %s input %q has a malformed reference", id, item.Name).WithNode(id)
			}
			if _, local := nodes[ref.NodeID]; !local {
				if b.scope == "" {
					return types.Errorf(types.ErrDSLSchema, "node %s input %q references %s outside the workflow scope", id, item.Name, ref.NodeID).WithNode(id)
				}
				continue
			}
			if upstream == nil {
				upstream = chains.ancestors(id)
			}
			if _, ok := upstream[ref.NodeID]; !ok {
				return types.Errorf(types.ErrDSLSchema, "node %s input %q references %s which is not upstream", id, item.Name, ref.NodeID).WithNode(id)
			}
		}
	}
	return checkHandles(nodes, chains)
}

// checkHandles requires every edge leaving a branching node to name one of
// its branches or the fail branch.
func checkHandles(nodes map[string]*Node, chains *Chains) error {
	for _, id := range chains.Order {
		n := nodes[id]
		if !n.Kind.isBranching() {
			continue
		}
		valid := map[string]struct{}{FailBranchHandle: {}}
		switch p := n.Params.(type) {
		case *IfElseParams:
			for _, c := range p.Cases {
				valid[c.ID] = struct{}{}
			}
		case *DecisionParams:
			for _, in := range p.IntentChains {
				valid[in.ID] = struct{}{}
			}
		}
		for _, e := range chains.Outgoing[id] {
			if _, ok := valid[e.Handle]; !ok {
				return types.Errorf(types.ErrDSLSchema, "edge %s -> %s has unknown branch handle %q", e.Source, e.Target, e.Handle).WithNode(id)
			}
		}
	}
	return nil
}

// BuildMessageDependencies finds, for every streaming end or message node,
// the LLM nodes whose deltas it forwards, in template order. It returns the
// consumer-to-sources map and its inverse.
func (b *Builder) BuildMessageDependencies(nodes map[string]*Node, chains *Chains) (map[string][]string, map[string][]string) {
	msgDeps := make(map[string][]string)
	consumers := make(map[string][]string)
	for _, id := range chains.Order {
		n := nodes[id]
		tpl, ok := streamingTemplate(n)
		if !ok {
			continue
		}
		for _, seg := range parseTemplate(tpl) {
			src, ok := streamSourceOf(nodes, n, seg)
			if !ok {
				continue
			}
			msgDeps[id] = appendUnique(msgDeps[id], src.ID)
			consumers[src.ID] = appendUnique(consumers[src.ID], id)
		}
	}
	return msgDeps, consumers
}

func streamingTemplate(n *Node) (string, bool) {
	switch p := n.Params.(type) {
	case *EndParams:
		return p.Template, p.StreamOutput && p.OutputMode == OutputModePrompt
	case *MessageParams:
		return p.Template, p.StreamOutput
	}
	return "", false
}

// streamSourceOf reports the LLM node a placeholder forwards verbatim: the
// whole placeholder must be an input referencing the LLM's content output.
func streamSourceOf(nodes map[string]*Node, n *Node, seg templateSegment) (*Node, bool) {
	if !seg.isVar || seg.varPath != seg.root() {
		return nil, false
	}
	for _, item := range n.Inputs {
		if item.Name != seg.varPath {
			continue
		}
		ref, ok := item.Schema.Value.Ref()
		if !ok {
			return nil, false
		}
		src, ok := nodes[ref.NodeID]
		if !ok || src.Kind != KindLLM || ref.Name != src.firstOutput("output") {
			return nil, false
		}
		return src, true
	}
	return nil, false
}

func (b *Builder) buildStatic() (*staticGraph, error) {
	chains, err := b.BuildChains()
	if err != nil {
		return nil, err
	}
	nodes, err := b.BuildNodes()
	if err != nil {
		return nil, err
	}
	if err := b.BuildNodeDependencies(nodes, chains); err != nil {
		return nil, err
	}
	msgDeps, consumers := b.BuildMessageDependencies(nodes, chains)
	return &staticGraph{
		flowID:      b.flowID,
		nodes:       nodes,
		chains:      chains,
		messageDeps: msgDeps,
		consumers:   consumers,
	}, nil
}

// Build assembles a single-use Engine.
func (b *Builder) Build() (*Engine, error) {
	g, err := b.buildStatic()
	if err != nil {
		return nil, err
	}
	return &Engine{ec: newEngineContext(g, b.deps, NewVariablePool(), b.depth, nil)}, nil
}

// CreateDebugNode builds only nodeID, for single-node debugging.
func (b *Builder) CreateDebugNode(nodeID string) (*Node, error) {
	def, ok := b.dsl.Node(nodeID)
	if !ok {
		return nil, types.Errorf(types.ErrInvalidRequest, "node %s not found", nodeID)
	}
	return b.buildNode(def)
}

// RunDebugNode builds nodeID alone and executes it with the given inputs.
func (b *Builder) RunDebugNode(ctx context.Context, nodeID string, inputs map[string]any, in RunInput) (NodeRunResult, error) {
	n, err := b.CreateDebugNode(nodeID)
	if err != nil {
		return failedErr(types.Wrap(err, types.ErrInvalidRequest, "build debug node")), err
	}
	return runDebug(ctx, n, inputs, in, b.deps, b.flowID, b.depth)
}
