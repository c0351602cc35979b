package workflow

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/flowengine/internal/ctxkeys"
	"github.com/BaSui01/flowengine/llm"
	"github.com/BaSui01/flowengine/llm/retry"
	"github.com/BaSui01/flowengine/types"
	"github.com/BaSui01/flowengine/workflow/dsl"
)

// RunInput is the caller request of one run.
type RunInput struct {
	FlowID    string
	AppID     string
	UID       string
	ChatID    string
	SessionID string
	Inputs    map[string]any
	History   []llm.Message
}

// RunResult is the outcome of one run.
type RunResult struct {
	SessionID        string
	RunID            string
	Content          string
	ReasoningContent string
	Outputs          map[string]any
	NodeStatus       map[string]NodeStatus
	Usage            llm.ChatUsage
	Trace            *ExecutionTrace

	streamed bool
}

// staticGraph is the immutable part of a built (sub)workflow. Iterations
// instantiate it once per element.
type staticGraph struct {
	flowID      string
	nodes       map[string]*Node
	chains      *Chains
	messageDeps map[string][]string
	consumers   map[string][]string
}

// EngineContext is the mutable state of one run of one (sub)workflow.
type EngineContext struct {
	FlowID string
	Nodes  map[string]*Node
	Chains *Chains
	Pool   *VariablePool
	Status StatusTable
	// MessageDeps maps a streaming end/message node to the LLM nodes whose
	// deltas it forwards, in template order.
	MessageDeps map[string][]string
	// StreamConsumers is the inverse of MessageDeps.
	StreamConsumers map[string][]string

	streams    map[string]*streamBuffer
	deps       Dependencies
	strategies *StrategyManager
	depth      int
	parent     *EngineContext
	qaMu       *sync.Mutex
	subEngines atomic.Int32

	// 迭代体实例的当前元素
	iterItem  any
	iterIndex int

	input  RunInput
	runID  string
	emit   emitter
	trace  *ExecutionTrace
	logger *zap.Logger

	mu       sync.Mutex
	firstErr *types.Error
	usage    llm.ChatUsage
	final    *NodeRunResult
}

func newEngineContext(g *staticGraph, deps Dependencies, pool *VariablePool, depth int, parent *EngineContext) *EngineContext {
	ec := &EngineContext{
		FlowID:          g.flowID,
		Nodes:           g.nodes,
		Chains:          g.chains,
		Pool:            pool,
		Status:          newStatusTable(g.nodes),
		MessageDeps:     g.messageDeps,
		StreamConsumers: g.consumers,
		streams:         make(map[string]*streamBuffer),
		deps:            deps,
		strategies:      NewStrategyManager(),
		depth:           depth,
		parent:          parent,
		emit:            discardEvents,
		logger:          deps.Logger.With(zap.String("component", "workflow_engine")),
	}
	if parent != nil {
		ec.qaMu = parent.qaMu
		ec.strategies = parent.strategies
	} else {
		ec.qaMu = &sync.Mutex{}
	}
	for id, n := range g.nodes {
		pool.AddInputs(n)
		if n.Kind == KindLLM {
			ec.streams[id] = newStreamBuffer()
		}
	}
	return ec
}

func newStatusTable(nodes map[string]*Node) StatusTable {
	t := make(StatusTable, len(nodes))
	for id := range nodes {
		t[id] = newNodeRunStatus()
	}
	return t
}

// begin attaches the per-run request state.
func (ec *EngineContext) begin(in RunInput, emit emitter) {
	if emit == nil {
		emit = discardEvents
	}
	ec.input = in
	ec.runID = uuid.NewString()
	ec.emit = emit
	ec.trace = NewExecutionTrace(ec.runID, in.FlowID, in.SessionID)
	ec.logger = ec.logger.With(zap.String("run_id", ec.runID), zap.String("flow_id", in.FlowID))
}

// Strategies exposes the strategy manager, e.g. to register a custom strategy.
func (ec *EngineContext) Strategies() *StrategyManager { return ec.strategies }

// ActiveSubEngines returns the number of iteration element engines running.
func (ec *EngineContext) ActiveSubEngines() int { return int(ec.subEngines.Load()) }

func (ec *EngineContext) flowID() string {
	if ec.input.FlowID != "" {
		return ec.input.FlowID
	}
	return ec.FlowID
}

// lookupStatus finds the status of id in this scope or an enclosing one.
func (ec *EngineContext) lookupStatus(id string) (*NodeRunStatus, bool) {
	for cur := ec; cur != nil; cur = cur.parent {
		if st, ok := cur.Status[id]; ok {
			return st, true
		}
	}
	return nil, false
}

// isInactive reports whether id ended without producing outputs.
func (ec *EngineContext) isInactive(id string) bool {
	st, ok := ec.lookupStatus(id)
	if !ok {
		return false
	}
	s := st.Status()
	return s == StatusSkipped || s == StatusFailed
}

func (ec *EngineContext) isStreamSource(consumer, source string) bool {
	for _, s := range ec.MessageDeps[consumer] {
		if s == source {
			return true
		}
	}
	return false
}

// recordFailure keeps the first failure in completion order.
func (ec *EngineContext) recordFailure(err *types.Error) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	if ec.firstErr == nil {
		ec.firstErr = err
	}
}

func (ec *EngineContext) runError() error {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	if ec.firstErr == nil {
		return nil
	}
	return ec.firstErr
}

func (ec *EngineContext) addUsage(u *llm.ChatUsage) {
	if u == nil {
		return
	}
	ec.mu.Lock()
	ec.usage.Add(u)
	ec.mu.Unlock()
}

func (ec *EngineContext) result() *RunResult {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	res := &RunResult{
		SessionID:  ec.input.SessionID,
		RunID:      ec.runID,
		Outputs:    map[string]any{},
		NodeStatus: ec.Status.Snapshot(),
		Usage:      ec.usage,
		Trace:      ec.trace,
	}
	if ec.final != nil {
		res.Content = ec.final.Content
		res.ReasoningContent = ec.final.ReasoningContent
		res.Outputs = ec.final.Outputs
		res.streamed = ec.final.Streamed
	}
	return res
}

// =============================================================================
// Engine
// =============================================================================

// Engine runs one built workflow once.
type Engine struct {
	ec      *EngineContext
	started atomic.Bool
}

// Context returns the engine context.
func (e *Engine) Context() *EngineContext { return e.ec }

// Run executes the workflow and returns its result. Node events are dropped.
func (e *Engine) Run(ctx context.Context, in RunInput) (*RunResult, error) {
	return e.execute(ctx, in, nil)
}

// Stream executes the workflow and returns the frame stream. The last frame
// is always the terminal frame carrying the run's code.
func (e *Engine) Stream(ctx context.Context, in RunInput) <-chan Frame {
	if in.SessionID == "" {
		in.SessionID = newSessionID()
	}
	out := make(chan Frame, 16)
	go func() {
		defer close(out)
		r := newFrameRenderer(in.SessionID, len(e.ec.Nodes))
		send := func(f Frame) {
			select {
			case out <- f:
			case <-ctx.Done():
			}
		}
		res, err := e.execute(ctx, in, func(ev CallbackEvent) { send(r.render(ev)) })
		send(r.final(res, err))
	}()
	return out
}

func (e *Engine) execute(ctx context.Context, in RunInput, handle func(CallbackEvent)) (*RunResult, error) {
	emit, stop := startConsumer(ctx, e.ec.deps.Config.Engine.CallbackBuffer, handle)
	res, err := e.schedule(ctx, in, emit)
	stop()
	return res, err
}

// RunNode executes a single node with caller-supplied inputs, for debugging.
// Inputs override the node's declared input values by name.
func (e *Engine) RunNode(ctx context.Context, nodeID string, inputs map[string]any, in RunInput) (NodeRunResult, error) {
	n, ok := e.ec.Nodes[nodeID]
	if !ok {
		err := types.Errorf(types.ErrInvalidRequest, "node %s not found", nodeID)
		return failedErr(err), err
	}
	return runDebug(ctx, n, inputs, in, e.ec.deps, e.ec.FlowID, e.ec.depth)
}

func runDebug(ctx context.Context, n *Node, inputs map[string]any, in RunInput, deps Dependencies, flowID string, depth int) (NodeRunResult, error) {
	dbg, derr := debugNode(n, inputs)
	if derr != nil {
		return failedErr(derr), derr
	}
	g := &staticGraph{
		flowID: flowID,
		nodes:  map[string]*Node{dbg.ID: dbg},
		chains: &Chains{
			StartNodeID:     dbg.ID,
			TerminalNodeIDs: []string{dbg.ID},
			Predecessors:    map[string][]string{},
			Successors:      map[string][]string{},
			Incoming:        map[string][]Edge{},
			Outgoing:        map[string][]Edge{},
			Order:           []string{dbg.ID},
		},
		messageDeps: map[string][]string{},
		consumers:   map[string][]string{},
	}
	dc := newEngineContext(g, deps, NewVariablePool(), depth, nil)
	if in.SessionID == "" {
		in.SessionID = newSessionID()
	}
	if in.FlowID == "" {
		in.FlowID = flowID
	}
	dc.begin(in, discardEvents)
	res := dc.strategies.Select(dbg.Kind).ExecuteNode(ctx, dc, dbg)
	if res.Kind == ResultFailed || res.Kind == ResultInterrupted {
		return res, res.Err
	}
	return res, nil
}

// debugNode copies n with every input turned into a literal.
func debugNode(n *Node, inputs map[string]any) (*Node, *types.Error) {
	cp := *n
	cp.Inputs = make([]dsl.InputItem, len(n.Inputs))
	for i, item := range n.Inputs {
		if v, ok := inputs[item.Name]; ok {
			item.Schema.Value = dsl.ValueDef{Type: dsl.ValueTypeLiteral, Content: v}
		} else if item.Schema.Value.Type == dsl.ValueTypeRef {
			return nil, types.Errorf(types.ErrVariableNotFound, "debug input %q of node %s is missing", item.Name, n.ID).WithNode(n.ID)
		}
		cp.Inputs[i] = item
	}
	return &cp, nil
}

// schedule starts one task per node and waits for all of them.
func (e *Engine) schedule(ctx context.Context, in RunInput, emit emitter) (*RunResult, error) {
	if !e.started.CompareAndSwap(false, true) {
		return nil, types.NewError(types.ErrInvalidRequest, "engine has already run, build a new one per run")
	}
	ec := e.ec
	if in.SessionID == "" {
		in.SessionID = newSessionID()
	}
	if in.FlowID == "" {
		in.FlowID = ec.FlowID
	}
	if ec.parent == nil && ec.depth == 0 && ec.deps.Config.Engine.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, ec.deps.Config.Engine.RunTimeout)
		defer cancel()
	}
	ec.begin(in, emit)
	ctx = ctxkeys.WithRun(ctx, ec.runID, in.FlowID)

	ctx, span := ec.deps.Tracer.Start(ctx, "workflow.run", trace.WithAttributes(
		attribute.String("workflow.flow_id", in.FlowID),
		attribute.String("workflow.run_id", ec.runID),
		attribute.String("workflow.session_id", in.SessionID),
		attribute.Int("workflow.depth", ec.depth),
	))
	defer span.End()

	start := time.Now()
	ec.logger.Info("workflow run started",
		zap.String("session_id", in.SessionID),
		zap.Int("nodes", len(ec.Nodes)),
	)

	var wg sync.WaitGroup
	for _, id := range ec.Chains.Order {
		n := ec.Nodes[id]
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.runNode(ctx, n)
		}()
	}
	// 某节点失败后，已启动的兄弟节点继续执行完毕；运行错误取第一个失败节点
	wg.Wait()

	err := ec.runError()
	res := ec.result()
	ec.trace.Complete(err)
	elapsed := time.Since(start)

	if err != nil {
		if ec.parent == nil {
			ec.deps.Metrics.RecordRun(string(StatusFailed), elapsed)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		ec.logger.Warn("workflow run failed", zap.Duration("duration", elapsed), zap.Error(err))
		return res, err
	}
	if ec.parent == nil {
		ec.deps.Metrics.RecordRun(string(StatusSucceeded), elapsed)
	}
	ec.logger.Info("workflow run completed", zap.Duration("duration", elapsed))
	return res, nil
}

// runNode waits for the predecessors of n and then runs or skips it.
func (e *Engine) runNode(ctx context.Context, n *Node) {
	ec := e.ec
	for _, p := range ec.Chains.Predecessors[n.ID] {
		sig := ec.Status[p].Complete()
		if ec.isStreamSource(n.ID, p) {
			sig = ec.Status[p].Processing()
		}
		select {
		case <-sig:
		case <-ctx.Done():
			ec.abandon(ctx, n)
			return
		}
	}

	if n.ID != ec.Chains.StartNodeID && !ec.hasActiveIncoming(n.ID) {
		ec.skip(n)
		return
	}
	// 运行已失败时不再启动新节点；失败流的下游照常启动，随源节点失败
	if ec.runError() != nil && !ec.hasFailedStreamSource(n.ID) {
		ec.skip(n)
		return
	}
	ec.strategies.Select(n.Kind).ExecuteNode(ctx, ec, n)
}

func (ec *EngineContext) hasFailedStreamSource(id string) bool {
	for _, src := range ec.MessageDeps[id] {
		if st, ok := ec.Status[src]; ok && st.Status() == StatusFailed {
			return true
		}
	}
	return false
}

func (ec *EngineContext) hasActiveIncoming(id string) bool {
	for _, edge := range ec.Chains.Incoming[id] {
		if ec.Status[edge.Source].activates(edge.Handle, ec.isStreamSource(id, edge.Source)) {
			return true
		}
	}
	return false
}

func (ec *EngineContext) skip(n *Node) {
	rec := ec.trace.RecordNodeStart(n.ID, n.Kind)
	ec.trace.RecordNodeEnd(rec, StatusSkipped, NodeRunResult{Kind: ResultSkipped}, 0)
	if buf, ok := ec.streams[n.ID]; ok {
		buf.close(nil)
	}
	ec.Status[n.ID].finish(StatusSkipped, nil, nil)
	ec.deps.Metrics.RecordNode(string(n.Kind), string(StatusSkipped), 0)
	ec.logger.Debug("node skipped", zap.String("node_id", n.ID))
}

// abandon fails a node that was still waiting when the run was cancelled.
func (ec *EngineContext) abandon(ctx context.Context, n *Node) {
	err := contextFailure(ctx, n.ID)
	ec.recordFailure(err)
	if buf, ok := ec.streams[n.ID]; ok {
		buf.close(err)
	}
	ec.Status[n.ID].finish(StatusFailed, nil, err)
}

func contextFailure(ctx context.Context, nodeID string) *types.Error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return types.Errorf(types.ErrNodeTimeout, "node %s exceeded its deadline", nodeID).WithCause(ctx.Err()).WithNode(nodeID)
	}
	return types.Errorf(types.ErrInternal, "node %s cancelled", nodeID).WithCause(ctx.Err()).WithNode(nodeID)
}

// =============================================================================
// Node invocation
// =============================================================================

// invoke runs n to a terminal state: inputs, retries, timeout, error
// strategy, pool write and signalling, in that order.
func (ec *EngineContext) invoke(ctx context.Context, n *Node) NodeRunResult {
	st := ec.Status[n.ID]
	logger := ec.logger.With(zap.String("node_id", n.ID), zap.String("node_type", string(n.Kind)))

	ctx = ctxkeys.WithNodeID(ctx, n.ID)
	ctx, span := ec.deps.Tracer.Start(ctx, "workflow.node", trace.WithAttributes(
		attribute.String("workflow.node_id", n.ID),
		attribute.String("workflow.node_type", string(n.Kind)),
		attribute.String("workflow.run_id", ec.runID),
	))
	defer span.End()

	st.markRunning()
	rec := ec.trace.RecordNodeStart(n.ID, n.Kind)
	ec.emit(CallbackEvent{Type: EventNodeStart, NodeID: n.ID, NodeKind: n.Kind, AliasName: n.AliasName})
	logger.Debug("node started")

	res, attempts := ec.execute(ctx, n, logger)
	res = ec.applyErrorStrategy(n, res, logger)
	// 先记录轨迹再释放完成信号，后继节点的开始时间不会早于本节点的结束时间
	ec.trace.RecordNodeEnd(rec, res.Kind.nodeStatus(), res, attempts)
	status := ec.complete(n, res)
	elapsed := st.Duration()
	ec.deps.Metrics.RecordNode(string(n.Kind), string(status), elapsed)

	ev := CallbackEvent{
		NodeID:    n.ID,
		NodeKind:  n.Kind,
		AliasName: n.AliasName,
		Inputs:    res.Inputs,
		Outputs:   res.Outputs,
		Usage:     res.Usage,
		Elapsed:   elapsed,
	}
	if status == StatusFailed {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.Err.Message)
		logger.Warn("node failed", zap.Int("attempts", attempts), zap.Error(res.Err))
		ev.Type = EventNodeError
		ev.Err = res.Err
	} else {
		logger.Debug("node finished", zap.Duration("duration", elapsed))
		ev.Type = EventNodeEnd
		if n.Kind == KindMessage && !res.Streamed {
			ev.Content = res.Content
			ev.ReasoningContent = res.ReasoningContent
		}
	}
	ec.emit(ev)
	return res
}

// execute resolves inputs and runs the node executor, retrying as
// configured. It returns the last result and the number of attempts.
func (ec *EngineContext) execute(ctx context.Context, n *Node, logger *zap.Logger) (NodeRunResult, int) {
	var inputs map[string]any
	if n.Kind != KindEnd && n.Kind != KindMessage {
		var err error
		inputs, err = ec.resolveInputs(n)
		if err != nil {
			return failed(err, types.ErrVariableNotFound, "resolve inputs").withInputs(inputs), 1
		}
	}

	timeout := ec.nodeTimeout(n)
	policy := ec.retryPolicy(n)
	if policy == nil {
		return ec.runGuarded(ctx, n, inputs, timeout), 1
	}

	var res NodeRunResult
	attempts := 0
	_ = retry.NewBackoffRetryer(policy, logger).Do(ctx, func(int) error {
		attempts++
		res = ec.runGuarded(ctx, n, inputs, timeout)
		if res.Kind != ResultFailed {
			return nil
		}
		if res.noRetry {
			return retry.Permanent(res.Err)
		}
		return res.Err
	})
	return res, attempts
}

func (ec *EngineContext) resolveInputs(n *Node) (map[string]any, error) {
	out := make(map[string]any, len(n.Inputs))
	for _, item := range n.Inputs {
		if ref, ok := item.Schema.Value.Ref(); ok && ec.isInactive(ref.NodeID) {
			out[item.Name] = nil
			continue
		}
		v, err := ec.Pool.GetVariable(n.ID, item.Name)
		if err != nil {
			return out, err
		}
		out[item.Name] = v
	}
	return out, nil
}

// waitInput resolves one input of n, first waiting for its producer when
// that producer belongs to this run and has not finished yet.
func (ec *EngineContext) waitInput(ctx context.Context, n *Node, name string) (any, error) {
	for _, item := range n.Inputs {
		if item.Name != name {
			continue
		}
		if ref, ok := item.Schema.Value.Ref(); ok {
			if st, ok := ec.lookupStatus(ref.NodeID); ok {
				select {
				case <-st.Complete():
				case <-ctx.Done():
					return nil, contextFailure(ctx, n.ID)
				}
				if ec.isInactive(ref.NodeID) {
					return nil, nil
				}
			}
		}
		return ec.Pool.GetVariable(n.ID, name)
	}
	return nil, types.Errorf(types.ErrVariableNotFound, "input %q of node %s is not declared", name, n.ID).WithNode(n.ID)
}

// waitInputs resolves every input of n with waitInput.
func (ec *EngineContext) waitInputs(ctx context.Context, n *Node) (map[string]any, error) {
	out := make(map[string]any, len(n.Inputs))
	for _, item := range n.Inputs {
		v, err := ec.waitInput(ctx, n, item.Name)
		if err != nil {
			return out, err
		}
		out[item.Name] = v
	}
	return out, nil
}

// nodeTimeout prefers the node's retryConfig timeout. The engine default only
// applies to nodes calling an external collaborator.
func (ec *EngineContext) nodeTimeout(n *Node) time.Duration {
	if n.Retry != nil && n.Retry.Timeout > 0 {
		return seconds(n.Retry.Timeout)
	}
	switch n.Kind {
	case KindLLM, KindKnowledge, KindCode, KindDecision:
		return ec.deps.Config.Engine.NodeTimeout
	}
	return 0
}

func (ec *EngineContext) retryPolicy(n *Node) *retry.RetryPolicy {
	switch n.Kind {
	case KindLLM, KindKnowledge, KindCode, KindDecision, KindFlow:
	default:
		return nil
	}
	if n.Retry != nil {
		if !n.Retry.ShouldRetry || n.Retry.MaxRetries <= 0 {
			return nil
		}
		interval := seconds(n.Retry.RetryInterval)
		return &retry.RetryPolicy{
			MaxRetries:   n.Retry.MaxRetries,
			InitialDelay: interval,
			MaxDelay:     interval,
			Multiplier:   1,
		}
	}
	if (n.Kind == KindLLM || n.Kind == KindDecision) && ec.deps.Config.LLM.MaxRetries > 0 {
		return &retry.RetryPolicy{
			MaxRetries:   ec.deps.Config.LLM.MaxRetries,
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     5 * time.Second,
			Multiplier:   2,
			Jitter:       true,
			ShouldRetry:  types.IsRetryable,
		}
	}
	return nil
}

// runGuarded runs one attempt under the node timeout and converts panics
// into failures. A node whose executor ignores cancellation is still
// reported at its deadline.
func (ec *EngineContext) runGuarded(ctx context.Context, n *Node, inputs map[string]any, timeout time.Duration) NodeRunResult {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	done := make(chan NodeRunResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ec.logger.Error("node panicked",
					zap.String("node_id", n.ID),
					zap.Any("panic", r),
					zap.ByteString("stack", debug.Stack()),
				)
				done <- failedErr(types.Errorf(types.ErrInternal, "node %s panicked: %v", n.ID, r)).withInputs(inputs)
			}
		}()
		done <- ec.dispatch(ctx, n, inputs)
	}()

	select {
	case res := <-done:
		if res.Kind == ResultFailed && ctx.Err() != nil && !res.Err.Code.IsTimeout() {
			cause := res.Err
			res.Err = contextFailure(ctx, n.ID)
			res.Err.Cause = cause
		}
		return res
	case <-ctx.Done():
		return failedErr(contextFailure(ctx, n.ID)).withInputs(inputs)
	}
}

// dispatch calls the executor of the node's kind.
func (ec *EngineContext) dispatch(ctx context.Context, n *Node, inputs map[string]any) NodeRunResult {
	var res NodeRunResult
	switch p := n.Params.(type) {
	case *StartParams:
		res = ec.runStart(n)
	case *IterationStartParams:
		res = ec.runIterationStart(n)
	case *EndParams:
		res = ec.runEnd(ctx, n, p)
	case *MessageParams:
		res = ec.runMessage(ctx, n, p)
	case *IterationEndParams:
		res = ec.runIterationEnd(n, p, inputs)
	case *LLMParams:
		res = ec.runLLM(ctx, n, p, inputs)
	case *KnowledgeParams:
		res = ec.runKnowledge(ctx, n, p, inputs)
	case *CodeParams:
		res = ec.runCode(ctx, n, p, inputs)
	case *FlowParams:
		res = ec.runFlow(ctx, n, p, inputs)
	case *TextJoinerParams:
		res = ec.runTextJoiner(n, p, inputs)
	case *IfElseParams:
		res = ec.runIfElse(n, p, inputs)
	case *DecisionParams:
		res = ec.runDecision(ctx, n, p, inputs)
	case *QuestionAnswerParams:
		res = ec.runQuestionAnswer(ctx, n, p, inputs)
	case *IterationParams:
		res = ec.runIteration(ctx, n, p, inputs)
	default:
		res = failedErr(types.Errorf(types.ErrNodeTypeUnknown, "no executor for node %s (%s)", n.ID, n.Kind))
	}
	if res.Inputs == nil {
		res.Inputs = inputs
	}
	if res.Err != nil && res.Err.NodeID == "" {
		res.Err.NodeID = n.ID
	}
	return res
}

// applyErrorStrategy turns a failure into a success when the node is
// configured to continue with custom values or through its fail branch.
func (ec *EngineContext) applyErrorStrategy(n *Node, res NodeRunResult, logger *zap.Logger) NodeRunResult {
	if res.Kind != ResultFailed || n.Kind == KindStart || n.Kind == KindEnd {
		return res
	}
	strategy := n.errorStrategy()
	if strategy == dsl.ErrorStrategyFail {
		return res
	}

	outputs := map[string]any{
		"errorCode":    int(res.Err.Code),
		"errorMessage": frameMessage(res.Err),
	}
	out := succeeded(outputs)
	out.Inputs = res.Inputs
	out.Usage = res.Usage

	switch strategy {
	case dsl.ErrorStrategyCustomValue:
		for _, o := range n.Outputs {
			if v, ok := n.Retry.CustomOutput[o.Name]; ok {
				outputs[o.Name] = v
			} else if _, set := outputs[o.Name]; !set {
				outputs[o.Name] = o.Schema.Default
			}
		}
	case dsl.ErrorStrategyFailBranch:
		out.Handles = []string{FailBranchHandle}
	default:
		return res
	}
	logger.Warn("node failure handled by error strategy",
		zap.Int("error_strategy", strategy),
		zap.Error(res.Err),
	)
	return out
}

// complete publishes the result: outputs are written to the pool before the
// complete signal is released.
func (ec *EngineContext) complete(n *Node, res NodeRunResult) NodeStatus {
	st := ec.Status[n.ID]
	buf := ec.streams[n.ID]

	switch res.Kind {
	case ResultSucceeded:
		ec.Pool.SetOutputs(n.ID, res.Outputs)
		ec.addUsage(res.Usage)
		if n.Kind.isTerminal() {
			ec.mu.Lock()
			if ec.final == nil {
				r := res
				ec.final = &r
			}
			ec.mu.Unlock()
		}
		if buf != nil {
			buf.close(nil)
		}
		st.finish(StatusSucceeded, res.Handles, nil)
		return StatusSucceeded
	case ResultSkipped:
		if buf != nil {
			buf.close(nil)
		}
		st.finish(StatusSkipped, nil, nil)
		return StatusSkipped
	default:
		ec.addUsage(res.Usage)
		ec.recordFailure(res.Err)
		if buf != nil {
			buf.close(res.Err)
		}
		st.finish(StatusFailed, nil, res.Err)
		return StatusFailed
	}
}

func (r NodeRunResult) withInputs(inputs map[string]any) NodeRunResult {
	r.Inputs = inputs
	return r
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func newSessionID() string {
	return ulid.Make().String()
}
