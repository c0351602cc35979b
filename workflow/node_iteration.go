package workflow

import (
	"context"
	"reflect"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/flowengine/types"
)

// runIteration runs the body once per element of the "input" array and
// collects every body output into an array in element order.
func (ec *EngineContext) runIteration(ctx context.Context, n *Node, p *IterationParams, inputs map[string]any) NodeRunResult {
	raw, ok := inputs["input"]
	if !ok && len(n.Inputs) > 0 {
		raw = inputs[n.Inputs[0].Name]
	}
	items, ok := toSlice(raw)
	if !ok {
		return failedErr(types.Errorf(types.ErrIterationExecution, "iteration input must be an array, got %T", raw))
	}
	if limit := ec.deps.Config.Engine.MaxIterationItems; limit > 0 && len(items) > limit {
		return failedErr(types.Errorf(types.ErrIterationExecution, "iteration input has %d items, limit is %d", len(items), limit))
	}

	concurrency := p.Concurrency
	if concurrency <= 0 {
		concurrency = ec.deps.Config.Engine.IterationConcurrency
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	results := make([]*RunResult, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, item := range items {
		g.Go(func() error {
			child := ec.newIterationEngine(n, i, item)
			ec.subEngines.Add(1)
			defer ec.subEngines.Add(-1)

			res, err := child.schedule(gctx, RunInput{
				FlowID:    ec.input.FlowID,
				AppID:     ec.input.AppID,
				UID:       ec.input.UID,
				ChatID:    ec.input.ChatID,
				SessionID: ec.input.SessionID,
				History:   ec.input.History,
			}, ec.emit)
			if res != nil {
				ec.addUsage(&res.Usage)
			}
			if err != nil {
				return types.Errorf(types.ErrIterationExecution, "iteration %s failed at element %d", n.ID, i).WithCause(err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return failed(err, types.ErrIterationExecution, "iteration failed")
	}
	ec.logger.Debug("iteration finished", zap.String("node_id", n.ID), zap.Int("items", len(items)))

	outputs := make(map[string]any, len(n.Outputs))
	for _, o := range n.Outputs {
		col := make([]any, len(results))
		for i, r := range results {
			col[i] = r.Outputs[o.Name]
		}
		outputs[o.Name] = col
	}
	return succeeded(outputs)
}

// newIterationEngine instantiates the body for one element. The child pool
// resolves references to enclosing nodes through this run's pool.
func (ec *EngineContext) newIterationEngine(n *Node, index int, item any) *Engine {
	child := newEngineContext(n.body, ec.deps, ec.Pool.Child(), ec.depth, ec)
	child.iterItem = item
	child.iterIndex = index
	return &Engine{ec: child}
}

func toSlice(v any) ([]any, bool) {
	if s, ok := v.([]any); ok {
		return s, true
	}
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}
