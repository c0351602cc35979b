package workflow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/flowengine/config"
	"github.com/BaSui01/flowengine/llm"
	"github.com/BaSui01/flowengine/testutil"
	"github.com/BaSui01/flowengine/workflow/dsl"
)

// testDeps returns dependencies with a fresh default config and no
// collaborators; tests add the ones they need.
func testDeps() Dependencies {
	cfg := config.DefaultConfig()
	cfg.LLM.Model = "mock-model"
	return Dependencies{Logger: zap.NewNop(), Config: cfg}
}

func buildEngine(t *testing.T, d *dsl.WorkflowDSL, deps Dependencies) *Engine {
	t.Helper()
	e, err := NewBuilder(d, deps).WithFlowID("flow-test").Build()
	require.NoError(t, err)
	return e
}

func runWorkflow(t *testing.T, d *dsl.WorkflowDSL, deps Dependencies, inputs map[string]any) (*RunResult, error) {
	t.Helper()
	return buildEngine(t, d, deps).Run(testutil.TestContext(t), RunInput{UID: "u1", ChatID: "c1", Inputs: inputs})
}

func streamFrames(t *testing.T, e *Engine, inputs map[string]any) []Frame {
	t.Helper()
	ch := e.Stream(testutil.TestContext(t), RunInput{UID: "u1", ChatID: "c1", Inputs: inputs})
	return testutil.DrainChannel(t, ch, 10*time.Second)
}

// nodeContent concatenates the deltas of the frames emitted for nodeID.
func nodeContent(frames []Frame, nodeID string) string {
	var s string
	for _, f := range frames {
		if f.WorkflowStep.Node != nil && f.WorkflowStep.Node.ID == nodeID && len(f.Choices) > 0 {
			s += f.Choices[0].Delta.Content
		}
	}
	return s
}

// memoryHistory is an in-memory HistoryStore.
type memoryHistory struct {
	mu    sync.Mutex
	turns map[HistoryKey][]llm.Message
}

func newMemoryHistory() *memoryHistory {
	return &memoryHistory{turns: make(map[HistoryKey][]llm.Message)}
}

func (h *memoryHistory) Recent(_ context.Context, key HistoryKey, rounds int) ([]llm.Message, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	msgs := h.turns[key]
	if rounds > 0 && len(msgs) > rounds*2 {
		msgs = msgs[len(msgs)-rounds*2:]
	}
	return append([]llm.Message(nil), msgs...), nil
}

func (h *memoryHistory) Append(_ context.Context, key HistoryKey, msgs ...llm.Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns[key] = append(h.turns[key], msgs...)
	return nil
}

// recordingMetrics counts node and run outcomes.
type recordingMetrics struct {
	mu    sync.Mutex
	nodes map[string]int
	runs  map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{nodes: map[string]int{}, runs: map[string]int{}}
}

func (m *recordingMetrics) RecordNode(kind, status string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodes[kind+"/"+status]++
}

func (m *recordingMetrics) RecordRun(status string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[status]++
}

func (m *recordingMetrics) runCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.runs {
		n += c
	}
	return n
}
