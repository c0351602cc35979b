package workflow

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/flowengine/llm"
	"github.com/BaSui01/flowengine/types"
)

func TestStartConsumer_PreservesOrder(t *testing.T) {
	var mu sync.Mutex
	var got []string
	emit, stop := startConsumer(context.Background(), 4, func(ev CallbackEvent) {
		mu.Lock()
		got = append(got, ev.Content)
		mu.Unlock()
	})

	want := make([]string, 100)
	for i := range want {
		want[i] = string(rune('a' + i%26))
		emit(CallbackEvent{Type: EventNodeToken, Content: want[i]})
	}
	stop()

	assert.Equal(t, want, got)
}

func TestStartConsumer_EmitAfterStopIsDropped(t *testing.T) {
	count := 0
	emit, stop := startConsumer(context.Background(), 1, func(CallbackEvent) { count++ })
	emit(CallbackEvent{Type: EventNodeStart})
	stop()
	stop()
	emit(CallbackEvent{Type: EventNodeStart})
	assert.Equal(t, 1, count)
}

func TestStartConsumer_CancelledContextUnblocksEmit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	block := make(chan struct{})
	emit, stop := startConsumer(ctx, 1, func(CallbackEvent) { <-block })

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 5; i++ {
			emit(CallbackEvent{Type: EventNodeToken})
		}
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("emit blocked after cancellation")
	}
	close(block)
	stop()
}

func TestFrameRenderer_NodeLifecycle(t *testing.T) {
	r := newFrameRenderer("sid-1", 2)
	r.now = func() time.Time { return time.Unix(100, 0) }

	f := r.render(CallbackEvent{Type: EventNodeStart, NodeID: "spark-llm::1", AliasName: "LLM"})
	assert.Equal(t, 1, f.WorkflowStep.Seq)
	assert.Equal(t, "spark-llm::1", f.WorkflowStep.Node.ID)
	assert.Equal(t, int64(100), f.Created)
	assert.Equal(t, "sid-1", f.ID)

	f = r.render(CallbackEvent{Type: EventNodeToken, NodeID: "spark-llm::1", Content: "tok"})
	assert.Equal(t, "tok", f.Choices[0].Delta.Content)
	assert.Equal(t, string(llm.RoleAssistant), f.Choices[0].Delta.Role)

	usage := llm.ChatUsage{TotalTokens: 3}
	f = r.render(CallbackEvent{Type: EventNodeEnd, NodeID: "spark-llm::1", Outputs: map[string]any{"output": "tok"}, Usage: &usage, Elapsed: time.Second})
	assert.Equal(t, FinishReasonStop, f.WorkflowStep.Node.FinishReason)
	assert.Equal(t, 0.5, f.WorkflowStep.Progress)
	assert.Equal(t, 1.0, f.WorkflowStep.Node.ExecutedTime)
	assert.Equal(t, &usage, f.WorkflowStep.Node.Usage)
	assert.False(t, f.IsTerminal())

	f = r.render(CallbackEvent{Type: EventNodeError, NodeID: "ifly-code::2", Err: types.NewError(types.ErrCodeExecution, "bad").WithCause(assert.AnError)})
	assert.Equal(t, FinishReasonError, f.WorkflowStep.Node.FinishReason)
	assert.Equal(t, int(types.ErrCodeExecution), f.WorkflowStep.Node.ErrorOutputs["code"])
	assert.Contains(t, f.WorkflowStep.Node.ErrorOutputs["message"], "bad")
	assert.Equal(t, 1.0, f.WorkflowStep.Progress)
}

func TestFrameRenderer_Interrupt(t *testing.T) {
	r := newFrameRenderer("sid", 1)
	f := r.render(CallbackEvent{
		Type:   EventInterrupt,
		NodeID: "question-answer::1",
		Interrupt: &InterruptInfo{
			EventID:    "ev-1",
			Question:   "which one?",
			AnswerType: "option",
			Options:    []QAOption{{ID: "A", Content: "first"}},
			NeedReply:  true,
		},
	})
	require.NotNil(t, f.EventData)
	assert.Equal(t, "ev-1", f.EventData.EventID)
	assert.Equal(t, string(EventInterrupt), f.EventData.EventType)
	assert.Equal(t, "option", f.EventData.Value.Type)
	assert.Equal(t, FinishReasonInterrupt, f.Choices[0].FinishReason)
	assert.Equal(t, "which one?", f.Choices[0].Delta.Content)
	assert.False(t, f.IsTerminal())
}

func TestFrameRenderer_Final(t *testing.T) {
	r := newFrameRenderer("sid", 3)

	f := r.final(&RunResult{Content: "answer", Usage: llm.ChatUsage{TotalTokens: 7}}, nil)
	assert.True(t, f.IsTerminal())
	assert.Equal(t, 0, f.Code)
	assert.Equal(t, "answer", f.Choices[0].Delta.Content)
	assert.Equal(t, 7, f.Usage.TotalTokens)
	assert.Equal(t, 1.0, f.WorkflowStep.Progress)

	f = r.final(&RunResult{Content: "answer", streamed: true}, nil)
	assert.Empty(t, f.Choices[0].Delta.Content, "streamed content is not repeated")

	f = r.final(nil, types.NewError(types.ErrNodeTimeout, "too slow"))
	assert.True(t, f.IsTerminal())
	assert.Equal(t, int(types.ErrNodeTimeout), f.Code)
	assert.Equal(t, "too slow", f.Message)
}

func TestWriteSSE(t *testing.T) {
	frames := make(chan Frame, 2)
	r := newFrameRenderer("sid", 1)
	frames <- r.render(CallbackEvent{Type: EventNodeStart, NodeID: "node-start::1"})
	frames <- r.final(&RunResult{Content: "ok"}, nil)
	close(frames)

	rec := httptest.NewRecorder()
	require.NoError(t, WriteSSE(rec, frames))
	assert.True(t, rec.Flushed)

	body := rec.Body.String()
	require.True(t, strings.HasSuffix(body, "data: [DONE]\n\n"))
	parts := strings.Split(strings.TrimSuffix(body, "\n\n"), "\n\n")
	require.Len(t, parts, 3)

	var last Frame
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(parts[1], "data: ")), &last))
	assert.True(t, last.IsTerminal())
	assert.Equal(t, "ok", last.Choices[0].Delta.Content)
}
