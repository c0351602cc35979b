package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/BaSui01/flowengine/llm"
	"github.com/BaSui01/flowengine/types"
)

// =============================================================================
// Callback events
// =============================================================================

// CallbackEventType defines the type of node-level event.
type CallbackEventType string

const (
	// EventNodeStart is emitted when a node begins running.
	EventNodeStart CallbackEventType = "node_start"
	// EventNodeToken is emitted for every streamed delta of a visible node.
	EventNodeToken CallbackEventType = "node_token"
	// EventNodeEnd is emitted after a node succeeded.
	EventNodeEnd CallbackEventType = "node_end"
	// EventNodeError is emitted when a node failed.
	EventNodeError CallbackEventType = "node_error"
	// EventInterrupt is emitted when a node pauses for user input.
	EventInterrupt CallbackEventType = "interrupt"
)

// InterruptInfo describes a pending question.
type InterruptInfo struct {
	EventID    string     `json:"event_id"`
	Question   string     `json:"question"`
	AnswerType string     `json:"answer_type"`
	Options    []QAOption `json:"options,omitempty"`
	NeedReply  bool       `json:"need_reply"`
}

// CallbackEvent is pushed by node tasks and drained by one consumer.
type CallbackEvent struct {
	Type             CallbackEventType
	NodeID           string
	NodeKind         NodeKind
	AliasName        string
	Content          string
	ReasoningContent string
	Inputs           map[string]any
	Outputs          map[string]any
	Usage            *llm.ChatUsage
	Err              *types.Error
	Interrupt        *InterruptInfo
	Elapsed          time.Duration
}

// emitter delivers one event. It never blocks past the run's cancellation.
type emitter func(CallbackEvent)

func discardEvents(CallbackEvent) {}

// startConsumer starts the single consumer goroutine that hands events to
// handle in arrival order. stop closes the channel and waits for the drain.
func startConsumer(ctx context.Context, buffer int, handle func(CallbackEvent)) (emit emitter, stop func()) {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan CallbackEvent, buffer)
	done := make(chan struct{})
	var mu sync.RWMutex
	closed := false

	go func() {
		defer close(done)
		for ev := range ch {
			if handle != nil {
				handle(ev)
			}
		}
	}()

	emit = func(ev CallbackEvent) {
		mu.RLock()
		defer mu.RUnlock()
		if closed {
			return
		}
		select {
		case ch <- ev:
		case <-ctx.Done():
		}
	}
	stop = func() {
		mu.Lock()
		if !closed {
			closed = true
			close(ch)
		}
		mu.Unlock()
		<-done
	}
	return emit, stop
}

// =============================================================================
// Frames
// =============================================================================

// 帧结束原因
const (
	FinishReasonStop      = "stop"
	FinishReasonInterrupt = "interrupt"
	FinishReasonError     = "error"
)

// Frame is one caller-facing stream message.
type Frame struct {
	Code         int            `json:"code"`
	Message      string         `json:"message"`
	ID           string         `json:"id"`
	Created      int64          `json:"created"`
	EventData    *EventData     `json:"event_data,omitempty"`
	WorkflowStep WorkflowStep   `json:"workflow_step"`
	Choices      []Choice       `json:"choices"`
	Usage        *llm.ChatUsage `json:"usage,omitempty"`
}

// IsTerminal reports whether f is the last frame of a run.
func (f Frame) IsTerminal() bool {
	return len(f.Choices) > 0 && f.Choices[0].FinishReason == FinishReasonStop && f.EventData == nil && f.WorkflowStep.Node == nil
}

// WorkflowStep locates a frame in the run.
type WorkflowStep struct {
	Node     *StepNode `json:"node,omitempty"`
	Seq      int       `json:"seq"`
	Progress float64   `json:"progress"`
}

// StepNode describes the node a frame belongs to.
type StepNode struct {
	ID           string         `json:"id"`
	AliasName    string         `json:"alias_name"`
	FinishReason string         `json:"finish_reason,omitempty"`
	Inputs       map[string]any `json:"inputs,omitempty"`
	Outputs      map[string]any `json:"outputs,omitempty"`
	ErrorOutputs map[string]any `json:"error_outputs,omitempty"`
	ExecutedTime float64        `json:"executed_time,omitempty"`
	Usage        *llm.ChatUsage `json:"usage,omitempty"`
}

// Choice carries a content delta.
type Choice struct {
	Delta        Delta  `json:"delta"`
	Index        int    `json:"index"`
	FinishReason string `json:"finish_reason,omitempty"`
}

// Delta is the incremental content of a frame.
type Delta struct {
	Role             string `json:"role"`
	Content          string `json:"content"`
	ReasoningContent string `json:"reasoning_content"`
}

// EventData is attached to interrupt frames.
type EventData struct {
	EventID   string          `json:"event_id"`
	EventType string          `json:"event_type"`
	NeedReply bool            `json:"need_reply"`
	Value     *InterruptValue `json:"value,omitempty"`
}

// InterruptValue is the question shown to the user.
type InterruptValue struct {
	Type    string     `json:"type"`
	Content string     `json:"content"`
	Option  []QAOption `json:"option,omitempty"`
}

// frameRenderer turns callback events into frames for one session.
type frameRenderer struct {
	sid      string
	total    int
	seq      int
	finished int
	now      func() time.Time
}

func newFrameRenderer(sid string, totalNodes int) *frameRenderer {
	return &frameRenderer{sid: sid, total: totalNodes, now: time.Now}
}

func (r *frameRenderer) progress() float64 {
	if r.total <= 0 {
		return 0
	}
	p := float64(r.finished) / float64(r.total)
	if p > 1 {
		p = 1
	}
	return p
}

func (r *frameRenderer) frame(node *StepNode, delta Delta, finish string) Frame {
	delta.Role = string(llm.RoleAssistant)
	return Frame{
		Code:         int(types.Success),
		Message:      "Success",
		ID:           r.sid,
		Created:      r.now().Unix(),
		WorkflowStep: WorkflowStep{Node: node, Seq: r.seq, Progress: r.progress()},
		Choices:      []Choice{{Delta: delta, Index: 0, FinishReason: finish}},
	}
}

// render maps one event to a frame.
func (r *frameRenderer) render(ev CallbackEvent) Frame {
	node := &StepNode{ID: ev.NodeID, AliasName: ev.AliasName}
	switch ev.Type {
	case EventNodeStart:
		r.seq++
		return r.frame(node, Delta{}, "")
	case EventNodeToken:
		return r.frame(node, Delta{Content: ev.Content, ReasoningContent: ev.ReasoningContent}, "")
	case EventNodeEnd:
		r.finished++
		node.FinishReason = FinishReasonStop
		node.Inputs = ev.Inputs
		node.Outputs = ev.Outputs
		node.ExecutedTime = ev.Elapsed.Seconds()
		node.Usage = ev.Usage
		return r.frame(node, Delta{Content: ev.Content, ReasoningContent: ev.ReasoningContent}, "")
	case EventNodeError:
		r.finished++
		node.FinishReason = FinishReasonError
		node.ExecutedTime = ev.Elapsed.Seconds()
		if ev.Err != nil {
			node.ErrorOutputs = map[string]any{"code": int(ev.Err.Code), "message": frameMessage(ev.Err)}
		}
		return r.frame(node, Delta{}, "")
	case EventInterrupt:
		f := r.frame(node, Delta{}, FinishReasonInterrupt)
		if in := ev.Interrupt; in != nil {
			f.Choices[0].Delta.Content = in.Question
			f.EventData = &EventData{
				EventID:   in.EventID,
				EventType: string(EventInterrupt),
				NeedReply: in.NeedReply,
				Value:     &InterruptValue{Type: in.AnswerType, Content: in.Question, Option: in.Options},
			}
		}
		return f
	}
	return r.frame(node, Delta{}, "")
}

// final renders the terminal frame. A zero code means clean completion.
func (r *frameRenderer) final(res *RunResult, err error) Frame {
	r.finished = r.total
	f := r.frame(nil, Delta{}, FinishReasonStop)
	if res != nil {
		if !res.streamed {
			f.Choices[0].Delta.Content = res.Content
			f.Choices[0].Delta.ReasoningContent = res.ReasoningContent
		}
		usage := res.Usage
		f.Usage = &usage
	}
	if err != nil {
		f.Code = int(types.GetErrorCode(err))
		f.Message = frameMessage(err)
	}
	return f
}

// frameMessage renders an error for callers: message plus cause.
func frameMessage(err error) string {
	if te, ok := types.AsError(err); ok {
		if cause := te.CauseString(); cause != "" {
			return te.Message + ": " + cause
		}
		return te.Message
	}
	return err.Error()
}

// WriteSSE writes every frame as "data: <json>\n\n" followed by the
// "data: [DONE]" sentinel. It flushes after each frame when w supports it.
func WriteSSE(w io.Writer, frames <-chan Frame) error {
	flusher, _ := w.(http.Flusher)
	for f := range frames {
		raw, err := json.Marshal(f)
		if err != nil {
			return fmt.Errorf("encode frame: %w", err)
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", raw); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
	if _, err := io.WriteString(w, "data: [DONE]\n\n"); err != nil {
		return err
	}
	if flusher != nil {
		flusher.Flush()
	}
	return nil
}
