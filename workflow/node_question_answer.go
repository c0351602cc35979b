package workflow

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/flowengine/types"
	"github.com/BaSui01/flowengine/workflow/hitl"
)

// runQuestionAnswer pauses the run until the user answers, ignores or aborts.
func (ec *EngineContext) runQuestionAnswer(ctx context.Context, n *Node, p *QuestionAnswerParams, inputs map[string]any) NodeRunResult {
	question, err := renderTemplate(p.Question, inputs)
	if err != nil {
		return failed(err, types.ErrTemplateRender, "render question")
	}

	cfg := ec.deps.Config.EventRegistry
	timeout := seconds(p.Timeout)
	if timeout <= 0 {
		timeout = cfg.DefaultTimeout
	}
	eventID := uuid.NewString()
	event := &hitl.Event{
		EventID:   eventID,
		FlowID:    ec.flowID(),
		AppID:     ec.input.AppID,
		UID:       ec.input.UID,
		ChatID:    ec.input.ChatID,
		NodeID:    n.ID,
		Status:    hitl.EventStatusInterrupt,
		QueueName: hitl.QueueName(cfg.KeyPrefix, eventID),
		Timeout:   timeout,
		CreatedAt: time.Now(),
	}
	registry := ec.deps.Events
	if err := registry.InitEvent(ctx, event); err != nil {
		return failed(err, types.ErrEventRegistry, "register interrupt event")
	}
	defer func() {
		if err := registry.DeleteEvent(context.WithoutCancel(ctx), eventID); err != nil {
			ec.logger.Warn("delete interrupt event failed", zap.String("event_id", eventID), zap.Error(err))
		}
	}()

	ec.emit(CallbackEvent{
		Type:      EventInterrupt,
		NodeID:    n.ID,
		NodeKind:  n.Kind,
		AliasName: n.AliasName,
		Interrupt: &InterruptInfo{
			EventID:    eventID,
			Question:   question,
			AnswerType: p.AnswerType,
			Options:    p.Options,
			NeedReply:  true,
		},
	})
	ec.logger.Info("waiting for user input", zap.String("node_id", n.ID), zap.String("event_id", eventID))

	data, err := registry.WaitResumeData(ctx, event.QueueName, timeout)
	if err != nil {
		if types.IsCode(err, types.ErrEventTimeout) {
			ec.updateEvent(eventID, hitl.EventStatusTimeout)
		}
		return failed(err, types.ErrEventRegistry, "wait for resume data")
	}

	outputs := map[string]any{"query": question}
	switch data.Type {
	case hitl.ResumeTypeAbort:
		ec.updateEvent(eventID, hitl.EventStatusAborted)
		return interrupted(types.Errorf(types.ErrInterruptAborted, "run aborted by user at node %s", n.ID))
	case hitl.ResumeTypeIgnore:
		outputs["content"] = p.DefaultAnswer
	default:
		outputs["content"] = data.Content
		if p.AnswerType == AnswerTypeOption {
			if opt, ok := matchOption(p.Options, data.Content); ok {
				outputs["id"] = opt.ID
				outputs["content"] = opt.Content
			}
		}
	}
	ec.updateEvent(eventID, hitl.EventStatusCompleted)
	return succeeded(outputs)
}

func matchOption(options []QAOption, answer string) (QAOption, bool) {
	for _, o := range options {
		if o.ID == answer || o.Name == answer {
			return o, true
		}
	}
	return QAOption{}, false
}

func (ec *EngineContext) updateEvent(eventID string, status hitl.EventStatus) {
	if err := ec.deps.Events.UpdateStatus(context.Background(), eventID, status); err != nil {
		ec.logger.Warn("update interrupt event failed",
			zap.String("event_id", eventID),
			zap.String("status", string(status)),
			zap.Error(err),
		)
	}
}
