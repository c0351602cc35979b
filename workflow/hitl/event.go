package hitl

import (
	"context"
	"time"

	"github.com/BaSui01/flowengine/types"
)

// EventStatus 中断事件状态
type EventStatus string

const (
	EventStatusRunning   EventStatus = "running"
	EventStatusInterrupt EventStatus = "interrupt"
	EventStatusResumed   EventStatus = "resumed"
	EventStatusTimeout   EventStatus = "timeout"
	EventStatusAborted   EventStatus = "aborted"
	EventStatusCompleted EventStatus = "completed"
)

// ResumeType 恢复指令类型
type ResumeType string

const (
	// ResumeTypeResume 使用提供的内容继续执行
	ResumeTypeResume ResumeType = "resume"
	// ResumeTypeIgnore 跳过提问，使用节点的默认回答
	ResumeTypeIgnore ResumeType = "ignore"
	// ResumeTypeAbort 终止整个运行
	ResumeTypeAbort ResumeType = "abort"
)

// Event 表示一次等待外部输入的暂停执行
type Event struct {
	EventID   string        `json:"event_id"`
	FlowID    string        `json:"flow_id"`
	AppID     string        `json:"app_id"`
	UID       string        `json:"uid"`
	ChatID    string        `json:"chat_id"`
	NodeID    string        `json:"node_id"`
	Status    EventStatus   `json:"status"`
	QueueName string        `json:"queue_name"`
	Timeout   time.Duration `json:"timeout"`
	CreatedAt time.Time     `json:"created_at"`
}

// ResumeData 写入恢复队列的数据
type ResumeData struct {
	EventID string     `json:"event_id"`
	Type    ResumeType `json:"type"`
	Content string     `json:"content"`
}

// Registry 中断事件注册表。暂停的节点阻塞在 WaitResumeData 上，
// 外部恢复入口通过 Resume 或 WriteResumeData 唤醒它。
type Registry interface {
	InitEvent(ctx context.Context, event *Event) error
	// GetEvent 未找到时返回 EVENT_NOT_FOUND
	GetEvent(ctx context.Context, eventID string) (*Event, error)
	UpdateStatus(ctx context.Context, eventID string, status EventStatus) error
	DeleteEvent(ctx context.Context, eventID string) error
	WriteResumeData(ctx context.Context, queueName string, data ResumeData, expire time.Duration) error
	// WaitResumeData 超时返回 EVENT_TIMEOUT_ERROR
	WaitResumeData(ctx context.Context, queueName string, timeout time.Duration) (*ResumeData, error)
	// Resume 按事件 ID 找到队列并写入恢复数据
	Resume(ctx context.Context, eventID string, data ResumeData) error
}

// QueueName 返回事件对应的恢复队列名
func QueueName(prefix, eventID string) string {
	if prefix == "" {
		return "workflow:resume:" + eventID
	}
	return prefix + ":workflow:resume:" + eventID
}

// resume 两种实现共用的恢复流程
func resume(ctx context.Context, r Registry, eventID string, data ResumeData, expire time.Duration) error {
	event, err := r.GetEvent(ctx, eventID)
	if err != nil {
		return err
	}
	if event.Status != EventStatusInterrupt {
		return types.Errorf(types.ErrInvalidRequest, "event %s is not waiting for input (status %s)", eventID, event.Status)
	}
	switch data.Type {
	case "":
		data.Type = ResumeTypeResume
	case ResumeTypeResume, ResumeTypeIgnore, ResumeTypeAbort:
	default:
		return types.Errorf(types.ErrInvalidRequest, "unknown resume type %q", data.Type)
	}
	data.EventID = eventID

	if err := r.WriteResumeData(ctx, event.QueueName, data, expire); err != nil {
		return err
	}
	return r.UpdateStatus(ctx, eventID, EventStatusResumed)
}

func errNotFound(eventID string) error {
	return types.Errorf(types.ErrEventNotFound, "event %s not found", eventID)
}

func errTimeout(queueName string, timeout time.Duration) error {
	return types.Errorf(types.ErrEventTimeout, "no resume data on %s within %s", queueName, timeout)
}
