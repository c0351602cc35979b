package hitl

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// MemoryRegistry 进程内事件注册表，每个恢复队列是一个带缓冲的 channel
type MemoryRegistry struct {
	events map[string]*Event
	queues map[string]chan queuedResume
	expire time.Duration
	logger *zap.Logger
	mu     sync.Mutex
}

type queuedResume struct {
	data     ResumeData
	deadline time.Time
}

const memoryQueueSize = 16

// NewMemoryRegistry 创建内存注册表；resumeExpire 为 Resume 写入数据的默认存活时间
func NewMemoryRegistry(resumeExpire time.Duration, logger *zap.Logger) *MemoryRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryRegistry{
		events: make(map[string]*Event),
		queues: make(map[string]chan queuedResume),
		expire: resumeExpire,
		logger: logger.With(zap.String("component", "event_registry"), zap.String("backend", "memory")),
	}
}

func (r *MemoryRegistry) InitEvent(_ context.Context, event *Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := *event
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	r.events[e.EventID] = &e
	r.queueLocked(e.QueueName)

	r.logger.Info("event registered",
		zap.String("event_id", e.EventID),
		zap.String("node_id", e.NodeID),
		zap.Duration("timeout", e.Timeout),
	)
	return nil
}

func (r *MemoryRegistry) GetEvent(_ context.Context, eventID string) (*Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.events[eventID]
	if !ok {
		return nil, errNotFound(eventID)
	}
	cp := *e
	return &cp, nil
}

func (r *MemoryRegistry) UpdateStatus(_ context.Context, eventID string, status EventStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.events[eventID]
	if !ok {
		return errNotFound(eventID)
	}
	e.Status = status
	return nil
}

func (r *MemoryRegistry) DeleteEvent(_ context.Context, eventID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.events[eventID]; ok {
		delete(r.queues, e.QueueName)
		delete(r.events, eventID)
	}
	return nil
}

func (r *MemoryRegistry) WriteResumeData(ctx context.Context, queueName string, data ResumeData, expire time.Duration) error {
	item := queuedResume{data: data}
	if expire > 0 {
		item.deadline = time.Now().Add(expire)
	}

	r.mu.Lock()
	q := r.queueLocked(queueName)
	r.mu.Unlock()

	select {
	case q <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *MemoryRegistry) WaitResumeData(ctx context.Context, queueName string, timeout time.Duration) (*ResumeData, error) {
	r.mu.Lock()
	q := r.queueLocked(queueName)
	r.mu.Unlock()

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	for {
		select {
		case item := <-q:
			if !item.deadline.IsZero() && time.Now().After(item.deadline) {
				r.logger.Debug("dropping expired resume data", zap.String("queue", queueName))
				continue
			}
			data := item.data
			return &data, nil
		case <-timer:
			return nil, errTimeout(queueName, timeout)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (r *MemoryRegistry) Resume(ctx context.Context, eventID string, data ResumeData) error {
	return resume(ctx, r, eventID, data, r.expire)
}

// queueLocked 获取或创建队列，调用方须持有锁
func (r *MemoryRegistry) queueLocked(name string) chan queuedResume {
	q, ok := r.queues[name]
	if !ok {
		q = make(chan queuedResume, memoryQueueSize)
		r.queues[name] = q
	}
	return q
}
