package hitl

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/flowengine/internal/cache"
	"github.com/BaSui01/flowengine/types"
)

// RedisRegistry 基于 Redis 的事件注册表：事件以 JSON 存储并设置 TTL，
// 恢复队列为 Redis 列表，等待方使用 BLPOP。
type RedisRegistry struct {
	cache  *cache.Manager
	prefix string
	expire time.Duration
	logger *zap.Logger
}

// NewRedisRegistry 创建 Redis 注册表
func NewRedisRegistry(manager *cache.Manager, keyPrefix string, resumeExpire time.Duration, logger *zap.Logger) *RedisRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisRegistry{
		cache:  manager,
		prefix: keyPrefix,
		expire: resumeExpire,
		logger: logger.With(zap.String("component", "event_registry"), zap.String("backend", "redis")),
	}
}

func (r *RedisRegistry) eventKey(eventID string) string {
	if r.prefix == "" {
		return "workflow:event:" + eventID
	}
	return r.prefix + ":workflow:event:" + eventID
}

// eventTTL 事件键在等待超时后再保留一段恢复过期时间，便于查询最终状态
func (r *RedisRegistry) eventTTL(e *Event) time.Duration {
	ttl := e.Timeout + r.expire
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return ttl
}

func (r *RedisRegistry) InitEvent(ctx context.Context, event *Event) error {
	e := *event
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	if err := r.cache.SetJSON(ctx, r.eventKey(e.EventID), &e, r.eventTTL(&e)); err != nil {
		return types.NewError(types.ErrEventRegistry, "init event").WithCause(err)
	}
	r.logger.Info("event registered",
		zap.String("event_id", e.EventID),
		zap.String("node_id", e.NodeID),
		zap.Duration("timeout", e.Timeout),
	)
	return nil
}

func (r *RedisRegistry) GetEvent(ctx context.Context, eventID string) (*Event, error) {
	var e Event
	if err := r.cache.GetJSON(ctx, r.eventKey(eventID), &e); err != nil {
		if cache.IsCacheMiss(err) {
			return nil, errNotFound(eventID)
		}
		return nil, types.NewError(types.ErrEventRegistry, "get event").WithCause(err)
	}
	return &e, nil
}

func (r *RedisRegistry) UpdateStatus(ctx context.Context, eventID string, status EventStatus) error {
	e, err := r.GetEvent(ctx, eventID)
	if err != nil {
		return err
	}
	e.Status = status
	if err := r.cache.SetJSON(ctx, r.eventKey(eventID), e, r.eventTTL(e)); err != nil {
		return types.NewError(types.ErrEventRegistry, "update event").WithCause(err)
	}
	return nil
}

func (r *RedisRegistry) DeleteEvent(ctx context.Context, eventID string) error {
	e, err := r.GetEvent(ctx, eventID)
	if err != nil {
		if types.IsCode(err, types.ErrEventNotFound) {
			return nil
		}
		return err
	}
	if err := r.cache.Delete(ctx, r.eventKey(eventID), e.QueueName); err != nil {
		return types.NewError(types.ErrEventRegistry, "delete event").WithCause(err)
	}
	return nil
}

func (r *RedisRegistry) WriteResumeData(ctx context.Context, queueName string, data ResumeData, expire time.Duration) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return types.NewError(types.ErrEventRegistry, "encode resume data").WithCause(err)
	}
	if err := r.cache.Push(ctx, queueName, string(raw), expire); err != nil {
		return types.NewError(types.ErrEventRegistry, "write resume data").WithCause(err)
	}
	return nil
}

func (r *RedisRegistry) WaitResumeData(ctx context.Context, queueName string, timeout time.Duration) (*ResumeData, error) {
	raw, err := r.cache.BlockingPop(ctx, queueName, timeout)
	if err != nil {
		if cache.IsCacheMiss(err) {
			return nil, errTimeout(queueName, timeout)
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, types.NewError(types.ErrEventRegistry, "wait resume data").WithCause(err)
	}

	var data ResumeData
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, types.NewError(types.ErrEventRegistry, "decode resume data").WithCause(err)
	}
	return &data, nil
}

func (r *RedisRegistry) Resume(ctx context.Context, eventID string, data ResumeData) error {
	return resume(ctx, r, eventID, data, r.expire)
}
