package sandbox

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CircuitState 熔断器状态
type CircuitState int

const (
	// CircuitClosed 正常状态，允许请求通过
	CircuitClosed CircuitState = iota
	// CircuitOpen 熔断状态，拒绝所有请求
	CircuitOpen
	// CircuitHalfOpen 半开状态，允许探测请求
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig 熔断器配置
type BreakerConfig struct {
	// FailureThreshold 连续失败次数阈值，达到后触发熔断；0 表示禁用熔断
	FailureThreshold int
	// RecoveryTimeout 熔断后等待恢复的时间
	RecoveryTimeout time.Duration
	// HalfOpenMaxProbes 半开状态允许的探测请求数
	HalfOpenMaxProbes int
	// SuccessThreshold 半开状态下连续成功多少次后恢复
	SuccessThreshold int
}

// DefaultBreakerConfig 默认熔断器配置
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold:  5,
		RecoveryTimeout:   30 * time.Second,
		HalfOpenMaxProbes: 1,
		SuccessThreshold:  1,
	}
}

// Breaker 保护远程沙箱服务的熔断器。只有服务不可用类错误计入失败，
// 用户代码自身的报错不会触发熔断。
type Breaker struct {
	name            string
	config          BreakerConfig
	state           CircuitState
	failures        int
	successes       int
	lastFailureTime time.Time
	probeCount      int
	now             func() time.Time
	logger          *zap.Logger
	mu              sync.Mutex
}

// NewBreaker 创建熔断器
func NewBreaker(name string, config BreakerConfig, logger *zap.Logger) *Breaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.HalfOpenMaxProbes <= 0 {
		config.HalfOpenMaxProbes = 1
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 1
	}
	return &Breaker{
		name:   name,
		config: config,
		state:  CircuitClosed,
		now:    time.Now,
		logger: logger.With(zap.String("breaker", name)),
	}
}

// Allow 检查是否允许请求通过
func (b *Breaker) Allow() error {
	if b == nil || b.config.FailureThreshold <= 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitOpen:
		elapsed := b.now().Sub(b.lastFailureTime)
		if elapsed >= b.config.RecoveryTimeout {
			b.transitionTo(CircuitHalfOpen, "recovery timeout elapsed")
			b.probeCount = 1
			b.successes = 0
			return nil
		}
		return fmt.Errorf("circuit breaker %s open: %d consecutive failures, retry after %v",
			b.name, b.failures, b.config.RecoveryTimeout-elapsed)

	case CircuitHalfOpen:
		if b.probeCount < b.config.HalfOpenMaxProbes {
			b.probeCount++
			return nil
		}
		return fmt.Errorf("circuit breaker %s half-open: max probes (%d) reached", b.name, b.config.HalfOpenMaxProbes)
	}
	return nil
}

// RecordSuccess 记录成功
func (b *Breaker) RecordSuccess() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitClosed:
		b.failures = 0
	case CircuitHalfOpen:
		b.successes++
		if b.successes >= b.config.SuccessThreshold {
			b.transitionTo(CircuitClosed, fmt.Sprintf("%d consecutive successes in half-open", b.successes))
			b.failures = 0
			b.successes = 0
		}
	}
}

// RecordFailure 记录失败
func (b *Breaker) RecordFailure() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailureTime = b.now()

	switch b.state {
	case CircuitClosed:
		if b.config.FailureThreshold > 0 && b.failures >= b.config.FailureThreshold {
			b.transitionTo(CircuitOpen, fmt.Sprintf("%d consecutive failures", b.failures))
		}
	case CircuitHalfOpen:
		// 半开状态下任何失败都重新熔断
		b.successes = 0
		b.transitionTo(CircuitOpen, "failure in half-open state")
	}
}

// State 获取当前状态
func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// transitionTo 状态转换（必须在锁内调用）
func (b *Breaker) transitionTo(newState CircuitState, reason string) {
	old := b.state
	b.state = newState
	b.logger.Info("circuit breaker state change",
		zap.String("old_state", old.String()),
		zap.String("new_state", newState.String()),
		zap.String("reason", reason),
		zap.Int("failures", b.failures))
}
