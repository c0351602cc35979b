package workflow

import (
	"context"
	"sync"
)

// NodeExecutionStrategy decides how a ready node is executed.
type NodeExecutionStrategy interface {
	// CanHandle reports whether the strategy applies to kind.
	CanHandle(kind NodeKind) bool
	// ExecuteNode runs n to a terminal state.
	ExecuteNode(ctx context.Context, ec *EngineContext, n *Node) NodeRunResult
}

// DefaultStrategy executes any node directly.
type DefaultStrategy struct{}

// CanHandle implements NodeExecutionStrategy.
func (DefaultStrategy) CanHandle(NodeKind) bool { return true }

// ExecuteNode implements NodeExecutionStrategy.
func (DefaultStrategy) ExecuteNode(ctx context.Context, ec *EngineContext, n *Node) NodeRunResult {
	return ec.invoke(ctx, n)
}

// QuestionAnswerStrategy serialises question-answer nodes of one run, so a
// user is never asked two questions at once.
type QuestionAnswerStrategy struct{}

// CanHandle implements NodeExecutionStrategy.
func (QuestionAnswerStrategy) CanHandle(kind NodeKind) bool { return kind == KindQuestionAnswer }

// ExecuteNode implements NodeExecutionStrategy.
func (QuestionAnswerStrategy) ExecuteNode(ctx context.Context, ec *EngineContext, n *Node) NodeRunResult {
	ec.qaMu.Lock()
	defer ec.qaMu.Unlock()
	return ec.invoke(ctx, n)
}

// StrategyManager selects the first specialised strategy that handles a
// kind and falls back to DefaultStrategy.
type StrategyManager struct {
	mu         sync.RWMutex
	strategies []NodeExecutionStrategy
	fallback   NodeExecutionStrategy
}

// NewStrategyManager creates a manager with the built-in strategies.
func NewStrategyManager() *StrategyManager {
	return &StrategyManager{
		strategies: []NodeExecutionStrategy{QuestionAnswerStrategy{}},
		fallback:   DefaultStrategy{},
	}
}

// Register adds a strategy ahead of the built-in ones.
func (m *StrategyManager) Register(s NodeExecutionStrategy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.strategies = append([]NodeExecutionStrategy{s}, m.strategies...)
}

// Select returns the strategy for kind.
func (m *StrategyManager) Select(kind NodeKind) NodeExecutionStrategy {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.strategies {
		if s.CanHandle(kind) {
			return s
		}
	}
	return m.fallback
}
