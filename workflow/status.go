package workflow

import (
	"sync"
	"time"

	"github.com/BaSui01/flowengine/types"
)

// NodeStatus is the run state of one node.
type NodeStatus string

const (
	StatusPending   NodeStatus = "PENDING"
	StatusRunning   NodeStatus = "RUNNING"
	StatusSucceeded NodeStatus = "SUCCEEDED"
	StatusFailed    NodeStatus = "FAILED"
	StatusSkipped   NodeStatus = "SKIPPED"
)

// IsTerminal reports whether s is a final state.
func (s NodeStatus) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusSkipped
}

// NodeRunStatus is the per-node state machine of one run. The node's own task
// is the only writer; any number of goroutines may wait on its signals.
//
// processing is closed when the node starts running (or finishes without
// running); complete is closed once the node is terminal and its outputs are
// visible in the pool.
type NodeRunStatus struct {
	mu         sync.RWMutex
	status     NodeStatus
	handles    []string
	err        *types.Error
	startedAt  time.Time
	finishedAt time.Time

	processing     chan struct{}
	complete       chan struct{}
	processingOnce sync.Once
	completeOnce   sync.Once
}

func newNodeRunStatus() *NodeRunStatus {
	return &NodeRunStatus{
		status:     StatusPending,
		processing: make(chan struct{}),
		complete:   make(chan struct{}),
	}
}

// Status returns the current state.
func (s *NodeRunStatus) Status() NodeStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Err returns the failure of a FAILED node.
func (s *NodeRunStatus) Err() *types.Error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// Processing is closed once the node has started.
func (s *NodeRunStatus) Processing() <-chan struct{} { return s.processing }

// Complete is closed once the node is terminal.
func (s *NodeRunStatus) Complete() <-chan struct{} { return s.complete }

// Duration returns how long the node ran.
func (s *NodeRunStatus) Duration() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.startedAt.IsZero() || s.finishedAt.IsZero() {
		return 0
	}
	return s.finishedAt.Sub(s.startedAt)
}

func (s *NodeRunStatus) markRunning() {
	s.mu.Lock()
	s.status = StatusRunning
	s.startedAt = time.Now()
	s.mu.Unlock()
	s.processingOnce.Do(func() { close(s.processing) })
}

// finish records the terminal state and releases both signals.
func (s *NodeRunStatus) finish(status NodeStatus, handles []string, err *types.Error) {
	s.mu.Lock()
	s.status = status
	s.handles = handles
	s.err = err
	s.finishedAt = time.Now()
	if s.startedAt.IsZero() {
		s.startedAt = s.finishedAt
	}
	s.mu.Unlock()
	s.processingOnce.Do(func() { close(s.processing) })
	s.completeOnce.Do(func() { close(s.complete) })
}

// activates reports whether the outgoing edge tagged handle carries control
// to its target. streamOnly accepts a node that is still running or has
// failed: the consumer then fails reading the stream, whether it started
// before or after the failure.
func (s *NodeRunStatus) activates(handle string, streamOnly bool) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch s.status {
	case StatusRunning, StatusFailed:
		return streamOnly
	case StatusSucceeded:
	default:
		return false
	}
	if s.handles == nil {
		return handle != FailBranchHandle
	}
	for _, h := range s.handles {
		if h == handle {
			return true
		}
	}
	return false
}

// StatusTable maps node id to its run status.
type StatusTable map[string]*NodeRunStatus

// Snapshot returns the current state of every node.
func (t StatusTable) Snapshot() map[string]NodeStatus {
	out := make(map[string]NodeStatus, len(t))
	for id, s := range t {
		out[id] = s.Status()
	}
	return out
}
