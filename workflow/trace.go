package workflow

import (
	"sync"
	"time"
)

// ExecutionStatus represents the status of a run
type ExecutionStatus string

const (
	// ExecutionStatusRunning indicates the run is in progress
	ExecutionStatusRunning ExecutionStatus = "running"
	// ExecutionStatusCompleted indicates the run completed successfully
	ExecutionStatusCompleted ExecutionStatus = "completed"
	// ExecutionStatusFailed indicates the run failed
	ExecutionStatusFailed ExecutionStatus = "failed"
)

// NodeTrace records the execution of a single node
type NodeTrace struct {
	NodeID    string         `json:"node_id"`
	NodeKind  NodeKind       `json:"node_type"`
	StartTime time.Time      `json:"start_time"`
	EndTime   time.Time      `json:"end_time"`
	Duration  time.Duration  `json:"duration"`
	Status    NodeStatus     `json:"status"`
	Attempts  int            `json:"attempts,omitempty"`
	Inputs    map[string]any `json:"inputs,omitempty"`
	Outputs   map[string]any `json:"outputs,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// ExecutionTrace records the complete execution path of a run
type ExecutionTrace struct {
	RunID     string          `json:"run_id"`
	FlowID    string          `json:"flow_id"`
	SessionID string          `json:"session_id"`
	StartTime time.Time       `json:"start_time"`
	EndTime   time.Time       `json:"end_time"`
	Duration  time.Duration   `json:"duration"`
	Status    ExecutionStatus `json:"status"`
	Nodes     []*NodeTrace    `json:"nodes"`
	Error     string          `json:"error,omitempty"`
	mu        sync.RWMutex
}

// NewExecutionTrace creates a new execution trace
func NewExecutionTrace(runID, flowID, sessionID string) *ExecutionTrace {
	return &ExecutionTrace{
		RunID:     runID,
		FlowID:    flowID,
		SessionID: sessionID,
		StartTime: time.Now(),
		Status:    ExecutionStatusRunning,
		Nodes:     make([]*NodeTrace, 0),
	}
}

// RecordNodeStart records the start of a node execution
func (h *ExecutionTrace) RecordNodeStart(nodeID string, kind NodeKind) *NodeTrace {
	h.mu.Lock()
	defer h.mu.Unlock()

	node := &NodeTrace{
		NodeID:    nodeID,
		NodeKind:  kind,
		StartTime: time.Now(),
		Status:    StatusRunning,
	}
	h.Nodes = append(h.Nodes, node)
	return node
}

// RecordNodeEnd records the end of a node execution
func (h *ExecutionTrace) RecordNodeEnd(node *NodeTrace, status NodeStatus, res NodeRunResult, attempts int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	node.EndTime = time.Now()
	node.Duration = node.EndTime.Sub(node.StartTime)
	node.Status = status
	node.Attempts = attempts
	node.Inputs = res.Inputs
	node.Outputs = res.Outputs
	if res.Err != nil {
		node.Error = res.Err.Error()
	}
}

// Complete marks the run as finished
func (h *ExecutionTrace) Complete(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.EndTime = time.Now()
	h.Duration = h.EndTime.Sub(h.StartTime)

	if err != nil {
		h.Status = ExecutionStatusFailed
		h.Error = err.Error()
	} else {
		h.Status = ExecutionStatusCompleted
	}
}

// GetNodes returns a copy of the node records
func (h *ExecutionTrace) GetNodes() []*NodeTrace {
	h.mu.RLock()
	defer h.mu.RUnlock()

	nodes := make([]*NodeTrace, len(h.Nodes))
	copy(nodes, h.Nodes)
	return nodes
}

// GetNodeByID returns the record for a specific node
func (h *ExecutionTrace) GetNodeByID(nodeID string) *NodeTrace {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, node := range h.Nodes {
		if node.NodeID == nodeID {
			return node
		}
	}
	return nil
}
