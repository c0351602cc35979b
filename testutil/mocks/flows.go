// MockFlowLoader 的子流程加载测试模拟实现。
package mocks

import (
	"context"
	"fmt"
	"sync"

	"github.com/BaSui01/flowengine/types"
	"github.com/BaSui01/flowengine/workflow/dsl"
)

// MockFlowLoader 按 flowID 返回预置的 DSL
type MockFlowLoader struct {
	mu    sync.RWMutex
	flows map[string]*dsl.WorkflowDSL
	loads int
}

// NewMockFlowLoader 创建空的加载器
func NewMockFlowLoader() *MockFlowLoader {
	return &MockFlowLoader{flows: make(map[string]*dsl.WorkflowDSL)}
}

// WithFlow 注册一个子流程
func (m *MockFlowLoader) WithFlow(flowID string, d *dsl.WorkflowDSL) *MockFlowLoader {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flows[flowID] = d
	return m
}

// LoadFlow 实现 workflow.FlowLoader
func (m *MockFlowLoader) LoadFlow(_ context.Context, flowID, appID, version string) (*dsl.WorkflowDSL, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loads++
	d, ok := m.flows[flowID]
	if !ok {
		return nil, types.NewError(types.ErrFlowNotFound, fmt.Sprintf("flow %s (app %s, version %s) not found", flowID, appID, version))
	}
	return d, nil
}

// Loads 返回加载次数
func (m *MockFlowLoader) Loads() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loads
}
