// MockRetriever 的知识库检索测试模拟实现。
package mocks

import (
	"context"
	"sync"

	"github.com/BaSui01/flowengine/knowledge"
)

// MockRetriever 是 knowledge.Retriever 的模拟实现
type MockRetriever struct {
	mu      sync.RWMutex
	results []map[string]any
	code    int
	message string
	err     error
	calls   []*knowledge.TopKRequest
}

// NewMockRetriever 创建返回固定结果的检索器
func NewMockRetriever(results ...map[string]any) *MockRetriever {
	return &MockRetriever{results: results}
}

// WithError 设置传输层错误
func (m *MockRetriever) WithError(err error) *MockRetriever {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithServiceError 设置检索服务返回的非零错误码
func (m *MockRetriever) WithServiceError(code int, message string) *MockRetriever {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.code = code
	m.message = message
	return m
}

// TopK 实现 knowledge.Retriever
func (m *MockRetriever) TopK(ctx context.Context, req *knowledge.TopKRequest) (*knowledge.TopKResponse, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	m.mu.Unlock()

	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.err != nil {
		return nil, m.err
	}
	return &knowledge.TopKResponse{Code: m.code, Message: m.message, SID: "mock-sid", Results: m.results}, nil
}

// GetLastCall 返回最后一次请求
func (m *MockRetriever) GetLastCall() *knowledge.TopKRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.calls) == 0 {
		return nil
	}
	return m.calls[len(m.calls)-1]
}
