// MockProvider 的 LLM 提供商测试模拟实现。
//
// 支持分块流式输出、按调用次数失败与错误注入场景。
package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/BaSui01/flowengine/llm"
)

// --- MockProvider 结构 ---

// MockProvider 是 llm.Provider 的模拟实现
type MockProvider struct {
	mu sync.RWMutex

	// 响应配置
	streamChunks []string
	reasoning    []string
	err          error
	midErr       *llm.Error // 在输出 midAfter 个块之后注入的流内错误
	midAfter     int

	// Token 使用统计
	promptTokens     int
	completionTokens int

	// 调用记录
	calls      []*llm.ChatRequest
	streamFunc func(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error)

	// 行为控制
	delay      time.Duration // 每个块之间的延迟
	failTimes  int           // 前 N 次调用返回 err
	blockUntil <-chan struct{}
}

// --- 构造函数和 Builder 方法 ---

// NewMockProvider 创建新的 MockProvider
func NewMockProvider() *MockProvider {
	return &MockProvider{
		streamChunks:     []string{"Mock response"},
		promptTokens:     10,
		completionTokens: 20,
	}
}

// WithResponse 设置单块响应内容
func (m *MockProvider) WithResponse(response string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streamChunks = []string{response}
	return m
}

// WithStreamChunks 设置流式响应块
func (m *MockProvider) WithStreamChunks(chunks []string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streamChunks = chunks
	return m
}

// WithReasoning 设置推理内容块，先于正文输出
func (m *MockProvider) WithReasoning(chunks []string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reasoning = chunks
	return m
}

// WithError 设置 Stream 直接返回的错误
func (m *MockProvider) WithError(err error) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	m.failTimes = -1
	return m
}

// WithFailTimes 前 n 次调用返回 err，之后正常输出
func (m *MockProvider) WithFailTimes(n int, err error) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	m.failTimes = n
	return m
}

// WithErrorAfter 在输出 n 个内容块后注入流内错误
func (m *MockProvider) WithErrorAfter(n int, err *llm.Error) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.midErr = err
	m.midAfter = n
	return m
}

// WithTokenUsage 设置 Token 使用量
func (m *MockProvider) WithTokenUsage(prompt, completion int) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.promptTokens = prompt
	m.completionTokens = completion
	return m
}

// WithDelay 设置块之间的延迟
func (m *MockProvider) WithDelay(d time.Duration) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// WithBlockUntil 在 ch 关闭前不输出最后一个块
func (m *MockProvider) WithBlockUntil(ch <-chan struct{}) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blockUntil = ch
	return m
}

// WithStreamFunc 设置自定义 Stream 函数
func (m *MockProvider) WithStreamFunc(fn func(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error)) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streamFunc = fn
	return m
}

// --- Provider 接口实现 ---

// Name 返回 Provider 名称
func (m *MockProvider) Name() string {
	return "mock"
}

// Stream 按配置输出流式响应
func (m *MockProvider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	call := len(m.calls)
	fn := m.streamFunc
	err := m.err
	fail := m.failTimes < 0 || call <= m.failTimes
	chunks := append([]string(nil), m.streamChunks...)
	reasoning := append([]string(nil), m.reasoning...)
	midErr, midAfter := m.midErr, m.midAfter
	delay, block := m.delay, m.blockUntil
	usage := &llm.ChatUsage{
		PromptTokens:     m.promptTokens,
		CompletionTokens: m.completionTokens,
		TotalTokens:      m.promptTokens + m.completionTokens,
	}
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if err != nil && fail {
		return nil, err
	}

	ch := make(chan llm.StreamChunk)
	go func() {
		defer close(ch)
		send := func(c llm.StreamChunk) bool {
			select {
			case ch <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}
		pause := func() bool {
			if delay <= 0 {
				return true
			}
			select {
			case <-time.After(delay):
				return true
			case <-ctx.Done():
				return false
			}
		}

		for _, r := range reasoning {
			if !pause() || !send(llm.StreamChunk{Model: req.Model, Delta: llm.Message{Role: llm.RoleAssistant, ReasoningContent: r}}) {
				return
			}
		}
		for i, c := range chunks {
			if midErr != nil && i == midAfter {
				send(llm.StreamChunk{Err: midErr})
				return
			}
			if block != nil && i == len(chunks)-1 {
				select {
				case <-block:
				case <-ctx.Done():
					return
				}
			}
			if !pause() || !send(llm.StreamChunk{Model: req.Model, Delta: llm.Message{Role: llm.RoleAssistant, Content: c}}) {
				return
			}
		}
		if midErr != nil && midAfter >= len(chunks) {
			send(llm.StreamChunk{Err: midErr})
			return
		}
		send(llm.StreamChunk{Model: req.Model, FinishReason: "stop", Usage: usage})
	}()
	return ch, nil
}

// --- 调用记录 ---

// GetCalls 返回所有请求
func (m *MockProvider) GetCalls() []*llm.ChatRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*llm.ChatRequest(nil), m.calls...)
}

// GetCallCount 返回调用次数
func (m *MockProvider) GetCallCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.calls)
}

// GetLastCall 返回最后一次请求
func (m *MockProvider) GetLastCall() *llm.ChatRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.calls) == 0 {
		return nil
	}
	return m.calls[len(m.calls)-1]
}

// Reset 清空调用记录
func (m *MockProvider) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// --- 预设构造 ---

// NewSuccessProvider 返回固定响应的 Provider
func NewSuccessProvider(response string) *MockProvider {
	return NewMockProvider().WithResponse(response)
}

// NewErrorProvider 返回总是失败的 Provider
func NewErrorProvider(err error) *MockProvider {
	return NewMockProvider().WithError(err)
}

// NewStreamProvider 返回分块输出的 Provider
func NewStreamProvider(chunks []string) *MockProvider {
	return NewMockProvider().WithStreamChunks(chunks)
}

// NewFlakeyProvider 前 failTimes 次失败，之后返回 response
func NewFlakeyProvider(failTimes int, err error, response string) *MockProvider {
	return NewMockProvider().WithFailTimes(failTimes, err).WithResponse(response)
}
