// MockCodeExecutor 与 MockBackend 的代码沙箱测试模拟实现。
//
// MockCodeExecutor 直接替代 sandbox.CodeExecutor；MockBackend 挂在真实的
// sandbox.Executor 之下，用于覆盖超时与退出码处理。
package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/BaSui01/flowengine/sandbox"
)

// --- MockCodeExecutor ---

// MockCodeExecutor 是 sandbox.CodeExecutor 的模拟实现
type MockCodeExecutor struct {
	mu     sync.RWMutex
	stdout string
	err    error
	fn     func(ctx context.Context, req *sandbox.Request) (string, error)
	calls  []*sandbox.Request
}

// NewMockCodeExecutor 创建返回 stdout 的执行器
func NewMockCodeExecutor(stdout string) *MockCodeExecutor {
	return &MockCodeExecutor{stdout: stdout}
}

// WithError 设置返回错误
func (m *MockCodeExecutor) WithError(err error) *MockCodeExecutor {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithFunc 设置自定义执行函数
func (m *MockCodeExecutor) WithFunc(fn func(ctx context.Context, req *sandbox.Request) (string, error)) *MockCodeExecutor {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fn = fn
	return m
}

// Execute 实现 sandbox.CodeExecutor
func (m *MockCodeExecutor) Execute(ctx context.Context, req *sandbox.Request) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	fn, stdout, err := m.fn, m.stdout, m.err
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if err != nil {
		return "", err
	}
	return stdout, nil
}

// GetCalls 返回所有请求
func (m *MockCodeExecutor) GetCalls() []*sandbox.Request {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*sandbox.Request(nil), m.calls...)
}

// --- MockBackend ---

// MockBackend 是 sandbox.Backend 的模拟实现
type MockBackend struct {
	mu     sync.Mutex
	result sandbox.Result
	err    error
	hang   bool
	delay  time.Duration
	runs   int
}

// NewMockBackend 创建返回 stdout、退出码为 0 的后端
func NewMockBackend(stdout string) *MockBackend {
	return &MockBackend{result: sandbox.Result{Stdout: stdout}}
}

// WithExit 设置退出码与 stderr
func (b *MockBackend) WithExit(code int, stderr string) *MockBackend {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.result.ExitCode = code
	b.result.Stderr = stderr
	return b
}

// WithError 设置后端错误
func (b *MockBackend) WithError(err error) *MockBackend {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.err = err
	return b
}

// WithHang 使每次运行阻塞到上下文结束
func (b *MockBackend) WithHang() *MockBackend {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hang = true
	return b
}

// WithDelay 设置运行耗时
func (b *MockBackend) WithDelay(d time.Duration) *MockBackend {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.delay = d
	return b
}

// Name 实现 sandbox.Backend
func (b *MockBackend) Name() string { return "mock" }

// Run 实现 sandbox.Backend
func (b *MockBackend) Run(ctx context.Context, req *sandbox.Request) (*sandbox.Result, error) {
	b.mu.Lock()
	b.runs++
	res, err, hang, delay := b.result, b.err, b.hang, b.delay
	b.mu.Unlock()

	if hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// Runs 返回运行次数
func (b *MockBackend) Runs() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.runs
}
