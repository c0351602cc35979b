// Package sandbox executes user supplied code for the workflow code node,
// either through a remote sandbox service or a restricted local interpreter.
package sandbox

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/flowengine/config"
	"github.com/BaSui01/flowengine/types"
)

// Mode selects the execution backend.
type Mode string

const (
	ModeLocal  Mode = "local"
	ModeRemote Mode = "remote"
)

// Language represents supported programming languages.
type Language string

const (
	LangPython Language = "python"
)

// Request describes one code execution.
type Request struct {
	ID       string        `json:"id,omitempty"`
	Mode     Mode          `json:"-"`
	Language Language      `json:"language"`
	Code     string        `json:"code"`
	Timeout  time.Duration `json:"-"`
	AppID    string        `json:"app_id,omitempty"`
	UID      string        `json:"uid,omitempty"`
}

// Result is what a backend observed.
type Result struct {
	Stdout    string        `json:"stdout"`
	Stderr    string        `json:"stderr"`
	ExitCode  int           `json:"exit_code"`
	Duration  time.Duration `json:"duration"`
	Truncated bool          `json:"truncated,omitempty"`
}

// CodeExecutor is the contract the code node depends on: stdout on success,
// CODE_EXECUTION_TIMEOUT_ERROR or CODE_EXECUTION_ERROR (with stderr) otherwise.
type CodeExecutor interface {
	Execute(ctx context.Context, req *Request) (string, error)
}

// Backend runs code. A non-nil error means the backend itself could not run
// the code; a non-zero ExitCode means the code ran and failed.
type Backend interface {
	Run(ctx context.Context, req *Request) (*Result, error)
	Name() string
}

// ErrUnavailable marks backend-side failures (service down, breaker open).
var ErrUnavailable = errors.New("sandbox unavailable")

// Config configures the Executor.
type Config struct {
	DefaultMode      Mode
	Timeout          time.Duration
	MaxOutputBytes   int
	AllowedLanguages []Language
}

// ConfigFrom builds an executor config from the global sandbox section.
func ConfigFrom(c config.SandboxConfig) Config {
	return Config{
		DefaultMode:      Mode(c.Mode),
		Timeout:          c.Timeout,
		MaxOutputBytes:   c.MaxOutputBytes,
		AllowedLanguages: []Language{LangPython},
	}
}

// Stats tracks execution statistics.
type Stats struct {
	Total    int64         `json:"total"`
	Success  int64         `json:"success"`
	Failed   int64         `json:"failed"`
	Timeouts int64         `json:"timeouts"`
	Duration time.Duration `json:"duration"`
}

// Executor dispatches requests to the backend selected by Request.Mode.
type Executor struct {
	config   Config
	backends map[Mode]Backend
	logger   *zap.Logger
	mu       sync.Mutex
	stats    Stats
}

// NewExecutor creates an Executor. Backends with a nil value are ignored.
func NewExecutor(cfg Config, backends map[Mode]Backend, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DefaultMode == "" {
		cfg.DefaultMode = ModeLocal
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	bs := make(map[Mode]Backend, len(backends))
	for m, b := range backends {
		if b != nil {
			bs[m] = b
		}
	}
	return &Executor{
		config:   cfg,
		backends: bs,
		logger:   logger.With(zap.String("component", "sandbox")),
	}
}

// Execute implements CodeExecutor.
func (s *Executor) Execute(ctx context.Context, req *Request) (string, error) {
	if err := s.validate(req); err != nil {
		return "", err
	}

	mode := req.Mode
	if mode == "" {
		mode = s.config.DefaultMode
	}
	backend, ok := s.backends[mode]
	if !ok {
		return "", types.Errorf(types.ErrCodeExecution, "no sandbox backend for mode %q", mode)
	}

	timeout := s.config.Timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s.logger.Debug("executing code",
		zap.String("backend", backend.Name()),
		zap.String("language", string(req.Language)),
		zap.Int("code_length", len(req.Code)),
		zap.Duration("timeout", timeout))

	start := time.Now()
	res, err := backend.Run(runCtx, req)
	timedOut := errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
	s.record(err == nil && res != nil && res.ExitCode == 0, timedOut, time.Since(start))

	switch {
	case timedOut:
		return "", types.Errorf(types.ErrCodeExecutionTimeout, "code execution exceeded %s", timeout).WithCause(err)
	case err != nil:
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		var te *types.Error
		if errors.As(err, &te) {
			return "", te
		}
		return "", types.NewError(types.ErrCodeExecution, "sandbox backend failed").
			WithCause(err).WithRetryable(errors.Is(err, ErrUnavailable))
	case res.ExitCode != 0:
		stderr := s.truncate(res.Stderr)
		return "", types.Errorf(types.ErrCodeExecution, "code exited with status %d: %s", res.ExitCode, strings.TrimSpace(stderr))
	}

	return s.truncate(res.Stdout), nil
}

func (s *Executor) validate(req *Request) error {
	if req == nil || strings.TrimSpace(req.Code) == "" {
		return types.NewError(types.ErrCodeExecution, "code is required")
	}
	if req.Language == "" {
		req.Language = LangPython
	}
	for _, lang := range s.config.AllowedLanguages {
		if lang == req.Language {
			return nil
		}
	}
	if len(s.config.AllowedLanguages) == 0 && req.Language == LangPython {
		return nil
	}
	return types.Errorf(types.ErrCodeExecution, "language %s is not allowed", req.Language)
}

func (s *Executor) truncate(out string) string {
	if s.config.MaxOutputBytes > 0 && len(out) > s.config.MaxOutputBytes {
		return out[:s.config.MaxOutputBytes]
	}
	return out
}

func (s *Executor) record(ok, timedOut bool, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.Total++
	s.stats.Duration += d
	switch {
	case ok:
		s.stats.Success++
	case timedOut:
		s.stats.Failed++
		s.stats.Timeouts++
	default:
		s.stats.Failed++
	}
}

// Stats returns execution statistics.
func (s *Executor) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}
