package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/flowengine/internal/ctxkeys"
)

// RemoteBackend calls a sandbox service over HTTP. Calls are guarded by a
// circuit breaker that only counts service-side failures.
type RemoteBackend struct {
	url     string
	client  *http.Client
	breaker *Breaker
	logger  *zap.Logger
}

type remoteRequest struct {
	Language  Language `json:"language"`
	Code      string   `json:"code"`
	TimeoutMS int64    `json:"timeout_ms,omitempty"`
	AppID     string   `json:"app_id,omitempty"`
	UID       string   `json:"uid,omitempty"`
}

type remoteResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		Stdout   string `json:"stdout"`
		Stderr   string `json:"stderr"`
		ExitCode int    `json:"exit_code"`
	} `json:"data"`
}

// NewRemoteBackend creates a RemoteBackend posting to baseURL + "/v1/run".
func NewRemoteBackend(baseURL string, client *http.Client, breaker *Breaker, logger *zap.Logger) *RemoteBackend {
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RemoteBackend{
		url:     strings.TrimRight(baseURL, "/") + "/v1/run",
		client:  client,
		breaker: breaker,
		logger:  logger.With(zap.String("backend", "remote")),
	}
}

func (b *RemoteBackend) Name() string { return string(ModeRemote) }

// Run implements Backend.
func (b *RemoteBackend) Run(ctx context.Context, req *Request) (*Result, error) {
	if err := b.breaker.Allow(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	body := remoteRequest{Language: req.Language, Code: req.Code, AppID: req.AppID, UID: req.UID}
	if deadline, ok := ctx.Deadline(); ok {
		body.TimeoutMS = time.Until(deadline).Milliseconds()
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode sandbox request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("build sandbox request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	ctxkeys.SetHeaders(ctx, httpReq.Header)

	start := time.Now()
	resp, err := b.client.Do(httpReq)
	if err != nil {
		if ctx.Err() == nil {
			b.breaker.RecordFailure()
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		b.breaker.RecordFailure()
		return nil, fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		b.breaker.RecordFailure()
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	b.breaker.RecordSuccess()

	var out remoteResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, fmt.Errorf("decode sandbox response (status %d): %w", resp.StatusCode, err)
	}

	res := &Result{
		Stdout:   out.Data.Stdout,
		Stderr:   out.Data.Stderr,
		ExitCode: out.Data.ExitCode,
		Duration: time.Since(start),
	}
	if out.Code != 0 && res.ExitCode == 0 {
		res.ExitCode = 1
		if res.Stderr == "" {
			res.Stderr = out.Message
		}
	}
	b.logger.Debug("remote execution finished", zap.Int("exit_code", res.ExitCode), zap.Duration("duration", res.Duration))
	return res, nil
}
