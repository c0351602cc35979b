package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/flowengine/internal/ctxkeys"
	"github.com/BaSui01/flowengine/types"
)

// Client 通过 HTTP 调用检索服务的 Retriever 实现
type Client struct {
	url    string
	client *http.Client
	logger *zap.Logger
}

type topKEnvelope struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	SID     string `json:"sid"`
	Data    struct {
		Results []map[string]any `json:"results"`
	} `json:"data"`
}

// NewClient 创建检索客户端
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		url:    strings.TrimRight(cfg.BaseURL, "/") + "/v1/chunk/query",
		client: &http.Client{Timeout: timeout},
		logger: logger.With(zap.String("component", "knowledge")),
	}
}

// TopK 实现 Retriever。服务端业务错误通过 TopKResponse.Code 返回，
// 传输层或 5xx 错误返回可重试的 KNOWLEDGE_REQUEST_ERROR。
func (c *Client) TopK(ctx context.Context, req *TopKRequest) (*TopKResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, types.NewError(types.ErrKnowledgeRequest, "encode top_k request").WithCause(err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, types.NewError(types.ErrKnowledgeRequest, "build top_k request").WithCause(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	ctxkeys.SetHeaders(ctx, httpReq.Header)

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, types.NewError(types.ErrKnowledgeRequest, "top_k request failed").
			WithCause(err).WithRetryable(ctx.Err() == nil)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, types.Errorf(types.ErrKnowledgeRequest, "top_k error: status=%d body=%s", resp.StatusCode, string(body)).
			WithRetryable(resp.StatusCode >= http.StatusInternalServerError)
	}

	var env topKEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, types.NewError(types.ErrKnowledgeRequest, "decode top_k response").WithCause(err)
	}

	c.logger.Debug("top_k finished",
		zap.String("sid", env.SID),
		zap.Int("code", env.Code),
		zap.Int("results", len(env.Data.Results)),
		zap.Duration("latency", time.Since(start)))

	results := env.Data.Results
	if results == nil {
		results = []map[string]any{}
	}
	return &TopKResponse{Code: env.Code, Message: env.Message, SID: env.SID, Results: results}, nil
}
