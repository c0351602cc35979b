// Package ctxkeys 定义在 context 中传递的运行标识，供出站请求透传。
package ctxkeys

import (
	"context"
	"net/http"
)

// contextKey 用于在 context 中存储值的键类型
type contextKey string

const (
	runIDKey  contextKey = "run_id"
	flowIDKey contextKey = "flow_id"
	nodeIDKey contextKey = "node_id"
)

// 出站 HTTP 请求携带的标识头
const (
	HeaderRunID  = "X-Flow-Run-Id"
	HeaderFlowID = "X-Flow-Id"
	HeaderNodeID = "X-Flow-Node-Id"
)

// WithRun 设置运行 ID 与流程 ID
func WithRun(ctx context.Context, runID, flowID string) context.Context {
	ctx = context.WithValue(ctx, runIDKey, runID)
	return context.WithValue(ctx, flowIDKey, flowID)
}

// WithNodeID 设置当前节点 ID
func WithNodeID(ctx context.Context, nodeID string) context.Context {
	return context.WithValue(ctx, nodeIDKey, nodeID)
}

// RunID 获取 RunID
func RunID(ctx context.Context) (string, bool) {
	return lookup(ctx, runIDKey)
}

// FlowID 获取 FlowID
func FlowID(ctx context.Context) (string, bool) {
	return lookup(ctx, flowIDKey)
}

// NodeID 获取 NodeID
func NodeID(ctx context.Context) (string, bool) {
	return lookup(ctx, nodeIDKey)
}

func lookup(ctx context.Context, key contextKey) (string, bool) {
	v, ok := ctx.Value(key).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// SetHeaders 将 ctx 中已有的标识写入请求头
func SetHeaders(ctx context.Context, h http.Header) {
	if v, ok := RunID(ctx); ok {
		h.Set(HeaderRunID, v)
	}
	if v, ok := FlowID(ctx); ok {
		h.Set(HeaderFlowID, v)
	}
	if v, ok := NodeID(ctx); ok {
		h.Set(HeaderNodeID, v)
	}
}
