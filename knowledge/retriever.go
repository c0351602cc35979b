// Package knowledge 提供知识库检索接口及其 HTTP 客户端实现，供工作流知识库节点调用。
package knowledge

import (
	"context"
	"time"

	"github.com/BaSui01/flowengine/config"
	"github.com/BaSui01/flowengine/llm"
)

// RAG 检索类型
const (
	RagTypeAIUI      = "AIUI-RAG2"
	RagTypeCBG       = "CBG-RAG"
	RagTypeSparkDesk = "SparkDesk-RAG"
)

// TopKRequest 一次检索请求
type TopKRequest struct {
	FlowID    string        `json:"flow_id,omitempty"`
	Query     string        `json:"query"`
	TopN      int           `json:"topN"`
	RagType   string        `json:"ragType,omitempty"`
	RepoIDs   []string      `json:"repoId"`
	DocIDs    []string      `json:"docIds,omitempty"`
	Threshold float64       `json:"threshold,omitempty"`
	History   []llm.Message `json:"history,omitempty"`
}

// TopKResponse 检索结果。Code 非零表示检索服务返回了错误。
type TopKResponse struct {
	Code    int              `json:"code"`
	Message string           `json:"message"`
	SID     string           `json:"sid,omitempty"`
	Results []map[string]any `json:"results"`
}

// Retriever 知识库检索接口
type Retriever interface {
	TopK(ctx context.Context, req *TopKRequest) (*TopKResponse, error)
}

// Config 检索客户端配置
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// ConfigFrom 从全局配置构建客户端配置
func ConfigFrom(c config.KnowledgeConfig) Config {
	return Config{BaseURL: c.BaseURL, Timeout: c.Timeout}
}
