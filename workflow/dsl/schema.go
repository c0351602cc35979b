package dsl

import "strings"

// WorkflowDSL 工作流 DSL 顶层结构（节点 + 边）
type WorkflowDSL struct {
	Nodes []NodeDef `yaml:"nodes" json:"nodes"`
	Edges []EdgeDef `yaml:"edges" json:"edges"`
}

// NodeDef 节点定义，ID 形如 "spark-llm::<uuid>"
type NodeDef struct {
	ID   string   `yaml:"id" json:"id"`
	Data NodeData `yaml:"data" json:"data"`
}

// NodeData 节点数据
type NodeData struct {
	NodeMeta    NodeMeta       `yaml:"nodeMeta" json:"nodeMeta"`
	ParentID    string         `yaml:"parentId,omitempty" json:"parentId,omitempty"` // 迭代体节点所属的 iteration 节点
	Inputs      []InputItem    `yaml:"inputs" json:"inputs"`
	Outputs     []OutputItem   `yaml:"outputs" json:"outputs"`
	NodeParam   map[string]any `yaml:"nodeParam" json:"nodeParam"`
	RetryConfig *RetryConfig   `yaml:"retryConfig,omitempty" json:"retryConfig,omitempty"`
}

// NodeMeta 节点元信息
type NodeMeta struct {
	NodeType  string `yaml:"nodeType" json:"nodeType"`
	AliasName string `yaml:"aliasName" json:"aliasName"`
}

// InputItem 节点输入声明
type InputItem struct {
	ID     string      `yaml:"id" json:"id"`
	Name   string      `yaml:"name" json:"name"`
	Schema InputSchema `yaml:"schema" json:"schema"`
}

// InputSchema 输入类型与取值
type InputSchema struct {
	Type  string   `yaml:"type" json:"type"`
	Value ValueDef `yaml:"value" json:"value"`
}

// 取值类型
const (
	ValueTypeRef     = "ref"
	ValueTypeLiteral = "literal"
)

// ValueDef 字面量或引用。Type 为 ref 时 Content 为 {"nodeId": ..., "name": ...}
type ValueDef struct {
	Type    string `yaml:"type" json:"type"`
	Content any    `yaml:"content" json:"content"`
}

// RefContent 引用内容
type RefContent struct {
	NodeID string `json:"nodeId"`
	Name   string `json:"name"`
}

// Ref 返回引用内容；非引用或内容不完整时 ok 为 false
func (v ValueDef) Ref() (RefContent, bool) {
	if v.Type != ValueTypeRef {
		return RefContent{}, false
	}
	m, ok := v.Content.(map[string]any)
	if !ok {
		return RefContent{}, false
	}
	nodeID, _ := m["nodeId"].(string)
	name, _ := m["name"].(string)
	if nodeID == "" || name == "" {
		return RefContent{}, false
	}
	return RefContent{NodeID: nodeID, Name: name}, true
}

// OutputItem 节点输出声明
type OutputItem struct {
	ID       string       `yaml:"id" json:"id"`
	Name     string       `yaml:"name" json:"name"`
	Schema   OutputSchema `yaml:"schema" json:"schema"`
	Required bool         `yaml:"required" json:"required"`
}

// OutputSchema 输出类型与默认值
type OutputSchema struct {
	Type    string `yaml:"type" json:"type"`
	Default any    `yaml:"default,omitempty" json:"default,omitempty"`
}

// 错误处理策略
const (
	ErrorStrategyFail        = 0
	ErrorStrategyCustomValue = 1
	ErrorStrategyFailBranch  = 2
)

// RetryConfig 节点重试与错误处理配置
type RetryConfig struct {
	ShouldRetry   bool           `yaml:"shouldRetry" json:"shouldRetry"`
	MaxRetries    int            `yaml:"maxRetries" json:"maxRetries"`
	RetryInterval float64        `yaml:"retryInterval" json:"retryInterval"` // 秒
	ErrorStrategy int            `yaml:"errorStrategy" json:"errorStrategy"`
	CustomOutput  map[string]any `yaml:"customOutput,omitempty" json:"customOutput,omitempty"`
	Timeout       float64        `yaml:"timeout,omitempty" json:"timeout,omitempty"` // 秒，0 表示使用引擎默认值
}

// EdgeDef 边定义
type EdgeDef struct {
	SourceNodeID string `yaml:"sourceNodeId" json:"sourceNodeId"`
	TargetNodeID string `yaml:"targetNodeId" json:"targetNodeId"`
	SourceHandle string `yaml:"sourceHandle,omitempty" json:"sourceHandle,omitempty"`
}

// NodeType 返回节点 ID 中 "::" 之前的类型前缀
func (n NodeDef) NodeType() string {
	if i := strings.Index(n.ID, "::"); i >= 0 {
		return n.ID[:i]
	}
	return n.Data.NodeMeta.NodeType
}

// InputNames 返回输入变量名（声明顺序）
func (n NodeDef) InputNames() []string {
	names := make([]string, len(n.Data.Inputs))
	for i, in := range n.Data.Inputs {
		names[i] = in.Name
	}
	return names
}

// OutputNames 返回输出变量名（声明顺序）
func (n NodeDef) OutputNames() []string {
	names := make([]string, len(n.Data.Outputs))
	for i, out := range n.Data.Outputs {
		names[i] = out.Name
	}
	return names
}

// Node 按 ID 查找节点
func (d *WorkflowDSL) Node(id string) (NodeDef, bool) {
	for _, n := range d.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return NodeDef{}, false
}
