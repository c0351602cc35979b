// =============================================================================
// 📦 测试数据工厂 - 工作流 DSL
// =============================================================================
// 以函数式选项构造节点、边与完整 DSL，避免在测试中手写 JSON
//
// 使用方法:
//
//	start := fixtures.Start("node-start::1", fixtures.Output("query", "string"))
//	end := fixtures.End("node-end::2", "{{out}}", fixtures.Input("out", fixtures.Ref(start.ID, "query")))
//	d := fixtures.Workflow(fixtures.Nodes(start, end), fixtures.Chain(start.ID, end.ID)...)
// =============================================================================
package fixtures

import (
	"fmt"

	"github.com/BaSui01/flowengine/workflow/dsl"
)

// NodeOption 修改一个节点定义
type NodeOption func(*dsl.NodeDef)

// Node 构造任意类型的节点，id 形如 "<type>::<suffix>"
func Node(id string, param map[string]any, opts ...NodeOption) dsl.NodeDef {
	if param == nil {
		param = map[string]any{}
	}
	n := dsl.NodeDef{
		ID: id,
		Data: dsl.NodeData{
			NodeMeta:  dsl.NodeMeta{AliasName: id},
			Inputs:    []dsl.InputItem{},
			Outputs:   []dsl.OutputItem{},
			NodeParam: param,
		},
	}
	for _, opt := range opts {
		opt(&n)
	}
	return n
}

// Input 添加输入声明
func Input(name string, v dsl.ValueDef) NodeOption {
	return TypedInput(name, "string", v)
}

// TypedInput 添加指定类型的输入声明
func TypedInput(name, typ string, v dsl.ValueDef) NodeOption {
	return func(n *dsl.NodeDef) {
		n.Data.Inputs = append(n.Data.Inputs, dsl.InputItem{
			ID:     fmt.Sprintf("%s-in-%d", n.ID, len(n.Data.Inputs)),
			Name:   name,
			Schema: dsl.InputSchema{Type: typ, Value: v},
		})
	}
}

// Output 添加输出声明
func Output(name, typ string) NodeOption {
	return func(n *dsl.NodeDef) {
		n.Data.Outputs = append(n.Data.Outputs, dsl.OutputItem{
			ID:     fmt.Sprintf("%s-out-%d", n.ID, len(n.Data.Outputs)),
			Name:   name,
			Schema: dsl.OutputSchema{Type: typ},
		})
	}
}

// RequiredOutput 添加必填输出声明
func RequiredOutput(name, typ string) NodeOption {
	return func(n *dsl.NodeDef) {
		Output(name, typ)(n)
		n.Data.Outputs[len(n.Data.Outputs)-1].Required = true
	}
}

// DefaultOutput 添加带默认值的输出声明
func DefaultOutput(name, typ string, def any) NodeOption {
	return func(n *dsl.NodeDef) {
		Output(name, typ)(n)
		n.Data.Outputs[len(n.Data.Outputs)-1].Schema.Default = def
	}
}

// Parent 将节点放入迭代体
func Parent(iterationID string) NodeOption {
	return func(n *dsl.NodeDef) { n.Data.ParentID = iterationID }
}

// Alias 设置节点别名
func Alias(name string) NodeOption {
	return func(n *dsl.NodeDef) { n.Data.NodeMeta.AliasName = name }
}

// Retry 设置重试与错误处理配置
func Retry(rc dsl.RetryConfig) NodeOption {
	return func(n *dsl.NodeDef) { n.Data.RetryConfig = &rc }
}

// Ref 引用另一节点的输出
func Ref(nodeID, name string) dsl.ValueDef {
	return dsl.ValueDef{Type: dsl.ValueTypeRef, Content: map[string]any{"nodeId": nodeID, "name": name}}
}

// Literal 字面量输入
func Literal(v any) dsl.ValueDef {
	return dsl.ValueDef{Type: dsl.ValueTypeLiteral, Content: v}
}

// =============================================================================
// 🧩 常用节点
// =============================================================================

// Start 开始节点
func Start(id string, opts ...NodeOption) dsl.NodeDef {
	return Node(id, nil, opts...)
}

// End 以模板输出的结束节点
func End(id, template string, opts ...NodeOption) dsl.NodeDef {
	return Node(id, map[string]any{"outputMode": 1, "template": template}, opts...)
}

// StreamingEnd 流式输出的结束节点
func StreamingEnd(id, template string, opts ...NodeOption) dsl.NodeDef {
	return Node(id, map[string]any{"outputMode": 1, "template": template, "streamOutput": true}, opts...)
}

// VariableEnd 以变量输出的结束节点
func VariableEnd(id string, opts ...NodeOption) dsl.NodeDef {
	return Node(id, map[string]any{"outputMode": 0}, opts...)
}

// LLM 大模型节点
func LLM(id, template string, opts ...NodeOption) dsl.NodeDef {
	return Node(id, map[string]any{"model": "mock-model", "template": template}, append([]NodeOption{Output("output", "string")}, opts...)...)
}

// TextJoiner 文本拼接节点
func TextJoiner(id, prompt string, opts ...NodeOption) dsl.NodeDef {
	return Node(id, map[string]any{"mode": 0, "prompt": prompt}, append([]NodeOption{Output("output", "string")}, opts...)...)
}

// Case if-else 分支
func Case(id string, level int, op string, conds ...map[string]any) map[string]any {
	list := make([]any, len(conds))
	for i, c := range conds {
		list[i] = c
	}
	return map[string]any{"id": id, "level": level, "logicalOperator": op, "conditions": list}
}

// Cond if-else 条件
func Cond(left, op, right string) map[string]any {
	return map[string]any{"leftVarIndex": left, "compareOperator": op, "rightVarIndex": right}
}

// IfElse 条件分支节点
func IfElse(id string, cases []map[string]any, opts ...NodeOption) dsl.NodeDef {
	list := make([]any, len(cases))
	for i, c := range cases {
		list[i] = c
	}
	return Node(id, map[string]any{"cases": list}, opts...)
}

// =============================================================================
// 🔗 边与 DSL
// =============================================================================

// Edge 无分支句柄的边
func Edge(src, tgt string) dsl.EdgeDef {
	return dsl.EdgeDef{SourceNodeID: src, TargetNodeID: tgt}
}

// HandleEdge 带分支句柄的边
func HandleEdge(src, handle, tgt string) dsl.EdgeDef {
	return dsl.EdgeDef{SourceNodeID: src, TargetNodeID: tgt, SourceHandle: handle}
}

// Chain 依次连接节点
func Chain(ids ...string) []dsl.EdgeDef {
	var edges []dsl.EdgeDef
	for i := 1; i < len(ids); i++ {
		edges = append(edges, Edge(ids[i-1], ids[i]))
	}
	return edges
}

// Nodes 收集节点定义
func Nodes(nodes ...dsl.NodeDef) []dsl.NodeDef {
	return nodes
}

// Workflow 组装 DSL
func Workflow(nodes []dsl.NodeDef, edges ...dsl.EdgeDef) *dsl.WorkflowDSL {
	return &dsl.WorkflowDSL{Nodes: nodes, Edges: edges}
}
