package dsl

import (
	"errors"
	"fmt"
	"strings"

	"github.com/BaSui01/flowengine/types"
)

// 节点类型前缀中的开始/结束节点
const (
	startNodeType = "node-start"
	endNodeType   = "node-end"
)

// Validator DSL 结构验证器。只检查图结构与引用完整性，
// 节点参数的类型校验在 workflow.Builder 构建节点时完成。
type Validator struct{}

// NewValidator 创建验证器
func NewValidator() *Validator {
	return &Validator{}
}

// Validate 验证 DSL 定义，返回所有发现的问题
func (v *Validator) Validate(dsl *WorkflowDSL) []error {
	var errs []error

	if len(dsl.Nodes) == 0 {
		return []error{fmt.Errorf("nodes must have at least one node")}
	}

	// 收集所有节点 ID
	nodeIDs := make(map[string]NodeDef, len(dsl.Nodes))
	starts := 0
	for _, node := range dsl.Nodes {
		if node.ID == "" {
			errs = append(errs, fmt.Errorf("node ID is required"))
			continue
		}
		if _, dup := nodeIDs[node.ID]; dup {
			errs = append(errs, fmt.Errorf("duplicate node ID: %s", node.ID))
		}
		nodeIDs[node.ID] = node
		if node.NodeType() == "" {
			errs = append(errs, fmt.Errorf("node %s: missing node type prefix", node.ID))
		}
		if node.NodeType() == startNodeType && node.Data.ParentID == "" {
			starts++
		}
	}
	if starts != 1 {
		errs = append(errs, fmt.Errorf("workflow requires exactly one %s node, found %d", startNodeType, starts))
	}

	// 边引用
	for i, e := range dsl.Edges {
		if _, ok := nodeIDs[e.SourceNodeID]; !ok {
			errs = append(errs, fmt.Errorf("edge %d: source node %q does not exist", i, e.SourceNodeID))
		}
		if _, ok := nodeIDs[e.TargetNodeID]; !ok {
			errs = append(errs, fmt.Errorf("edge %d: target node %q does not exist", i, e.TargetNodeID))
		}
		if e.SourceNodeID == e.TargetNodeID && e.SourceNodeID != "" {
			errs = append(errs, fmt.Errorf("edge %d: self loop on %s", i, e.SourceNodeID))
		}
	}

	for _, node := range dsl.Nodes {
		errs = append(errs, v.validateNode(node, nodeIDs)...)
	}
	return errs
}

// validateNode 验证单个节点的输入输出声明
func (v *Validator) validateNode(node NodeDef, nodeIDs map[string]NodeDef) []error {
	var errs []error

	if node.Data.ParentID != "" {
		if parent, ok := nodeIDs[node.Data.ParentID]; !ok {
			errs = append(errs, fmt.Errorf("node %s: parent %q does not exist", node.ID, node.Data.ParentID))
		} else if parent.NodeType() != "iteration" {
			errs = append(errs, fmt.Errorf("node %s: parent %q is not an iteration node", node.ID, node.Data.ParentID))
		}
	}

	seen := make(map[string]bool, len(node.Data.Inputs))
	for _, in := range node.Data.Inputs {
		if in.Name == "" {
			errs = append(errs, fmt.Errorf("node %s: input name is required", node.ID))
			continue
		}
		if seen[in.Name] {
			errs = append(errs, fmt.Errorf("node %s: duplicate input %q", node.ID, in.Name))
		}
		seen[in.Name] = true

		switch in.Schema.Value.Type {
		case ValueTypeLiteral:
		case ValueTypeRef:
			ref, ok := in.Schema.Value.Ref()
			if !ok {
				errs = append(errs, fmt.Errorf("node %s: input %q has malformed reference", node.ID, in.Name))
				continue
			}
			if _, exists := nodeIDs[ref.NodeID]; !exists {
				errs = append(errs, fmt.Errorf("node %s: input %q references unknown node %q", node.ID, in.Name, ref.NodeID))
			}
		default:
			errs = append(errs, fmt.Errorf("node %s: input %q has invalid value type %q", node.ID, in.Name, in.Schema.Value.Type))
		}
	}

	outSeen := make(map[string]bool, len(node.Data.Outputs))
	for _, out := range node.Data.Outputs {
		if out.Name == "" {
			errs = append(errs, fmt.Errorf("node %s: output name is required", node.ID))
			continue
		}
		if outSeen[out.Name] {
			errs = append(errs, fmt.Errorf("node %s: duplicate output %q", node.ID, out.Name))
		}
		outSeen[out.Name] = true
	}

	if rc := node.Data.RetryConfig; rc != nil {
		if rc.MaxRetries < 0 {
			errs = append(errs, fmt.Errorf("node %s: maxRetries must not be negative", node.ID))
		}
		if rc.ErrorStrategy < ErrorStrategyFail || rc.ErrorStrategy > ErrorStrategyFailBranch {
			errs = append(errs, fmt.Errorf("node %s: invalid errorStrategy %d", node.ID, rc.ErrorStrategy))
		}
	}

	return errs
}

// joinValidation 将校验错误合并为一个 DSL_SCHEMA_ERROR
func joinValidation(errs []error) error {
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return types.NewError(types.ErrDSLSchema, "validation errors: "+strings.Join(msgs, "; ")).
		WithCause(errors.Join(errs...))
}
