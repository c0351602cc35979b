package dsl

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/BaSui01/flowengine/types"
)

// envelope 兼容 {"data": {...}} 包装格式
type envelope struct {
	Data        *WorkflowDSL `yaml:"data" json:"data"`
	WorkflowDSL `yaml:",inline"`
}

// ParseFile 从文件解析 DSL
func ParseFile(filename string) (*WorkflowDSL, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, types.NewError(types.ErrDSLParse, "read DSL file").WithCause(err)
	}
	return Parse(data)
}

// Parse 解析 JSON 或 YAML 格式的 DSL 并做结构校验。
// 以 '{' 开头的内容按 JSON 解析（保持数字为 float64），其余按 YAML 解析。
func Parse(data []byte) (*WorkflowDSL, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, types.NewError(types.ErrDSLParse, "empty DSL")
	}

	var env envelope
	if trimmed[0] == '{' {
		if err := json.Unmarshal(trimmed, &env); err != nil {
			return nil, types.NewError(types.ErrDSLParse, "parse JSON").WithCause(err)
		}
	} else {
		if err := yaml.Unmarshal(trimmed, &env); err != nil {
			return nil, types.NewError(types.ErrDSLParse, "parse YAML").WithCause(err)
		}
	}

	dsl := env.WorkflowDSL
	if env.Data != nil {
		dsl = *env.Data
	}
	normalize(&dsl)

	if errs := NewValidator().Validate(&dsl); len(errs) > 0 {
		return nil, joinValidation(errs)
	}
	return &dsl, nil
}

// normalize 将 YAML 解析出的 map[string]interface{} 统一为 JSON 风格的值，
// 使引用内容和节点参数在两种格式下结构一致。
func normalize(dsl *WorkflowDSL) {
	for i := range dsl.Nodes {
		data := &dsl.Nodes[i].Data
		if data.NodeParam == nil {
			data.NodeParam = map[string]any{}
		}
		data.NodeParam = normalizeValue(data.NodeParam).(map[string]any)
		for j := range data.Inputs {
			data.Inputs[j].Schema.Value.Content = normalizeValue(data.Inputs[j].Schema.Value.Content)
		}
		for j := range data.Outputs {
			data.Outputs[j].Schema.Default = normalizeValue(data.Outputs[j].Schema.Default)
		}
		if rc := data.RetryConfig; rc != nil && rc.CustomOutput != nil {
			rc.CustomOutput = normalizeValue(rc.CustomOutput).(map[string]any)
		}
	}
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalizeValue(item)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[fmt.Sprint(k)] = normalizeValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeValue(item)
		}
		return out
	case int:
		return float64(val)
	case int64:
		return float64(val)
	case uint64:
		return float64(val)
	default:
		return v
	}
}

// DecodeParam 将节点的 nodeParam 解码到类型化参数结构
func DecodeParam(node NodeDef, out any) error {
	raw, err := json.Marshal(node.Data.NodeParam)
	if err != nil {
		return types.Errorf(types.ErrNodeParamSchema, "node %s: encode nodeParam", node.ID).WithCause(err).WithNode(node.ID)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return types.Errorf(types.ErrNodeParamSchema, "node %s: invalid nodeParam", node.ID).WithCause(err).WithNode(node.ID)
	}
	return nil
}

// Marshal 将 DSL 编码为 JSON
func Marshal(dsl *WorkflowDSL) ([]byte, error) {
	return json.Marshal(dsl)
}
