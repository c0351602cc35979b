package workflow

import (
	"context"
	"encoding/json"
	"math"
	"reflect"
	"strings"

	"github.com/BaSui01/flowengine/sandbox"
	"github.com/BaSui01/flowengine/types"
)

// runCode calls main(**inputs) in the sandbox and checks the returned object
// against the declared outputs.
func (ec *EngineContext) runCode(ctx context.Context, n *Node, p *CodeParams, inputs map[string]any) NodeRunResult {
	script, err := codeHarness(p.Code, inputs)
	if err != nil {
		return failed(err, types.ErrCodeExecution, "encode code inputs")
	}

	mode := p.Executor
	if mode == "" {
		mode = ec.deps.Config.Sandbox.Mode
	}
	stdout, err := ec.deps.CodeExecutor.Execute(ctx, &sandbox.Request{
		ID:       n.ID,
		Mode:     sandbox.Mode(mode),
		Language: sandbox.Language(p.Language),
		Code:     script,
		Timeout:  seconds(p.Timeout),
		AppID:    ec.input.AppID,
		UID:      ec.input.UID,
	})
	if err != nil {
		return failed(err, types.ErrCodeExecution, "code execution failed")
	}

	result, err := parseCodeOutput(stdout)
	if err != nil {
		return failedErr(types.NewError(types.ErrCodeExecution, "code must return a JSON object from main").WithCause(err))
	}

	outputs := make(map[string]any, len(n.Outputs))
	for _, o := range n.Outputs {
		v, ok := result[o.Name]
		if !ok {
			if o.Required {
				return failedErr(types.Errorf(types.ErrCodeExecution, "main did not return required output %q", o.Name))
			}
			outputs[o.Name] = o.Schema.Default
			continue
		}
		if !checkType(o.Schema.Type, v) {
			return failedErr(types.Errorf(types.ErrCodeExecution, "output %q is not of type %s", o.Name, o.Schema.Type))
		}
		outputs[o.Name] = v
	}
	return succeeded(outputs)
}

// codeHarness appends the call of main with the JSON encoded inputs.
func codeHarness(code string, inputs map[string]any) (string, error) {
	if inputs == nil {
		inputs = map[string]any{}
	}
	raw, err := json.Marshal(inputs)
	if err != nil {
		return "", err
	}
	lit, err := json.Marshal(string(raw))
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString(code)
	b.WriteString("\nimport json as _fe_json\n")
	b.WriteString("_fe_inputs = _fe_json.loads(")
	b.Write(lit)
	b.WriteString(")\n")
	b.WriteString("print(_fe_json.dumps(main(**_fe_inputs), ensure_ascii=False))\n")
	return b.String(), nil
}

// parseCodeOutput decodes the last non-empty stdout line; earlier lines are
// the user's own prints.
func parseCodeOutput(stdout string) (map[string]any, error) {
	lines := strings.Split(strings.TrimRight(stdout, "\r\n"), "\n")
	last := ""
	for i := len(lines) - 1; i >= 0; i-- {
		if s := strings.TrimSpace(lines[i]); s != "" {
			last = s
			break
		}
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(last), &out); err != nil {
		return nil, err
	}
	if out == nil {
		return nil, errNotObject
	}
	return out, nil
}

var errNotObject = types.NewError(types.ErrCodeExecution, "result is not an object")

// checkType reports whether v fits a declared schema type. Unknown types and
// nil values are accepted.
func checkType(schemaType string, v any) bool {
	if v == nil {
		return true
	}
	switch {
	case schemaType == "string":
		_, ok := v.(string)
		return ok
	case schemaType == "integer":
		switch n := v.(type) {
		case int, int32, int64, uint, uint32, uint64:
			return true
		case float64:
			return n == math.Trunc(n)
		}
		return false
	case schemaType == "number":
		switch v.(type) {
		case int, int32, int64, uint, uint32, uint64, float32, float64:
			return true
		}
		return false
	case schemaType == "boolean":
		_, ok := v.(bool)
		return ok
	case schemaType == "object":
		return reflect.ValueOf(v).Kind() == reflect.Map
	case strings.HasPrefix(schemaType, "array"):
		k := reflect.ValueOf(v).Kind()
		return k == reflect.Slice || k == reflect.Array
	}
	return true
}
