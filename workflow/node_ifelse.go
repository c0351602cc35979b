package workflow

import (
	"reflect"
	"sort"
	"strings"

	"github.com/BaSui01/flowengine/types"
	"github.com/BaSui01/flowengine/workflow/dsl"
)

// runIfElse evaluates the cases by ascending level and activates the first
// that holds, or the default case.
func (ec *EngineContext) runIfElse(n *Node, p *IfElseParams, inputs map[string]any) NodeRunResult {
	cases := append([]IfElseCase(nil), p.Cases...)
	sort.SliceStable(cases, func(i, j int) bool { return cases[i].Level < cases[j].Level })

	var fallback *IfElseCase
	for i := range cases {
		c := cases[i]
		if c.Level == DefaultCaseLevel {
			if fallback == nil {
				fallback = &cases[i]
			}
			continue
		}
		ok, err := evalCase(c, inputs)
		if err != nil {
			return failedErr(err.WithNode(n.ID))
		}
		if ok {
			return branch(c.ID)
		}
	}
	if fallback != nil {
		return branch(fallback.ID)
	}
	// 无命中且无默认分支：所有下游分支都被跳过
	return branch()
}

func branch(handles ...string) NodeRunResult {
	res := succeeded(nil)
	res.Handles = append([]string{}, handles...)
	return res
}

func evalCase(c IfElseCase, inputs map[string]any) (bool, *types.Error) {
	if c.compiled != nil {
		return c.compiled.Eval(inputs), nil
	}
	if c.Expression != "" {
		ok, err := dsl.Evaluate(c.Expression, inputs)
		if err != nil {
			return false, types.Errorf(types.ErrIfElseCondition, "case %s: invalid expression", c.ID).WithCause(err)
		}
		return ok, nil
	}
	if len(c.Conditions) == 0 {
		return false, nil
	}
	or := strings.EqualFold(c.LogicalOperator, "or")
	for _, cond := range c.Conditions {
		ok, err := evalCondition(cond, inputs)
		if err != nil {
			return false, types.Errorf(types.ErrIfElseCondition, "case %s", c.ID).WithCause(err)
		}
		if or && ok {
			return true, nil
		}
		if !or && !ok {
			return false, nil
		}
	}
	return !or, nil
}

func evalCondition(cond Condition, inputs map[string]any) (bool, *types.Error) {
	left, ok := inputs[cond.LeftVarIndex]
	if !ok {
		return false, types.Errorf(types.ErrIfElseCondition, "condition references unknown input %q", cond.LeftVarIndex)
	}
	right := inputs[cond.RightVarIndex]
	return compareValues(cond.CompareOperator, left, right)
}

var numericOps = map[string]string{"eq": "==", "ne": "!=", "gt": ">", "ge": ">=", "lt": "<", "le": "<="}

// compareValues applies one condition operator.
func compareValues(op string, left, right any) (bool, *types.Error) {
	switch op {
	case "contains":
		return containsValue(left, right), nil
	case "not_contains":
		return !containsValue(left, right), nil
	case "empty":
		return isEmpty(left), nil
	case "not_empty":
		return !isEmpty(left), nil
	case "is":
		return stringify(left) == stringify(right), nil
	case "is_not":
		return stringify(left) != stringify(right), nil
	case "start_with":
		return strings.HasPrefix(stringify(left), stringify(right)), nil
	case "end_with":
		return strings.HasSuffix(stringify(left), stringify(right)), nil
	case "null":
		return left == nil, nil
	case "not_null":
		return left != nil, nil
	}
	if sym, ok := numericOps[op]; ok {
		l, lok := dsl.ToFloat64(left)
		r, rok := dsl.ToFloat64(right)
		if !lok || !rok {
			return false, types.Errorf(types.ErrIfElseCondition, "operator %s needs numbers, got %v and %v", op, left, right)
		}
		return dsl.Compare(l, sym, r), nil
	}
	return false, types.Errorf(types.ErrIfElseCondition, "unknown operator %q", op)
}

func containsValue(container, item any) bool {
	switch c := container.(type) {
	case nil:
		return false
	case string:
		return strings.Contains(c, stringify(item))
	}
	v := reflect.ValueOf(container)
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		want := stringify(item)
		for i := 0; i < v.Len(); i++ {
			if stringify(v.Index(i).Interface()) == want {
				return true
			}
		}
	case reflect.Map:
		if v.Type().Key().Kind() == reflect.String {
			return v.MapIndex(reflect.ValueOf(stringify(item)).Convert(v.Type().Key())).IsValid()
		}
	}
	return false
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return s == ""
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return rv.Len() == 0
	}
	return false
}
