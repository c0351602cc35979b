package workflow

import (
	"reflect"
	"strconv"
	"strings"

	"github.com/BaSui01/flowengine/types"
)

// pathSeg is one step of a variable path: a map key or a list index.
type pathSeg struct {
	key     string
	index   int
	isIndex bool
}

// parsePath splits paths like "result[0].field" or "items.0.name".
func parsePath(path string) ([]pathSeg, error) {
	if strings.TrimSpace(path) == "" {
		return nil, types.NewError(types.ErrVariableParse, "empty variable path")
	}
	var segs []pathSeg
	expectKey := true
	for i := 0; i < len(path); {
		switch c := path[i]; c {
		case '.':
			if expectKey {
				return nil, types.Errorf(types.ErrVariableParse, "empty segment in path %q", path)
			}
			expectKey = true
			i++
		case '[':
			if expectKey {
				return nil, types.Errorf(types.ErrVariableParse, "index without key in path %q", path)
			}
			end := strings.IndexByte(path[i:], ']')
			if end < 0 {
				return nil, types.Errorf(types.ErrVariableParse, "unclosed '[' in path %q", path)
			}
			n, err := strconv.Atoi(strings.TrimSpace(path[i+1 : i+end]))
			if err != nil || n < 0 {
				return nil, types.Errorf(types.ErrVariableParse, "invalid index %q in path %q", path[i+1:i+end], path)
			}
			segs = append(segs, pathSeg{index: n, isIndex: true})
			i += end + 1
			if i < len(path) && path[i] != '.' && path[i] != '[' {
				return nil, types.Errorf(types.ErrVariableParse, "unexpected %q after index in path %q", path[i], path)
			}
		case ']':
			return nil, types.Errorf(types.ErrVariableParse, "unexpected ']' in path %q", path)
		default:
			j := i
			for j < len(path) && path[j] != '.' && path[j] != '[' && path[j] != ']' {
				j++
			}
			segs = append(segs, pathSeg{key: strings.TrimSpace(path[i:j])})
			expectKey = false
			i = j
		}
	}
	if expectKey {
		return nil, types.Errorf(types.ErrVariableParse, "path %q ends with '.'", path)
	}
	return segs, nil
}

// descend walks segs into v. Missing keys and out of range indexes are
// VARIABLE_NOT_FOUND; indexing into the wrong shape is VARIABLE_PARSE_ERROR.
func descend(v any, segs []pathSeg, path string) (any, error) {
	cur := v
	for _, s := range segs {
		if cur == nil {
			return nil, types.Errorf(types.ErrVariableNotFound, "path %q reaches null", path)
		}
		rv := reflect.ValueOf(cur)
		switch {
		case s.isIndex:
			if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
				return nil, types.Errorf(types.ErrVariableParse, "cannot index %T in path %q", cur, path)
			}
			if s.index >= rv.Len() {
				return nil, types.Errorf(types.ErrVariableNotFound, "index %d out of range in path %q", s.index, path)
			}
			cur = rv.Index(s.index).Interface()
		case rv.Kind() == reflect.Map && rv.Type().Key().Kind() == reflect.String:
			val := rv.MapIndex(reflect.ValueOf(s.key).Convert(rv.Type().Key()))
			if !val.IsValid() {
				return nil, types.Errorf(types.ErrVariableNotFound, "key %q not found in path %q", s.key, path)
			}
			cur = val.Interface()
		case rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array:
			n, err := strconv.Atoi(s.key)
			if err != nil {
				return nil, types.Errorf(types.ErrVariableParse, "cannot read key %q of a list in path %q", s.key, path)
			}
			if n < 0 || n >= rv.Len() {
				return nil, types.Errorf(types.ErrVariableNotFound, "index %d out of range in path %q", n, path)
			}
			cur = rv.Index(n).Interface()
		default:
			return nil, types.Errorf(types.ErrVariableParse, "cannot read key %q of %T in path %q", s.key, cur, path)
		}
	}
	return cur, nil
}

// lookupPath resolves path against a map of named roots.
func lookupPath(roots map[string]any, path string) (any, error) {
	segs, err := parsePath(path)
	if err != nil {
		return nil, err
	}
	if segs[0].isIndex {
		return nil, types.Errorf(types.ErrVariableParse, "path %q must start with a name", path)
	}
	root, ok := roots[segs[0].key]
	if !ok {
		return nil, types.Errorf(types.ErrVariableNotFound, "variable %q not found", segs[0].key)
	}
	return descend(root, segs[1:], path)
}
