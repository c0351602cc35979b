package workflow

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/BaSui01/flowengine/testutil"
	"github.com/BaSui01/flowengine/types"
)

func TestRenderTemplate(t *testing.T) {
	vars := map[string]any{
		"name":  "Ada",
		"n":     float64(3),
		"ok":    true,
		"list":  []any{"x", "y"},
		"user":  map[string]any{"tags": []any{"a", "b"}},
		"empty": nil,
	}
	tests := []struct {
		tpl  string
		want string
	}{
		{"hello {{name}}", "hello Ada"},
		{"{{ name }}!", "Ada!"},
		{"n={{n}} ok={{ok}}", "n=3 ok=true"},
		{"{{list}}", `["x","y"]`},
		{"{{user.tags[1]}}", "b"},
		{"{{list.0}}", "x"},
		{"[{{empty}}]", "[]"},
		{"no placeholders", "no placeholders"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.tpl, func(t *testing.T) {
			got, err := renderTemplate(tt.tpl, vars)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRenderTemplate_UnknownVariable(t *testing.T) {
	_, err := renderTemplate("hi {{who}}", map[string]any{})
	testutil.AssertErrorCode(t, err, types.ErrTemplateRender)
}

func TestParseTemplate_Roots(t *testing.T) {
	segs := parseTemplate("a {{x.y}} b {{z[0]}}{{w}}")
	var roots []string
	for _, s := range segs {
		if s.isVar {
			roots = append(roots, s.root())
		}
	}
	assert.Equal(t, []string{"x", "z", "w"}, roots)
	assert.Len(t, segs, 5)
}

func TestStringify(t *testing.T) {
	assert.Equal(t, "", stringify(nil))
	assert.Equal(t, "1.5", stringify(1.5))
	assert.Equal(t, "42", stringify(42))
	assert.Equal(t, "false", stringify(false))
	assert.Equal(t, `{"a":"<b>"}`, stringify(map[string]any{"a": "<b>"}))
}

func TestParsePath_Errors(t *testing.T) {
	for _, p := range []string{"", "a.", ".a", "a..b", "a[", "a[x]", "a[-1]", "a]", "[0]", "a[0]b"} {
		t.Run(p, func(t *testing.T) {
			_, err := parsePath(p)
			testutil.AssertErrorCode(t, err, types.ErrVariableParse)
		})
	}
}

func TestLookupPath(t *testing.T) {
	roots := map[string]any{
		"result": []any{map[string]any{"name": "first"}},
		"typed":  []string{"s0", "s1"},
		"str":    "text",
	}

	v, err := lookupPath(roots, "result[0].name")
	require.NoError(t, err)
	assert.Equal(t, "first", v)

	v, err = lookupPath(roots, "typed[1]")
	require.NoError(t, err)
	assert.Equal(t, "s1", v)

	_, err = lookupPath(roots, "result[3]")
	testutil.AssertErrorCode(t, err, types.ErrVariableNotFound)

	_, err = lookupPath(roots, "result[0].missing")
	testutil.AssertErrorCode(t, err, types.ErrVariableNotFound)

	_, err = lookupPath(roots, "str.field")
	testutil.AssertErrorCode(t, err, types.ErrVariableParse)

	_, err = lookupPath(roots, "nope")
	testutil.AssertErrorCode(t, err, types.ErrVariableNotFound)
}

// 不含占位符的模板原样输出
func TestRenderTemplate_LiteralProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		tpl := rapid.StringMatching(`[a-zA-Z0-9 ,.!?\-]{0,40}`).Draw(t, "tpl")
		got, err := renderTemplate(tpl, nil)
		if err != nil {
			t.Fatalf("render %q: %v", tpl, err)
		}
		if got != tpl {
			t.Fatalf("render %q = %q", tpl, got)
		}
	})
}

// 任意嵌套的 map/list 都能按生成的路径取回叶子值
func TestLookupPath_NestedProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		depth := rapid.IntRange(0, 5).Draw(t, "depth")
		leaf := rapid.String().Draw(t, "leaf")

		var value any = leaf
		var suffix strings.Builder
		segs := make([]string, depth)
		for i := depth - 1; i >= 0; i-- {
			if rapid.Bool().Draw(t, "list") {
				idx := rapid.IntRange(0, 3).Draw(t, "idx")
				list := make([]any, idx+1)
				list[idx] = value
				value = list
				segs[i] = "[" + itoa(idx) + "]"
			} else {
				key := rapid.StringMatching(`[a-z][a-z0-9_]{0,6}`).Draw(t, "key")
				value = map[string]any{key: value}
				segs[i] = "." + key
			}
		}
		for _, s := range segs {
			suffix.WriteString(s)
		}

		got, err := lookupPath(map[string]any{"root": value}, "root"+suffix.String())
		if err != nil {
			t.Fatalf("lookup root%s: %v", suffix.String(), err)
		}
		if got != leaf {
			t.Fatalf("lookup root%s = %v, want %q", suffix.String(), got, leaf)
		}
	})
}

func itoa(n int) string {
	return strings.TrimSpace(stringify(n))
}
