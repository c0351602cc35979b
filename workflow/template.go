package workflow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/BaSui01/flowengine/types"
)

var placeholderRe = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

// templateSegment is a literal run of text or a variable placeholder.
type templateSegment struct {
	literal string
	varPath string
	isVar   bool
}

// root returns the input name a placeholder reads.
func (s templateSegment) root() string {
	if i := strings.IndexAny(s.varPath, ".["); i >= 0 {
		return s.varPath[:i]
	}
	return s.varPath
}

// parseTemplate splits "a {{x}} b" into literal and variable segments.
func parseTemplate(tpl string) []templateSegment {
	var segs []templateSegment
	last := 0
	for _, m := range placeholderRe.FindAllStringSubmatchIndex(tpl, -1) {
		if m[0] > last {
			segs = append(segs, templateSegment{literal: tpl[last:m[0]]})
		}
		segs = append(segs, templateSegment{varPath: tpl[m[2]:m[3]], isVar: true})
		last = m[1]
	}
	if last < len(tpl) {
		segs = append(segs, templateSegment{literal: tpl[last:]})
	}
	return segs
}

// renderTemplate substitutes every {{path}} with the matching input value.
// An unknown variable is a TEMPLATE_RENDER_ERROR.
func renderTemplate(tpl string, vars map[string]any) (string, error) {
	var b strings.Builder
	for _, seg := range parseTemplate(tpl) {
		if !seg.isVar {
			b.WriteString(seg.literal)
			continue
		}
		v, err := lookupPath(vars, seg.varPath)
		if err != nil {
			return "", types.Errorf(types.ErrTemplateRender, "cannot render {{%s}}", seg.varPath).WithCause(err)
		}
		b.WriteString(stringify(v))
	}
	return b.String(), nil
}

// stringify renders a pool value the way it appears inside prompts.
func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case bool:
		return strconv.FormatBool(val)
	case int, int64, int32, uint, uint64, uint32:
		return fmt.Sprint(val)
	default:
		return toJSON(val)
	}
}

// toJSON encodes v without HTML escaping.
func toJSON(v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Sprint(v)
	}
	return strings.TrimSuffix(buf.String(), "\n")
}
