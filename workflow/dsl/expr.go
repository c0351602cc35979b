package dsl

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Expr is a compiled if-else case expression. Compile once at build time and
// evaluate per run; an Expr holds no run state and is safe for concurrent use.
//
// Grammar (lowest to highest precedence):
//
//	or      = and { "||" and }
//	and     = cmp { "&&" cmp }
//	cmp     = unary [ ("=="|"!="|">"|"<"|">="|"<=") unary ]
//	unary   = "!" unary | primary
//	primary = number | string | true | false | null | path | "(" or ")"
//
// A path is a dotted reference into the case inputs; numeric segments index
// lists, e.g. result.items.0.score.
type Expr struct {
	src  string
	root exprNode
}

// CompileExpr parses src. An empty expression compiles to a constant false.
func CompileExpr(src string) (*Expr, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return &Expr{root: literal{value: false}}, nil
	}
	p := &exprParser{lex: lexer{src: src}}
	p.next()
	root, err := p.or()
	if err != nil {
		return nil, err
	}
	if err := p.failed(); err != nil {
		return nil, err
	}
	if p.tok.kind != tokEOF {
		if isComparison(p.tok.text) {
			return nil, fmt.Errorf("comparison at offset %d cannot be chained", p.tok.pos)
		}
		return nil, fmt.Errorf("unexpected %q at offset %d", p.tok.text, p.tok.pos)
	}
	return &Expr{src: src, root: root}, nil
}

// Eval reports whether the expression holds for vars.
func (e *Expr) Eval(vars map[string]any) bool {
	return truthy(e.root.eval(vars))
}

func (e *Expr) String() string { return e.src }

// Evaluate compiles and evaluates expr in one step.
func Evaluate(expr string, vars map[string]any) (bool, error) {
	e, err := CompileExpr(expr)
	if err != nil {
		return false, err
	}
	return e.Eval(vars), nil
}

// ---------------------------------------------------------------------------
// AST
// ---------------------------------------------------------------------------

type exprNode interface {
	eval(vars map[string]any) any
}

type literal struct{ value any }

func (l literal) eval(map[string]any) any { return l.value }

type pathRef struct{ segments []string }

func (r pathRef) eval(vars map[string]any) any {
	return Lookup(vars, r.segments...)
}

type notExpr struct{ operand exprNode }

func (n notExpr) eval(vars map[string]any) any { return !truthy(n.operand.eval(vars)) }

type logicalExpr struct {
	and         bool
	left, right exprNode
}

func (l logicalExpr) eval(vars map[string]any) any {
	lv := truthy(l.left.eval(vars))
	if l.and != lv {
		// && 左侧为假或 || 左侧为真时短路
		return lv
	}
	return truthy(l.right.eval(vars))
}

type compareExpr struct {
	op          string
	left, right exprNode
}

func (c compareExpr) eval(vars map[string]any) any {
	return Compare(c.left.eval(vars), c.op, c.right.eval(vars))
}

// Lookup walks a dotted path through nested maps and lists. Missing keys and
// out-of-range indexes yield nil.
func Lookup(root map[string]any, segments ...string) any {
	var cur any = root
	for _, seg := range segments {
		switch c := cur.(type) {
		case map[string]any:
			v, ok := c[seg]
			if !ok {
				return nil
			}
			cur = v
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(c) {
				return nil
			}
			cur = c[i]
		default:
			return nil
		}
	}
	return cur
}

// ---------------------------------------------------------------------------
// lexer
// ---------------------------------------------------------------------------

type tokKind uint8

const (
	tokEOF tokKind = iota
	tokNumber
	tokString
	tokIdent
	tokOp
	tokLParen
	tokRParen
)

type tok struct {
	kind tokKind
	text string
	pos  int
}

type lexer struct {
	src  string
	pos  int
	prev tokKind
	err  error
}

var operators = []string{"==", "!=", ">=", "<=", "&&", "||", ">", "<", "!"}

func (l *lexer) scan() tok {
	for l.pos < len(l.src) {
		r, w := utf8.DecodeRuneInString(l.src[l.pos:])
		if !unicode.IsSpace(r) {
			break
		}
		l.pos += w
	}
	if l.pos >= len(l.src) {
		return tok{kind: tokEOF, pos: l.pos}
	}
	start := l.pos
	rest := l.src[l.pos:]
	r, w := utf8.DecodeRuneInString(rest)

	switch {
	case r == '(':
		l.pos++
		return l.emit(tok{kind: tokLParen, text: "(", pos: start})
	case r == ')':
		l.pos++
		return l.emit(tok{kind: tokRParen, text: ")", pos: start})
	case r == '"':
		return l.scanString(start)
	case isDigit(r), r == '-' && l.negativeAllowed() && len(rest) > 1 && isDigit(rune(rest[1])):
		return l.scanNumber(start)
	case unicode.IsLetter(r) || r == '_':
		l.pos += w
		for l.pos < len(l.src) {
			r, w = utf8.DecodeRuneInString(l.src[l.pos:])
			if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' && r != '.' {
				break
			}
			l.pos += w
		}
		return l.emit(tok{kind: tokIdent, text: l.src[start:l.pos], pos: start})
	}
	for _, op := range operators {
		if strings.HasPrefix(rest, op) {
			l.pos += len(op)
			return l.emit(tok{kind: tokOp, text: op, pos: start})
		}
	}
	l.err = fmt.Errorf("unexpected character %q at offset %d", r, start)
	return tok{kind: tokEOF, pos: start}
}

func (l *lexer) emit(t tok) tok {
	l.prev = t.kind
	return t
}

// 负号只出现在表达式开头、运算符或左括号之后
func (l *lexer) negativeAllowed() bool {
	return l.prev == tokEOF || l.prev == tokOp || l.prev == tokLParen
}

func (l *lexer) scanString(start int) tok {
	var sb strings.Builder
	i := start + 1
	for i < len(l.src) {
		c := l.src[i]
		switch {
		case c == '\\' && i+1 < len(l.src):
			_, w := utf8.DecodeRuneInString(l.src[i+1:])
			sb.WriteString(l.src[i+1 : i+1+w])
			i += 1 + w
		case c == '"':
			l.pos = i + 1
			return l.emit(tok{kind: tokString, text: sb.String(), pos: start})
		default:
			sb.WriteByte(c)
			i++
		}
	}
	l.err = fmt.Errorf("unterminated string at offset %d", start)
	return tok{kind: tokEOF, pos: start}
}

func (l *lexer) scanNumber(start int) tok {
	i := start
	if l.src[i] == '-' {
		i++
	}
	digits := func() {
		for i < len(l.src) && isDigit(rune(l.src[i])) {
			i++
		}
	}
	digits()
	if i < len(l.src) && l.src[i] == '.' {
		i++
		digits()
	}
	l.pos = i
	return l.emit(tok{kind: tokNumber, text: l.src[start:i], pos: start})
}

func isDigit(r rune) bool { return r >= '0' && r <= '9' }

// ---------------------------------------------------------------------------
// parser
// ---------------------------------------------------------------------------

type exprParser struct {
	lex lexer
	tok tok
}

func (p *exprParser) next() {
	p.tok = p.lex.scan()
}

func (p *exprParser) failed() error {
	return p.lex.err
}

func (p *exprParser) isOp(op string) bool {
	return p.tok.kind == tokOp && p.tok.text == op
}

func (p *exprParser) or() (exprNode, error) {
	return p.logical("||", false, p.and)
}

func (p *exprParser) and() (exprNode, error) {
	return p.logical("&&", true, p.cmp)
}

func (p *exprParser) logical(op string, isAnd bool, operand func() (exprNode, error)) (exprNode, error) {
	left, err := operand()
	if err != nil {
		return nil, err
	}
	for p.isOp(op) {
		p.next()
		right, err := operand()
		if err != nil {
			return nil, err
		}
		left = logicalExpr{and: isAnd, left: left, right: right}
	}
	return left, nil
}

func (p *exprParser) cmp() (exprNode, error) {
	left, err := p.unary()
	if err != nil {
		return nil, err
	}
	if p.tok.kind != tokOp || !isComparison(p.tok.text) {
		return left, nil
	}
	op := p.tok.text
	p.next()
	right, err := p.unary()
	if err != nil {
		return nil, err
	}
	return compareExpr{op: op, left: left, right: right}, nil
}

func (p *exprParser) unary() (exprNode, error) {
	if p.isOp("!") {
		p.next()
		operand, err := p.unary()
		if err != nil {
			return nil, err
		}
		return notExpr{operand: operand}, nil
	}
	return p.primary()
}

func (p *exprParser) primary() (exprNode, error) {
	if err := p.failed(); err != nil {
		return nil, err
	}
	t := p.tok
	switch t.kind {
	case tokEOF:
		return nil, fmt.Errorf("unexpected end of expression")
	case tokNumber:
		p.next()
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q at offset %d", t.text, t.pos)
		}
		return literal{value: f}, nil
	case tokString:
		p.next()
		return literal{value: t.text}, nil
	case tokIdent:
		p.next()
		switch t.text {
		case "true":
			return literal{value: true}, nil
		case "false":
			return literal{value: false}, nil
		case "null":
			return literal{value: nil}, nil
		}
		return pathRef{segments: strings.Split(t.text, ".")}, nil
	case tokLParen:
		p.next()
		inner, err := p.or()
		if err != nil {
			return nil, err
		}
		if p.tok.kind != tokRParen {
			return nil, fmt.Errorf("missing ')' for '(' at offset %d", t.pos)
		}
		p.next()
		return inner, nil
	}
	return nil, fmt.Errorf("unexpected %q at offset %d", t.text, t.pos)
}

func isComparison(op string) bool {
	switch op {
	case "==", "!=", ">", "<", ">=", "<=":
		return true
	}
	return false
}

// ---------------------------------------------------------------------------
// 值比较
// ---------------------------------------------------------------------------

// Compare applies a comparison operator. Numbers (including numeric strings)
// compare numerically, anything else by its %v form. nil sorts below every
// other value and equals only nil.
func Compare(left any, op string, right any) bool {
	var c int
	switch {
	case left == nil && right == nil:
		c = 0
	case left == nil:
		c = -1
	case right == nil:
		c = 1
	default:
		lf, lok := ToFloat64(left)
		rf, rok := ToFloat64(right)
		if lok && rok {
			c = cmpOrdered(lf, rf)
		} else {
			c = strings.Compare(fmt.Sprint(left), fmt.Sprint(right))
		}
	}
	switch op {
	case "==":
		return c == 0
	case "!=":
		return c != 0
	case ">":
		return c > 0
	case "<":
		return c < 0
	case ">=":
		return c >= 0
	case "<=":
		return c <= 0
	}
	return false
}

func cmpOrdered(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// ToFloat64 reports the numeric value of v when it has one.
func ToFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

func truthy(v any) bool {
	switch b := v.(type) {
	case nil:
		return false
	case bool:
		return b
	case string:
		return b != "" && b != "false" && b != "0"
	}
	if f, ok := ToFloat64(v); ok {
		return f != 0
	}
	return true
}
