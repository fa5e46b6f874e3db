// Package expr implements the restricted row-expression language used by the
// conditional_map, filter, and derive transformations.
//
// The grammar is deliberately small: column references, int/float/string/bool
// literals, comparison and arithmetic operators, and boolean combinators.
// There is no function call syntax, no indexing, and no general evaluation of
// arbitrary code. Unknown identifiers and operators fail with *Error rather
// than panicking.
//
//	visit_count >= 3 and gender == 'M'
//	(value * 2) + 1
//	not discharged
//
// Null semantics follow the source data's convention: any comparison against
// a null cell is false (except !=, which is true when exactly one side is
// null), and arithmetic involving a null yields null.
package expr

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
)

// Error reports a malformed or unevaluable expression.
type Error struct {
	Expr string
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("expr: %s in %q", e.Msg, e.Expr)
}

func errf(src, format string, args ...any) error {
	return &Error{Expr: src, Msg: fmt.Sprintf(format, args...)}
}

// Lookup resolves a column reference for the current row. ok is false when
// the column does not exist (which is an evaluation error, distinct from a
// null cell).
type Lookup func(name string) (any, bool)

// Expr is a parsed expression, reusable across rows.
type Expr struct {
	src  string
	root node
}

// Parse compiles an expression string.
func Parse(src string) (*Expr, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{src: src, toks: toks}
	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if !p.eof() {
		return nil, errf(src, "unexpected token %q", p.peek().text)
	}
	return &Expr{src: src, root: root}, nil
}

// Eval evaluates the expression against one row. The result is nil, bool,
// int64, float64, or string.
func (e *Expr) Eval(lookup Lookup) (any, error) {
	return e.root.eval(e.src, lookup)
}

// EvalBool evaluates a predicate; a nil result (null-tainted comparison)
// counts as false.
func (e *Expr) EvalBool(lookup Lookup) (bool, error) {
	v, err := e.Eval(lookup)
	if err != nil {
		return false, err
	}
	switch t := v.(type) {
	case nil:
		return false, nil
	case bool:
		return t, nil
	default:
		return false, errf(e.src, "expression is not a predicate (got %T)", v)
	}
}

// ---- lexer ----

type tokKind int

const (
	tokIdent tokKind = iota
	tokNumber
	tokString
	tokOp
	tokLParen
	tokRParen
)

type token struct {
	kind tokKind
	text string
}

func lex(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(':
			toks = append(toks, token{tokLParen, "("})
			i++
		case c == ')':
			toks = append(toks, token{tokRParen, ")"})
			i++
		case c == '\'' || c == '"':
			quote := c
			j := i + 1
			for j < len(src) && src[j] != quote {
				j++
			}
			if j >= len(src) {
				return nil, errf(src, "unterminated string literal")
			}
			toks = append(toks, token{tokString, src[i+1 : j]})
			i = j + 1
		case isDigit(c) || (c == '.' && i+1 < len(src) && isDigit(src[i+1])):
			j := i
			for j < len(src) && (isDigit(src[j]) || src[j] == '.') {
				j++
			}
			toks = append(toks, token{tokNumber, src[i:j]})
			i = j
		case isIdentStart(rune(c)):
			j := i
			for j < len(src) && isIdentPart(rune(src[j])) {
				j++
			}
			toks = append(toks, token{tokIdent, src[i:j]})
			i = j
		default:
			op := matchOp(src[i:])
			if op == "" {
				return nil, errf(src, "unsupported character %q", string(c))
			}
			toks = append(toks, token{tokOp, op})
			i += len(op)
		}
	}
	return toks, nil
}

func matchOp(s string) string {
	for _, op := range [...]string{"==", "!=", "<=", ">=", "&&", "||", "<", ">", "+", "-", "*", "/", "%", "!"} {
		if strings.HasPrefix(s, op) {
			return op
		}
	}
	return ""
}

func isDigit(c byte) bool      { return c >= '0' && c <= '9' }
func isIdentStart(r rune) bool { return r == '_' || unicode.IsLetter(r) }
func isIdentPart(r rune) bool  { return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) }

// ---- parser ----

type parser struct {
	src  string
	toks []token
	pos  int
}

func (p *parser) eof() bool   { return p.pos >= len(p.toks) }
func (p *parser) peek() token { return p.toks[p.pos] }
func (p *parser) advance() token {
	t := p.toks[p.pos]
	p.pos++
	return t
}

func (p *parser) acceptOp(ops ...string) (string, bool) {
	if p.eof() {
		return "", false
	}
	t := p.peek()
	for _, op := range ops {
		if (t.kind == tokOp && t.text == op) ||
			(t.kind == tokIdent && strings.EqualFold(t.text, op)) {
			p.advance()
			return strings.ToLower(op), true
		}
	}
	return "", false
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.acceptOp("or", "||"); !ok {
			return left, nil
		}
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &boolNode{op: "or", left: left, right: right}
	}
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.acceptOp("and", "&&"); !ok {
			return left, nil
		}
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &boolNode{op: "and", left: left, right: right}
	}
}

func (p *parser) parseNot() (node, error) {
	if _, ok := p.acceptOp("not", "!"); ok {
		inner, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &notNode{inner: inner}, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (node, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	if op, ok := p.acceptOp("==", "!=", "<=", ">=", "<", ">"); ok {
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		return &cmpNode{op: op, left: left, right: right}, nil
	}
	return left, nil
}

func (p *parser) parseAdditive() (node, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.acceptOp("+", "-")
		if !ok {
			return left, nil
		}
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		left = &arithNode{op: op, left: left, right: right}
	}
}

func (p *parser) parseTerm() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.acceptOp("*", "/", "%")
		if !ok {
			return left, nil
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &arithNode{op: op, left: left, right: right}
	}
}

func (p *parser) parseUnary() (node, error) {
	if _, ok := p.acceptOp("-"); ok {
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &negNode{inner: inner}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (node, error) {
	if p.eof() {
		return nil, errf(p.src, "unexpected end of expression")
	}
	t := p.advance()
	switch t.kind {
	case tokNumber:
		if strings.Contains(t.text, ".") {
			f, err := strconv.ParseFloat(t.text, 64)
			if err != nil {
				return nil, errf(p.src, "bad number %q", t.text)
			}
			return &litNode{val: f}, nil
		}
		n, err := strconv.ParseInt(t.text, 10, 64)
		if err != nil {
			return nil, errf(p.src, "bad number %q", t.text)
		}
		return &litNode{val: n}, nil
	case tokString:
		return &litNode{val: t.text}, nil
	case tokIdent:
		switch strings.ToLower(t.text) {
		case "true":
			return &litNode{val: true}, nil
		case "false":
			return &litNode{val: false}, nil
		case "null", "none":
			return &litNode{val: nil}, nil
		}
		return &identNode{name: t.text}, nil
	case tokLParen:
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.eof() || p.peek().kind != tokRParen {
			return nil, errf(p.src, "missing closing parenthesis")
		}
		p.advance()
		return inner, nil
	default:
		return nil, errf(p.src, "unexpected token %q", t.text)
	}
}

// ---- evaluation ----

type node interface {
	eval(src string, lookup Lookup) (any, error)
}

type litNode struct{ val any }

func (n *litNode) eval(string, Lookup) (any, error) { return n.val, nil }

type identNode struct{ name string }

func (n *identNode) eval(src string, lookup Lookup) (any, error) {
	v, ok := lookup(n.name)
	if !ok {
		return nil, errf(src, "unknown identifier %q", n.name)
	}
	return v, nil
}

type notNode struct{ inner node }

func (n *notNode) eval(src string, lookup Lookup) (any, error) {
	v, err := n.inner.eval(src, lookup)
	if err != nil {
		return nil, err
	}
	b, ok := v.(bool)
	if !ok {
		return nil, errf(src, "operand of 'not' is not boolean (got %T)", v)
	}
	return !b, nil
}

type boolNode struct {
	op          string
	left, right node
}

func (n *boolNode) eval(src string, lookup Lookup) (any, error) {
	lv, err := n.left.eval(src, lookup)
	if err != nil {
		return nil, err
	}
	lb, ok := lv.(bool)
	if !ok {
		return nil, errf(src, "operand of %q is not boolean (got %T)", n.op, lv)
	}
	// Short-circuit.
	if n.op == "and" && !lb {
		return false, nil
	}
	if n.op == "or" && lb {
		return true, nil
	}
	rv, err := n.right.eval(src, lookup)
	if err != nil {
		return nil, err
	}
	rb, ok := rv.(bool)
	if !ok {
		return nil, errf(src, "operand of %q is not boolean (got %T)", n.op, rv)
	}
	return rb, nil
}

type cmpNode struct {
	op          string
	left, right node
}

func (n *cmpNode) eval(src string, lookup Lookup) (any, error) {
	lv, err := n.left.eval(src, lookup)
	if err != nil {
		return nil, err
	}
	rv, err := n.right.eval(src, lookup)
	if err != nil {
		return nil, err
	}

	// Null taints ordering comparisons; equality treats null as unequal to
	// everything, including another null.
	if lv == nil || rv == nil {
		return n.op == "!=", nil
	}

	if lf, lok := toFloat(lv); lok {
		if rf, rok := toFloat(rv); rok {
			return compareOrdered(n.op, lf, rf), nil
		}
	}
	lb, lok := lv.(bool)
	rb, rok := rv.(bool)
	if lok && rok {
		switch n.op {
		case "==":
			return lb == rb, nil
		case "!=":
			return lb != rb, nil
		default:
			return nil, errf(src, "operator %q not defined for booleans", n.op)
		}
	}
	return compareOrdered(n.op, stringify(lv), stringify(rv)), nil
}

func compareOrdered[T float64 | string](op string, a, b T) bool {
	switch op {
	case "==":
		return a == b
	case "!=":
		return a != b
	case "<":
		return a < b
	case "<=":
		return a <= b
	case ">":
		return a > b
	case ">=":
		return a >= b
	}
	return false
}

type negNode struct{ inner node }

func (n *negNode) eval(src string, lookup Lookup) (any, error) {
	v, err := n.inner.eval(src, lookup)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	if i, ok := v.(int64); ok {
		return -i, nil
	}
	f, ok := toFloat(v)
	if !ok {
		return nil, errf(src, "cannot negate %T", v)
	}
	return -f, nil
}

type arithNode struct {
	op          string
	left, right node
}

func (n *arithNode) eval(src string, lookup Lookup) (any, error) {
	lv, err := n.left.eval(src, lookup)
	if err != nil {
		return nil, err
	}
	rv, err := n.right.eval(src, lookup)
	if err != nil {
		return nil, err
	}

	// Null propagates through arithmetic.
	if lv == nil || rv == nil {
		return nil, nil
	}

	// String concatenation.
	if n.op == "+" {
		ls, lok := lv.(string)
		rs, rok := rv.(string)
		if lok && rok {
			return ls + rs, nil
		}
	}

	lf, lok := toFloat(lv)
	rf, rok := toFloat(rv)
	if !lok || !rok {
		return nil, errf(src, "operator %q needs numeric operands (got %T, %T)", n.op, lv, rv)
	}

	switch n.op {
	case "+", "-", "*":
		var f float64
		switch n.op {
		case "+":
			f = lf + rf
		case "-":
			f = lf - rf
		case "*":
			f = lf * rf
		}
		if isIntegral(lv) && isIntegral(rv) {
			return int64(f), nil
		}
		return f, nil
	case "/":
		if rf == 0 {
			return nil, errf(src, "division by zero")
		}
		return lf / rf, nil
	case "%":
		if rf == 0 {
			return nil, errf(src, "modulo by zero")
		}
		return math.Mod(lf, rf), nil
	}
	return nil, errf(src, "unsupported operator %q", n.op)
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case float32:
		return float64(t), true
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// isIntegral reports whether v is an integer value (not merely an integral
// float): used to keep int arithmetic int.
func isIntegral(v any) bool {
	switch v.(type) {
	case int, int32, int64:
		return true
	}
	return false
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	default:
		return fmt.Sprint(v)
	}
}
