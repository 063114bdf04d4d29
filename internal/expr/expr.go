// Package expr evaluates the boolean conditions used by expression
// conditions. Expressions are compiled and run by
// [github.com/expr-lang/expr] with a few framecast additions:
//
//	has("vip") && %recipient_world% == "lobby"
//	!(%online% < 10) || has('staff')
//
// %name% reads a placeholder for the recipient and has("capability") asks
// the capability provider. Comparisons are numeric when both sides parse as
// numbers and lexical otherwise, so placeholder values, which are always
// strings, compare the way they read. Operands of !, && and || and the
// result itself use truthiness: false, 0, "", "0" and "false" are false.
package expr

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/vm"

	"github.com/MrWong99/framecast/pkg/anim"
)

var _ anim.ExpressionEvaluator = (*Evaluator)(nil)

var (
	// ErrSyntax wraps every compile failure.
	ErrSyntax = errors.New("expr: syntax error")

	// ErrUnknownPlaceholder is returned when an expression reads a
	// placeholder the value source does not know.
	ErrUnknownPlaceholder = errors.New("expr: unknown placeholder")
)

// Values supplies placeholder values.
type Values interface {
	Lookup(name string, r anim.Recipient) (string, bool)
}

const maxCached = 512

// Evaluator compiles and evaluates expressions. Compiled programs are cached
// by source text. It is safe for concurrent use.
type Evaluator struct {
	caps   anim.CapabilityProvider
	values Values

	mu    sync.Mutex
	cache map[string]*Program
}

// NewEvaluator returns an evaluator. Either collaborator may be nil: has()
// then reports false and placeholders fail with [ErrUnknownPlaceholder].
func NewEvaluator(caps anim.CapabilityProvider, values Values) *Evaluator {
	return &Evaluator{caps: caps, values: values, cache: make(map[string]*Program)}
}

// Evaluate implements [anim.ExpressionEvaluator].
func (e *Evaluator) Evaluate(src string, r anim.Recipient) (bool, error) {
	p, err := e.compile(src)
	if err != nil {
		return false, err
	}
	return p.Eval(Env{Recipient: r, Capabilities: e.caps, Values: e.values})
}

func (e *Evaluator) compile(src string) (*Program, error) {
	e.mu.Lock()
	p, ok := e.cache[src]
	e.mu.Unlock()
	if ok {
		return p, nil
	}
	p, err := Compile(src)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	if len(e.cache) >= maxCached {
		clear(e.cache)
	}
	e.cache[src] = p
	e.mu.Unlock()
	return p, nil
}

// Env is what a program reads while evaluating.
type Env struct {
	Recipient    anim.Recipient
	Capabilities anim.CapabilityProvider
	Values       Values
}

// scope is the expr environment of one run. It has no exported fields, so
// expressions reach it only through the functions below.
type scope struct {
	env    Env
	failed *error
}

// Program is a compiled expression.
type Program struct {
	src string
	vm  *vm.Program
}

// Compile compiles src.
func Compile(src string) (*Program, error) {
	if strings.TrimSpace(src) == "" {
		return nil, fmt.Errorf("%w: empty expression", ErrSyntax)
	}
	code, err := expr.Compile(rewritePlaceholders(src), options...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSyntax, err)
	}
	return &Program{src: src, vm: code}, nil
}

// String returns the source text.
func (p *Program) String() string { return p.src }

// Eval runs the program and returns its truth value.
func (p *Program) Eval(env Env) (bool, error) {
	var failed error
	out, err := expr.Run(p.vm, scope{env: env, failed: &failed})
	if failed != nil {
		return false, failed
	}
	if err != nil {
		return false, fmt.Errorf("expr: %s: %w", p.src, err)
	}
	return truthy(out), nil
}

// ── compile options ───────────────────────────────────────────────────────────

var options = []expr.Option{
	expr.Env(scope{}),
	expr.Patch(patcher{}),
	expr.Function("has", has, new(func(any, any) bool)),
	expr.Function("placeholder", lookup, new(func(any, string) string)),
	expr.Function("compare", compareOp, new(func(any, any, string) bool)),
	expr.Function("truthy", func(params ...any) (any, error) {
		return truthy(params[0]), nil
	}, new(func(any) bool)),
}

// patcher hands the run scope to has and placeholder, routes comparisons
// through compare and coerces logical operands with truthy.
type patcher struct{}

func (patcher) Visit(node *ast.Node) {
	switch n := (*node).(type) {
	case *ast.CallNode:
		if id, ok := n.Callee.(*ast.IdentifierNode); ok && (id.Value == "has" || id.Value == "placeholder") {
			n.Arguments = append([]ast.Node{&ast.IdentifierNode{Value: "$env"}}, n.Arguments...)
		}
	case *ast.BinaryNode:
		switch n.Operator {
		case "==", "!=", "<", "<=", ">", ">=":
			ast.Patch(node, &ast.CallNode{
				Callee:    &ast.IdentifierNode{Value: "compare"},
				Arguments: []ast.Node{n.Left, n.Right, &ast.StringNode{Value: n.Operator}},
			})
		case "&&", "||", "and", "or":
			n.Left, n.Right = truthyCall(n.Left), truthyCall(n.Right)
		}
	case *ast.UnaryNode:
		if n.Operator == "!" || n.Operator == "not" {
			n.Node = truthyCall(n.Node)
		}
	}
}

func truthyCall(n ast.Node) ast.Node {
	return &ast.CallNode{Callee: &ast.IdentifierNode{Value: "truthy"}, Arguments: []ast.Node{n}}
}

// rewritePlaceholders turns %name% into placeholder("name"). Quoted strings
// are copied untouched and a lone % stays the modulo operator.
func rewritePlaceholders(src string) string {
	var b strings.Builder
	for i := 0; i < len(src); i++ {
		switch c := src[i]; c {
		case '"', '\'', '`':
			j := i + 1
			for j < len(src) && src[j] != c {
				if src[j] == '\\' && c != '`' {
					j++
				}
				j++
			}
			if j >= len(src) {
				j = len(src) - 1
			}
			b.WriteString(src[i : j+1])
			i = j
		case '%':
			j := i + 1
			for j < len(src) && isNameByte(src[j]) {
				j++
			}
			if j > i+1 && j < len(src) && src[j] == '%' {
				b.WriteString(`placeholder("` + src[i+1:j] + `")`)
				i = j
				continue
			}
			b.WriteByte(c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func isNameByte(c byte) bool {
	return c == '_' || c == '.' || c == ':' || c == '-' ||
		'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z' || '0' <= c && c <= '9'
}

// ── functions ─────────────────────────────────────────────────────────────────

func has(params ...any) (any, error) {
	s := params[0].(scope)
	if s.env.Capabilities == nil {
		return false, nil
	}
	return s.env.Capabilities.Has(s.env.Recipient, text(params[1])), nil
}

func lookup(params ...any) (any, error) {
	s, name := params[0].(scope), params[1].(string)
	if s.env.Values != nil {
		if v, ok := s.env.Values.Lookup(name, s.env.Recipient); ok {
			return v, nil
		}
	}
	err := fmt.Errorf("%w %%%s%%", ErrUnknownPlaceholder, name)
	*s.failed = err
	return nil, err
}

func compareOp(params ...any) (any, error) {
	c := compare(params[0], params[1])
	switch op := params[2].(string); op {
	case "==":
		return c == 0, nil
	case "!=":
		return c != 0, nil
	case "<":
		return c < 0, nil
	case "<=":
		return c <= 0, nil
	case ">":
		return c > 0, nil
	case ">=":
		return c >= 0, nil
	default:
		return nil, fmt.Errorf("expr: unknown comparison %q", op)
	}
}

// ── values ────────────────────────────────────────────────────────────────────

func text(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}

func number(v any) (float64, bool) {
	switch v := v.(type) {
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case float64:
		return v, true
	case string:
		n, err := strconv.ParseFloat(v, 64)
		return n, err == nil
	}
	return 0, false
}

func truthy(v any) bool {
	switch v := v.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		switch v {
		case "", "false", "0":
			return false
		}
		return true
	}
	if n, ok := number(v); ok {
		return n != 0
	}
	return true
}

// compare returns -1, 0 or 1.
func compare(a, b any) int {
	if x, ok := number(a); ok {
		if y, ok := number(b); ok {
			switch {
			case x < y:
				return -1
			case x > y:
				return 1
			}
			return 0
		}
	}
	return strings.Compare(text(a), text(b))
}
