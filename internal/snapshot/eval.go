package snapshot

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"
	"github.com/expr-lang/expr/vm"

	"walkpipe/pkg/walker"
)

type exprOption = expr.Option

const nullIdent = "NULL"

// Names a symbol may not take: the element binding, the helper functions
// and expr's own keywords.
var reserved = map[string]bool{
	walker.CurrentIdent: true, nullIdent: true,
	"deref": true, "read": true, "idiv": true, "member": true, "load": true, "sizeof": true, "as": true,
	"true": true, "false": true, "nil": true, "not": true, "and": true, "or": true,
	"in": true, "matches": true, "contains": true, "startsWith": true, "endsWith": true,
	"let": true, "if": true, "else": true, "len": true,
}

type compiled struct {
	program *vm.Program
	tree    ast.Node
	idents  []string
}

type identVisitor struct {
	env   map[string]any
	seen  map[string]bool
	names []string
}

func (v *identVisitor) Visit(node *ast.Node) {
	id, ok := (*node).(*ast.IdentifierNode)
	if !ok || v.seen[id.Value] {
		return
	}
	if _, known := v.env[id.Value]; known {
		v.seen[id.Value] = true
		v.names = append(v.names, id.Value)
	}
}

// wrapLiterals rewrites integer literals above math.MaxInt64 as their
// two's-complement int value, so that 0xffffffffffffffff reads as -1.
// expr parses integer literals as int; quoted strings are left alone.
func wrapLiterals(text string) string {
	var b strings.Builder
	var quote byte
	for i := 0; i < len(text); {
		c := text[i]
		switch {
		case quote != 0:
			b.WriteByte(c)
			if c == '\\' && i+1 < len(text) {
				b.WriteByte(text[i+1])
				i++
			} else if c == quote {
				quote = 0
			}
			i++
		case c == '"' || c == '\'' || c == '`':
			quote = c
			b.WriteByte(c)
			i++
		case isDigit(c) && (i == 0 || !isIdentByte(text[i-1])):
			j := i
			for j < len(text) && (isIdentByte(text[j])) {
				j++
			}
			b.WriteString(wrapLiteral(text[i:j]))
			i = j
		default:
			b.WriteByte(c)
			i++
		}
	}
	return b.String()
}

func wrapLiteral(lit string) string {
	v, err := strconv.ParseUint(strings.ReplaceAll(lit, "_", ""), 0, 64)
	if err != nil || v <= math.MaxInt64 {
		return lit
	}
	return "(" + strconv.FormatInt(int64(v), 10) + ")"
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isIdentByte(c byte) bool {
	return isDigit(c) || c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func (s *Snapshot) compile(text string) (*compiled, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.cache[text]; ok {
		return c, nil
	}
	source := wrapLiterals(text)
	tree, err := parser.Parse(source)
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", text, err)
	}
	program, err := expr.Compile(source, s.opts...)
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", text, err)
	}
	c := &compiled{program: program, tree: tree.Node}
	v := &identVisitor{env: s.env, seen: map[string]bool{}}
	ast.Walk(&c.tree, v)
	c.idents = v.names
	s.cache[text] = c
	return c, nil
}

// Evaluate implements walker.Evaluator on top of expr. Symbols and `cur`
// evaluate to their raw values; arithmetic is on bytes.
func (s *Snapshot) Evaluate(text string, cur *walker.Element) (walker.Element, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return walker.Element{}, fmt.Errorf("empty expression")
	}
	c, err := s.compile(text)
	if err != nil {
		return walker.Element{}, err
	}
	env := make(map[string]any, len(c.idents))
	for _, id := range c.idents {
		switch id {
		case walker.CurrentIdent:
			if cur == nil {
				return walker.Element{}, fmt.Errorf("%q: %s is only bound while walking elements", text, walker.CurrentIdent)
			}
			env[id] = int(cur.Value)
		case nullIdent:
			env[id] = 0
		default:
			env[id] = int(s.symbols[id].Value)
		}
	}
	out, err := expr.Run(c.program, env)
	if err != nil {
		return walker.Element{}, fmt.Errorf("evaluate %q: %w", text, err)
	}
	v, err := toValue(out)
	if err != nil {
		return walker.Element{}, fmt.Errorf("evaluate %q: %w", text, err)
	}
	return walker.NewElement(s.resultType(c.tree, cur), v), nil
}

func toValue(out any) (uint64, error) {
	switch v := out.(type) {
	case int:
		return uint64(v), nil
	case int64:
		return uint64(v), nil
	case uint64:
		return v, nil
	case float64:
		// Division of untyped helper results still goes through floats;
		// truncate toward zero as C does.
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, fmt.Errorf("result %v is not a number", v)
		}
		return uint64(int64(math.Trunc(v))), nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case nil:
		return 0, fmt.Errorf("expression has no value")
	default:
		return 0, fmt.Errorf("result of type %T is not a number", out)
	}
}

// resultType infers the C type of an expression from its syntax tree.
func (s *Snapshot) resultType(node ast.Node, cur *walker.Element) string {
	switch n := node.(type) {
	case *ast.IdentifierNode:
		switch n.Value {
		case walker.CurrentIdent:
			if cur != nil {
				return cur.Type
			}
		case nullIdent:
			return "void *"
		default:
			if sym, ok := s.symbols[n.Value]; ok {
				return sym.Type
			}
		}
	case *ast.CallNode:
		return s.callType(n, cur)
	case *ast.BinaryNode:
		switch n.Operator {
		case "+", "-":
			if t := s.resultType(n.Left, cur); walker.IsPointer(t) {
				return t
			}
			if t := s.resultType(n.Right, cur); n.Operator == "+" && walker.IsPointer(t) {
				return t
			}
		case "==", "!=", "<", ">", "<=", ">=", "&&", "||", "and", "or":
			return "int"
		}
	case *ast.UnaryNode:
		if n.Operator == "!" || n.Operator == "not" {
			return "int"
		}
	case *ast.ConditionalNode:
		return s.resultType(n.Exp1, cur)
	}
	return "long"
}

func (s *Snapshot) callType(n *ast.CallNode, cur *walker.Element) string {
	callee, ok := n.Callee.(*ast.IdentifierNode)
	if !ok {
		return "long"
	}
	str := func(i int) string {
		if i >= len(n.Arguments) {
			return ""
		}
		if sn, ok := n.Arguments[i].(*ast.StringNode); ok {
			return sn.Value
		}
		return ""
	}
	switch callee.Value {
	case "as", "read":
		if t := str(1); t != "" {
			return t
		}
	case "member":
		if f, err := s.field(str(1), str(2)); err == nil {
			return walker.PointerTo(f.Type)
		}
	case "load":
		if f, err := s.field(str(1), str(2)); err == nil {
			return f.Type
		}
	case "deref":
		if len(n.Arguments) == 1 {
			// Only a pointer to a pointer tells us what the loaded word is.
			if t := walker.Pointee(s.resultType(n.Arguments[0], cur)); walker.IsPointer(t) {
				return t
			}
		}
	case "sizeof":
		return "unsigned long"
	}
	return "long"
}

func (s *Snapshot) exprOptions() (map[string]any, []exprOption) {
	env := map[string]any{walker.CurrentIdent: 0, nullIdent: 0}
	for name := range s.symbols {
		env[name] = 0
	}
	return env, []exprOption{
		expr.Env(env),
		expr.Operator("/", "idiv"),
		expr.Function("idiv", func(params ...any) (any, error) {
			a, aok := params[0].(int)
			b, bok := params[1].(int)
			if !aok || !bok {
				return nil, fmt.Errorf("/: want integer operands, got %T and %T", params[0], params[1])
			}
			if b == 0 {
				return nil, fmt.Errorf("division by zero")
			}
			return a / b, nil
		}, new(func(int, int) int)),
		expr.Function("deref", func(params ...any) (any, error) {
			if err := arity("deref", params, 1); err != nil {
				return nil, err
			}
			addr, err := uintArg("deref", params[0])
			if err != nil {
				return nil, err
			}
			v, err := s.ReadUint(addr, s.pointerSize)
			return int(v), err
		}),
		expr.Function("read", func(params ...any) (any, error) {
			if err := arity("read", params, 2); err != nil {
				return nil, err
			}
			addr, err := uintArg("read", params[0])
			if err != nil {
				return nil, err
			}
			typ, err := stringArg("read", params[1])
			if err != nil {
				return nil, err
			}
			v, err := s.readTyped(addr, typ)
			return int(v), err
		}),
		expr.Function("member", func(params ...any) (any, error) {
			addr, f, err := s.memberArgs("member", params)
			if err != nil {
				return nil, err
			}
			return int(addr + f.Offset), nil
		}),
		expr.Function("load", func(params ...any) (any, error) {
			addr, f, err := s.memberArgs("load", params)
			if err != nil {
				return nil, err
			}
			v, err := s.readTyped(addr+f.Offset, f.Type)
			return int(v), err
		}),
		expr.Function("sizeof", func(params ...any) (any, error) {
			if err := arity("sizeof", params, 1); err != nil {
				return nil, err
			}
			typ, err := stringArg("sizeof", params[0])
			if err != nil {
				return nil, err
			}
			size, err := s.SizeOf(typ)
			return int(size), err
		}),
		expr.Function("as", func(params ...any) (any, error) {
			if err := arity("as", params, 2); err != nil {
				return nil, err
			}
			if _, err := stringArg("as", params[1]); err != nil {
				return nil, err
			}
			v, err := uintArg("as", params[0])
			return int(v), err
		}),
	}
}

func (s *Snapshot) memberArgs(fn string, params []any) (uint64, Field, error) {
	if err := arity(fn, params, 3); err != nil {
		return 0, Field{}, err
	}
	addr, err := uintArg(fn, params[0])
	if err != nil {
		return 0, Field{}, err
	}
	typ, err := stringArg(fn, params[1])
	if err != nil {
		return 0, Field{}, err
	}
	name, err := stringArg(fn, params[2])
	if err != nil {
		return 0, Field{}, err
	}
	f, err := s.field(typ, name)
	return addr, f, err
}

func arity(fn string, params []any, n int) error {
	if len(params) != n {
		return fmt.Errorf("%s: want %d arguments, got %d", fn, n, len(params))
	}
	return nil
}

func uintArg(fn string, p any) (uint64, error) {
	v, err := toValue(p)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", fn, err)
	}
	return v, nil
}

func stringArg(fn string, p any) (string, error) {
	str, ok := p.(string)
	if !ok {
		return "", fmt.Errorf("%s: want a type name string, got %T", fn, p)
	}
	return str, nil
}
