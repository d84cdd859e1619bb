package ir

import (
	"fmt"
	"strings"
)

// Expr is a sealed interface for expressions in rule bodies: atom terms,
// filter predicates, unification right-hand sides and inline facts.
type Expr interface {
	expr() // Sealed - only the types below implement it
	String() string
}

// Var references a rule variable. The name "_" is a wildcard: every
// occurrence is a fresh variable that is never projected.
type Var struct {
	Name string `json:"name"`
}

// Const is a literal value.
type Const struct {
	Value Value `json:"value"`
}

// Param references a query parameter supplied at submission ($name).
type Param struct {
	Name string `json:"name"`
}

// Binary applies an arithmetic, comparison or logical operator.
type Binary struct {
	Op    Op   `json:"op"`
	Left  Expr `json:"left"`
	Right Expr `json:"right"`
}

// Unary applies OpNot or OpNeg.
type Unary struct {
	Op Op   `json:"op"`
	X  Expr `json:"x"`
}

// In tests membership of X in a literal list.
type In struct {
	X    Expr   `json:"x"`
	List []Expr `json:"list"`
}

// NullTest is true when X evaluates to null.
type NullTest struct {
	X Expr `json:"x"`
}

// Try evaluates Cond; if that evaluation fails, the result is Default.
type Try struct {
	Cond    Expr `json:"cond"`
	Default Expr `json:"default"`
}

func (Var) expr()      {}
func (Const) expr()    {}
func (Param) expr()    {}
func (Binary) expr()   {}
func (Unary) expr()    {}
func (In) expr()       {}
func (NullTest) expr() {}
func (Try) expr()      {}

// Wildcard is the anonymous variable name.
const Wildcard = "_"

// V, C and P are shorthand constructors for terms.
func V(name string) Var    { return Var{Name: name} }
func C(v Value) Const      { return Const{Value: v} }
func P(name string) Param  { return Param{Name: name} }
func B(op Op, l, r Expr) Binary {
	return Binary{Op: op, Left: l, Right: r}
}

func (v Var) String() string   { return v.Name }
func (p Param) String() string { return "$" + p.Name }
func (c Const) String() string {
	if c.Value == nil {
		return "null"
	}
	return c.Value.String()
}
func (b Binary) String() string {
	return fmt.Sprintf("(%s %s %s)", b.Left, b.Op, b.Right)
}
func (u Unary) String() string {
	if u.Op == OpNot {
		return fmt.Sprintf("!%s", u.X)
	}
	return fmt.Sprintf("-%s", u.X)
}
func (in In) String() string {
	parts := make([]string, len(in.List))
	for i, e := range in.List {
		parts[i] = e.String()
	}
	return fmt.Sprintf("is_in(%s, [%s])", in.X, strings.Join(parts, ", "))
}
func (n NullTest) String() string { return fmt.Sprintf("is_null(%s)", n.X) }
func (t Try) String() string      { return fmt.Sprintf("try(%s, %s)", t.Cond, t.Default) }

// Op is an expression operator.
type Op uint8

const (
	OpInvalid Op = iota
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpAnd
	OpOr
	OpNot
	OpNeg
)

var opNames = map[Op]string{
	OpAdd: "+", OpSub: "-", OpMul: "*", OpDiv: "/", OpMod: "%",
	OpEq: "==", OpNe: "!=", OpLt: "<", OpLe: "<=", OpGt: ">", OpGe: ">=",
	OpAnd: "&&", OpOr: "||", OpNot: "!", OpNeg: "neg",
}

func (o Op) String() string {
	if s, ok := opNames[o]; ok {
		return s
	}
	return fmt.Sprintf("Op(%d)", uint8(o))
}

// ParseOp maps an operator token to an Op. "and", "or" and "not" are
// accepted as aliases.
func ParseOp(s string) (Op, error) {
	switch s {
	case "and":
		return OpAnd, nil
	case "or":
		return OpOr, nil
	case "not":
		return OpNot, nil
	case "=":
		return OpEq, nil
	}
	for op, name := range opNames {
		if name == s {
			return op, nil
		}
	}
	return OpInvalid, fmt.Errorf("unknown operator %q", s)
}

// IsComparison reports whether o yields a Bool from two operands.
func (o Op) IsComparison() bool {
	return o >= OpEq && o <= OpGe
}

// IsLogical reports whether o is a boolean connective.
func (o Op) IsLogical() bool {
	return o == OpAnd || o == OpOr || o == OpNot
}

// WalkExpr calls fn for e and every sub-expression, depth first.
func WalkExpr(e Expr, fn func(Expr)) {
	if e == nil {
		return
	}
	fn(e)
	switch x := e.(type) {
	case Binary:
		WalkExpr(x.Left, fn)
		WalkExpr(x.Right, fn)
	case Unary:
		WalkExpr(x.X, fn)
	case In:
		WalkExpr(x.X, fn)
		for _, item := range x.List {
			WalkExpr(item, fn)
		}
	case NullTest:
		WalkExpr(x.X, fn)
	case Try:
		WalkExpr(x.Cond, fn)
		WalkExpr(x.Default, fn)
	}
}

// ExprVars returns the distinct variable names referenced by e, in first-use
// order. Wildcards are skipped.
func ExprVars(e Expr) []string {
	var out []string
	seen := make(map[string]bool)
	WalkExpr(e, func(x Expr) {
		if v, ok := x.(Var); ok && v.Name != Wildcard && !seen[v.Name] {
			seen[v.Name] = true
			out = append(out, v.Name)
		}
	})
	return out
}

// ExprParams returns the distinct parameter names referenced by e.
func ExprParams(e Expr) []string {
	var out []string
	seen := make(map[string]bool)
	WalkExpr(e, func(x Expr) {
		if p, ok := x.(Param); ok && !seen[p.Name] {
			seen[p.Name] = true
			out = append(out, p.Name)
		}
	})
	return out
}
