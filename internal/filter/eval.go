// Package filter evaluates expressions inside rule bodies.
//
// Evaluation failures are EvaluationErrors. Try absorbs any failure of its
// condition and yields its default instead.
package filter

import (
	"errors"
	"fmt"
	"math"

	"github.com/roach88/deduce/internal/ir"
)

// Env resolves the variables and parameters an expression reads.
type Env interface {
	Var(name string) (ir.Value, bool)
	Param(name string) (ir.Value, bool)
}

// MapEnv is an Env over plain maps.
type MapEnv struct {
	Vars   map[string]ir.Value
	Params map[string]ir.Value
}

// Var implements Env.
func (m MapEnv) Var(name string) (ir.Value, bool) {
	v, ok := m.Vars[name]
	return v, ok
}

// Param implements Env.
func (m MapEnv) Param(name string) (ir.Value, bool) {
	v, ok := m.Params[name]
	return v, ok
}

// Eval computes the value of e.
func Eval(e ir.Expr, env Env) (ir.Value, error) {
	switch x := e.(type) {
	case ir.Const:
		if x.Value == nil {
			return ir.Null{}, nil
		}
		return x.Value, nil

	case ir.Var:
		v, ok := env.Var(x.Name)
		if !ok {
			return nil, ir.NewEvaluationError(ir.CodeNullOperand, fmt.Sprintf("variable %s is unbound", x.Name))
		}
		return v, nil

	case ir.Param:
		v, ok := env.Param(x.Name)
		if !ok {
			return nil, ir.NewEvaluationError(ir.CodeMissingParam, fmt.Sprintf("parameter $%s is not supplied", x.Name))
		}
		return v, nil

	case ir.Binary:
		if x.Op == ir.OpAnd || x.Op == ir.OpOr {
			return evalLogical(x, env)
		}
		l, err := Eval(x.Left, env)
		if err != nil {
			return nil, err
		}
		r, err := Eval(x.Right, env)
		if err != nil {
			return nil, err
		}
		if x.Op.IsComparison() {
			return compare(x, l, r)
		}
		return arith(x, l, r)

	case ir.Unary:
		v, err := Eval(x.X, env)
		if err != nil {
			return nil, err
		}
		if ir.IsNull(v) {
			return nil, nullOperand(x)
		}
		switch x.Op {
		case ir.OpNot:
			b, ok := v.(ir.Bool)
			if !ok {
				return nil, operandType(x, v)
			}
			return !b, nil
		case ir.OpNeg:
			switch n := v.(type) {
			case ir.Int:
				if n == math.MinInt64 {
					return nil, overflow(x)
				}
				return -n, nil
			case ir.Float:
				return -n, nil
			}
			return nil, operandType(x, v)
		}
		return nil, ir.NewEvaluationError(ir.CodeOperandType, fmt.Sprintf("unknown unary operator %s", x.Op))

	case ir.In:
		v, err := Eval(x.X, env)
		if err != nil {
			return nil, err
		}
		if ir.IsNull(v) {
			return nil, nullOperand(x)
		}
		for _, item := range x.List {
			iv, err := Eval(item, env)
			if err != nil {
				return nil, err
			}
			if ir.Equal(v, iv) {
				return ir.Bool(true), nil
			}
		}
		return ir.Bool(false), nil

	case ir.NullTest:
		v, err := Eval(x.X, env)
		if err != nil {
			return nil, err
		}
		return ir.Bool(ir.IsNull(v)), nil

	case ir.Try:
		v, err := Eval(x.Cond, env)
		if err == nil {
			return v, nil
		}
		if !Absorbed(err) {
			return nil, err
		}
		return Eval(x.Default, env)
	}
	return nil, ir.NewEvaluationError(ir.CodeOperandType, fmt.Sprintf("unsupported expression %T", e))
}

// Predicate evaluates e as a filter condition. A result that is not a
// Bool is NOT_BOOLEAN.
func Predicate(e ir.Expr, env Env) (bool, error) {
	v, err := Eval(e, env)
	if err != nil {
		return false, err
	}
	b, ok := v.(ir.Bool)
	if !ok {
		return false, ir.NewEvaluationError(ir.CodeNotBoolean,
			fmt.Sprintf("filter %s yielded %s, not a Bool", e, v)).WithDetail("expr", e.String())
	}
	return bool(b), nil
}

// Absorbed reports whether err is a failure Try would replace with its
// default.
func Absorbed(err error) bool {
	var e *ir.Error
	return errors.As(err, &e) && e.Kind == ir.KindEvaluation
}

func evalLogical(x ir.Binary, env Env) (ir.Value, error) {
	l, err := logicalOperand(x, x.Left, env)
	if err != nil {
		return nil, err
	}
	if x.Op == ir.OpAnd && !l {
		return ir.Bool(false), nil
	}
	if x.Op == ir.OpOr && l {
		return ir.Bool(true), nil
	}
	r, err := logicalOperand(x, x.Right, env)
	if err != nil {
		return nil, err
	}
	return ir.Bool(r), nil
}

func logicalOperand(x ir.Binary, side ir.Expr, env Env) (bool, error) {
	v, err := Eval(side, env)
	if err != nil {
		return false, err
	}
	if ir.IsNull(v) {
		return false, nullOperand(x)
	}
	b, ok := v.(ir.Bool)
	if !ok {
		return false, operandType(x, v)
	}
	return bool(b), nil
}

func compare(x ir.Binary, l, r ir.Value) (ir.Value, error) {
	if ir.IsNull(l) || ir.IsNull(r) {
		return nil, nullOperand(x)
	}
	if !sameDomain(l, r) {
		return nil, ir.NewEvaluationError(ir.CodeOperandType,
			fmt.Sprintf("cannot compare %s with %s in %s", l.Kind(), r.Kind(), x)).WithDetail("expr", x.String())
	}
	c := ir.Compare(l, r)
	switch x.Op {
	case ir.OpEq:
		return ir.Bool(c == 0), nil
	case ir.OpNe:
		return ir.Bool(c != 0), nil
	case ir.OpLt:
		return ir.Bool(c < 0), nil
	case ir.OpLe:
		return ir.Bool(c <= 0), nil
	case ir.OpGt:
		return ir.Bool(c > 0), nil
	default:
		return ir.Bool(c >= 0), nil
	}
}

// sameDomain reports whether two non-null values share a comparison
// domain. Int and Float compare numerically.
func sameDomain(l, r ir.Value) bool {
	if ir.IsNumeric(l) && ir.IsNumeric(r) {
		return true
	}
	return l.Kind() == r.Kind()
}

func arith(x ir.Binary, l, r ir.Value) (ir.Value, error) {
	if ir.IsNull(l) || ir.IsNull(r) {
		return nil, nullOperand(x)
	}
	if !ir.IsNumeric(l) {
		return nil, operandType(x, l)
	}
	if !ir.IsNumeric(r) {
		return nil, operandType(x, r)
	}

	li, lInt := l.(ir.Int)
	ri, rInt := r.(ir.Int)
	if lInt && rInt {
		switch x.Op {
		case ir.OpAdd:
			sum := li + ri
			if (ri > 0 && sum < li) || (ri < 0 && sum > li) {
				return nil, overflow(x)
			}
			return sum, nil
		case ir.OpSub:
			diff := li - ri
			if (ri > 0 && diff > li) || (ri < 0 && diff < li) {
				return nil, overflow(x)
			}
			return diff, nil
		case ir.OpMul:
			if li != 0 && ri != 0 {
				prod := li * ri
				if prod/ri != li || (li == -1 && ri == math.MinInt64) || (ri == -1 && li == math.MinInt64) {
					return nil, overflow(x)
				}
				return prod, nil
			}
			return ir.Int(0), nil
		case ir.OpMod:
			if ri == 0 {
				return nil, divisionByZero(x)
			}
			return li % ri, nil
		}
	}

	lf, _ := ir.AsFloat(l)
	rf, _ := ir.AsFloat(r)
	switch x.Op {
	case ir.OpAdd:
		return ir.Float(lf + rf), nil
	case ir.OpSub:
		return ir.Float(lf - rf), nil
	case ir.OpMul:
		return ir.Float(lf * rf), nil
	case ir.OpDiv:
		if rf == 0 {
			return nil, divisionByZero(x)
		}
		q := lf / rf
		if math.IsInf(q, 0) {
			return nil, ir.NewEvaluationError(ir.CodeOperandType, fmt.Sprintf("%s overflows", x)).WithDetail("expr", x.String())
		}
		return ir.Float(q), nil
	case ir.OpMod:
		return nil, ir.NewEvaluationError(ir.CodeOperandType,
			fmt.Sprintf("%% needs Int operands, got %s and %s", l.Kind(), r.Kind())).WithDetail("expr", x.String())
	}
	return nil, ir.NewEvaluationError(ir.CodeOperandType, fmt.Sprintf("unknown operator %s", x.Op))
}

func nullOperand(e ir.Expr) error {
	return ir.NewEvaluationError(ir.CodeNullOperand, fmt.Sprintf("null operand in %s", e)).WithDetail("expr", e.String())
}

func operandType(e ir.Expr, v ir.Value) error {
	return ir.NewEvaluationError(ir.CodeOperandType,
		fmt.Sprintf("%s operand %s is not valid in %s", v.Kind(), v, e)).WithDetail("expr", e.String())
}

func overflow(e ir.Expr) error {
	return ir.NewEvaluationError(ir.CodeIntegerOverflow, fmt.Sprintf("integer overflow in %s", e)).WithDetail("expr", e.String())
}

func divisionByZero(e ir.Expr) error {
	return ir.NewEvaluationError(ir.CodeDivisionByZero, fmt.Sprintf("division by zero in %s", e)).WithDetail("expr", e.String())
}
