package compiler

import (
	"fmt"

	"github.com/roach88/deduce/internal/ir"
)

// orderBody turns resolved atoms into ordered steps.
//
// Greedy: a filter, unification or negation runs as soon as every variable
// it reads is bound. Otherwise the positive relation atom with the best
// access path runs next: full key bound, then a bound leading prefix, then
// any bound column, then a scan. Ties keep source order. Any order that
// respects variable bindings gives the same rows.
func orderBody(cr *Rule, body []resolvedAtom) error {
	bound := make(map[string]int)
	remaining := make([]int, len(body))
	for i := range body {
		remaining[i] = i
	}

	for len(remaining) > 0 {
		pick := -1
		for pos, i := range remaining {
			a := body[i]
			if isPositive(a) {
				continue
			}
			if len(unboundVars(a, bound)) == 0 {
				pick = pos
				break
			}
		}

		if pick < 0 {
			bestScore := -1
			for pos, i := range remaining {
				a := body[i]
				if !isPositive(a) {
					continue
				}
				score := accessScore(a, bound)
				if bestScore < 0 || score < bestScore {
					pick, bestScore = pos, score
				}
			}
		}

		if pick < 0 {
			a := body[remaining[0]]
			return ir.NewSchemaError(ir.CodeUnsafeVariable,
				fmt.Sprintf("variable %s in %s is not bound by any positive atom", unboundVars(a, bound)[0], a.atom)).WithRelation(cr.Head.Name)
		}

		cr.Steps = append(cr.Steps, buildStep(cr, body[remaining[pick]], bound))
		remaining = append(remaining[:pick], remaining[pick+1:]...)
	}
	return nil
}

func isPositive(a resolvedAtom) bool {
	return !a.negated && (a.stored != nil || a.derived != "")
}

// unboundVars lists the variables a non-positive atom needs that are not
// yet bound.
func unboundVars(a resolvedAtom, bound map[string]int) []string {
	var vars []string
	if a.expr != nil {
		vars = ir.ExprVars(a.expr)
	} else {
		for _, e := range a.args {
			if v, ok := e.(ir.Var); ok && v.Name != ir.Wildcard {
				vars = append(vars, v.Name)
			}
		}
	}
	var out []string
	for _, v := range vars {
		if _, ok := bound[v]; !ok {
			out = append(out, v)
		}
	}
	return out
}

// prebound reports which columns of a relation atom have known values.
func prebound(a resolvedAtom, bound map[string]int) []bool {
	out := make([]bool, len(a.args))
	for i, e := range a.args {
		switch x := e.(type) {
		case ir.Const, ir.Param:
			out[i] = true
		case ir.Var:
			if _, ok := bound[x.Name]; ok && x.Name != ir.Wildcard {
				out[i] = true
			}
		}
	}
	return out
}

func keyColumns(a resolvedAtom) int {
	if a.stored != nil {
		return len(a.stored.Keys)
	}
	return len(a.args)
}

func accessFor(a resolvedAtom, pre []bool) Access {
	nkeys := keyColumns(a)
	leading := 0
	for leading < nkeys && pre[leading] {
		leading++
	}
	some := false
	for _, p := range pre {
		some = some || p
	}
	switch {
	case leading == nkeys && nkeys > 0:
		return AccessPoint
	case leading > 0:
		return AccessPrefix
	case some:
		return AccessIndexed
	}
	return AccessScan
}

func accessScore(a resolvedAtom, bound map[string]int) int {
	switch accessFor(a, prebound(a, bound)) {
	case AccessPoint:
		return 0
	case AccessPrefix:
		return 1
	case AccessIndexed:
		return 2
	}
	return 3
}

func slotFor(cr *Rule, bound map[string]int, name string) int {
	if slot, ok := bound[name]; ok {
		return slot
	}
	slot := len(cr.Slots)
	cr.Slots = append(cr.Slots, name)
	bound[name] = slot
	return slot
}

func buildStep(cr *Rule, a resolvedAtom, bound map[string]int) Step {
	if a.expr != nil {
		if a.unifyVar == "" {
			return Step{Kind: StepFilter, Expr: a.expr}
		}
		if _, ok := bound[a.unifyVar]; ok {
			return Step{Kind: StepFilter, Expr: ir.B(ir.OpEq, ir.V(a.unifyVar), a.expr)}
		}
		return Step{Kind: StepBind, Expr: a.expr, Slot: slotFor(cr, bound, a.unifyVar)}
	}

	step := Step{Access: accessFor(a, prebound(a, bound))}
	switch {
	case a.stored != nil && a.negated:
		step.Kind = StepNotStored
	case a.stored != nil:
		step.Kind = StepStored
	case a.negated:
		step.Kind = StepNotDerived
	default:
		step.Kind = StepDerived
	}
	if a.stored != nil {
		step.Relation = a.stored.Name
		step.Schema = a.stored
	} else {
		step.Relation = a.derived
	}

	before := make(map[string]bool, len(bound))
	for v := range bound {
		before[v] = true
	}
	step.Terms = make([]Term, len(a.args))
	for i, e := range a.args {
		switch x := e.(type) {
		case nil:
			step.Terms[i] = Term{Kind: TermIgnore, Slot: -1}
		case ir.Const:
			step.Terms[i] = Term{Kind: TermConst, Slot: -1, Value: x.Value}
		case ir.Param:
			step.Terms[i] = Term{Kind: TermParam, Slot: -1, Param: x.Name}
		case ir.Var:
			switch {
			case x.Name == ir.Wildcard:
				step.Terms[i] = Term{Kind: TermIgnore, Slot: -1}
			case before[x.Name]:
				step.Terms[i] = Term{Kind: TermBound, Slot: bound[x.Name]}
			case hasSlot(bound, x.Name):
				step.Terms[i] = Term{Kind: TermBound, Slot: bound[x.Name], Repeat: true}
			default:
				step.Terms[i] = Term{Kind: TermBind, Slot: slotFor(cr, bound, x.Name)}
			}
		}
	}
	return step
}

func hasSlot(bound map[string]int, name string) bool {
	_, ok := bound[name]
	return ok
}
