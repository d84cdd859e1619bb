// Package compiler turns rule programs into evaluation plans.
//
// Compile resolves every atom against the catalog, orders each rule body
// into steps, and partitions derived relations into strata using the
// strongly connected components of the dependency graph. LoadFile reads
// programs and relation schemas written in CUE.
package compiler

import (
	"errors"
	"fmt"
	"sort"

	"github.com/roach88/deduce/internal/ir"
)

// Catalog resolves stored relation schemas.
type Catalog interface {
	Relation(name string) (ir.RelationSchema, error)
}

// CatalogFunc adapts a function to the Catalog interface.
type CatalogFunc func(name string) (ir.RelationSchema, error)

// Relation calls f.
func (f CatalogFunc) Relation(name string) (ir.RelationSchema, error) {
	return f(name)
}

// Compile validates a program against the catalog and builds its plan.
//
// Schema problems (unknown relations or columns, arity mismatches, unsafe
// variables) are SchemaErrors. A recursive dependency through negation or
// aggregation is a StratificationError. Both are reported before anything
// is evaluated.
func Compile(prog ir.Program, cat Catalog) (*Plan, error) {
	if len(prog.Rules) == 0 {
		return nil, ir.NewSchemaError(ir.CodeInvalidProgram, "program has no rules")
	}

	heads, err := collectHeads(prog.Rules)
	if err != nil {
		return nil, err
	}
	entry := prog.EntryRelation()
	entryHead, ok := heads[entry]
	if !ok {
		return nil, ir.NewSchemaError(ir.CodeInvalidProgram, fmt.Sprintf("entry relation %s is not defined", entry))
	}

	stored := make(map[string]*ir.RelationSchema)
	compiled := make([]*Rule, len(prog.Rules))
	for i, r := range prog.Rules {
		cr, err := compileRule(i, r, heads, stored, cat)
		if err != nil {
			return nil, err
		}
		compiled[i] = cr
	}

	graph := buildGraph(prog.Rules)
	aggregated := make(map[string]bool)
	for name, h := range heads {
		if h.Aggregated() {
			aggregated[name] = true
		}
	}
	levels, err := stratify(graph, aggregated)
	if err != nil {
		return nil, err
	}

	plan := &Plan{
		Hash:    ir.ProgramHash(prog),
		Entry:   entry,
		Headers: entryHead.Headers(),
		Params:  prog.Params(),
		Graph:   graph,
		Arity:   make(map[string]int, len(heads)),
		Limit:   prog.Limit,
		Offset:  prog.Offset,
	}
	for name, h := range heads {
		plan.Arity[name] = len(h.Args)
	}
	for name := range stored {
		plan.Stored = append(plan.Stored, name)
	}
	sort.Strings(plan.Stored)

	plan.Strata = buildStrata(compiled, levels, aggregated)

	if prog.Limit < 0 || prog.Offset < 0 {
		return nil, ir.NewSchemaError(ir.CodeInvalidProgram, "limit and offset must not be negative")
	}
	for _, k := range prog.Sort {
		idx := indexOf(plan.Headers, k.Column)
		if idx < 0 {
			return nil, ir.NewSchemaError(ir.CodeColumnNotFound, fmt.Sprintf("sort column %s is not an entry column", k.Column)).WithRelation(entry)
		}
		plan.Sort = append(plan.Sort, SortKey{Column: idx, Desc: k.Desc})
	}

	if prog.Mutation != nil {
		mp, err := compileMutation(*prog.Mutation, plan.Headers, cat)
		if err != nil {
			return nil, err
		}
		plan.Mutation = mp
	}
	return plan, nil
}

// collectHeads checks that all rules of one name agree on arity and
// reducers, and returns the first head of each name.
func collectHeads(rules []ir.Rule) (map[string]ir.Head, error) {
	heads := make(map[string]ir.Head)
	for _, r := range rules {
		name := r.Head.Name
		if name == "" {
			return nil, ir.NewSchemaError(ir.CodeInvalidProgram, "rule head has no name")
		}
		if name != ir.EntryName {
			if err := ir.ValidateName(name); err != nil {
				return nil, err
			}
		}
		if r.IsFact() && r.Head.Aggregated() {
			return nil, ir.NewSchemaError(ir.CodeInvalidProgram, "inline data rule cannot aggregate").WithRelation(name)
		}
		if !r.IsFact() && len(r.Body) == 0 {
			return nil, ir.NewSchemaError(ir.CodeInvalidProgram, "rule has an empty body").WithRelation(name)
		}
		prev, ok := heads[name]
		if !ok {
			heads[name] = r.Head
			continue
		}
		if len(prev.Args) != len(r.Head.Args) {
			return nil, ir.NewSchemaError(ir.CodeArityMismatch,
				fmt.Sprintf("rules define %s with %d and %d columns", name, len(prev.Args), len(r.Head.Args))).WithRelation(name)
		}
		for i := range prev.Args {
			if prev.Args[i].Reducer != r.Head.Args[i].Reducer {
				return nil, ir.NewSchemaError(ir.CodeInvalidProgram,
					fmt.Sprintf("rules disagree on the reducer of column %d", i)).WithRelation(name)
			}
		}
	}
	return heads, nil
}

func compileRule(index int, r ir.Rule, heads map[string]ir.Head, stored map[string]*ir.RelationSchema, cat Catalog) (*Rule, error) {
	cr := &Rule{
		Index:      index,
		Head:       r.Head,
		Aggregated: r.Head.Aggregated(),
	}
	if err := checkNames(r); err != nil {
		return nil, err
	}
	if r.IsFact() {
		return compileFacts(cr, r)
	}

	body, err := resolveAtoms(r, heads, stored, cat)
	if err != nil {
		return nil, err
	}
	if err := orderBody(cr, body); err != nil {
		return nil, err
	}

	cr.HeadSlots = make([]int, len(r.Head.Args))
	for i, a := range r.Head.Args {
		if a.Var == ir.Wildcard {
			return nil, ir.NewSchemaError(ir.CodeUnsafeVariable, "head cannot project a wildcard").WithRelation(r.Head.Name)
		}
		slot := cr.SlotOf(a.Var)
		if slot < 0 {
			return nil, ir.NewSchemaError(ir.CodeUnsafeVariable,
				fmt.Sprintf("head variable %s is not bound by the body", a.Var)).WithRelation(r.Head.Name)
		}
		cr.HeadSlots[i] = slot
	}
	return cr, nil
}

// checkNames rejects variable and parameter names that are not
// identifiers.
func checkNames(r ir.Rule) error {
	var err error
	check := func(name string) {
		if err == nil {
			err = ir.ValidateVar(name)
			var ie *ir.Error
			if errors.As(err, &ie) {
				ie.WithRelation(r.Head.Name)
			}
		}
	}
	visit := func(e ir.Expr) {
		ir.WalkExpr(e, func(x ir.Expr) {
			switch v := x.(type) {
			case ir.Var:
				check(v.Name)
			case ir.Param:
				check(v.Name)
			}
		})
	}
	var visitAtom func(a ir.Atom)
	visitAtom = func(a ir.Atom) {
		switch x := a.(type) {
		case ir.StoredAtom:
			for _, b := range x.Bindings {
				visit(b.Term)
			}
		case ir.RuleAtom:
			for _, e := range x.Args {
				visit(e)
			}
		case ir.NegatedAtom:
			visitAtom(x.Atom)
		case ir.FilterAtom:
			visit(x.Expr)
		case ir.UnifyAtom:
			check(x.Var)
			visit(x.Expr)
		}
	}

	for _, a := range r.Head.Args {
		check(a.Var)
	}
	for _, row := range r.Facts {
		for _, e := range row {
			visit(e)
		}
	}
	for _, a := range r.Body {
		visitAtom(a)
	}
	return err
}

func compileFacts(cr *Rule, r ir.Rule) (*Rule, error) {
	for i, row := range r.Facts {
		if len(row) != len(r.Head.Args) {
			return nil, ir.NewSchemaError(ir.CodeArityMismatch,
				fmt.Sprintf("data row %d has %d values, head has %d", i, len(row), len(r.Head.Args))).WithRelation(r.Head.Name)
		}
		for _, e := range row {
			if vars := ir.ExprVars(e); len(vars) > 0 {
				return nil, ir.NewSchemaError(ir.CodeUnsafeVariable,
					fmt.Sprintf("data row %d references variable %s", i, vars[0])).WithRelation(r.Head.Name)
			}
		}
	}
	cr.Facts = r.Facts
	if cr.Facts == nil {
		cr.Facts = [][]ir.Expr{}
	}
	return cr, nil
}

// resolvedAtom is a body atom with its relation resolved and its
// arguments laid out by column position.
type resolvedAtom struct {
	atom     ir.Atom
	negated  bool
	stored   *ir.RelationSchema
	derived  string
	args     []ir.Expr // per column; nil for unmentioned stored columns
	expr     ir.Expr   // filter or unify expression
	unifyVar string
}

func resolveAtoms(r ir.Rule, heads map[string]ir.Head, stored map[string]*ir.RelationSchema, cat Catalog) ([]resolvedAtom, error) {
	out := make([]resolvedAtom, 0, len(r.Body))
	for _, a := range r.Body {
		ra, err := resolveAtom(a, heads, stored, cat)
		if err != nil {
			var e *ir.Error
			if errors.As(err, &e) && e.Relation == "" {
				e.WithRelation(r.Head.Name)
			}
			return nil, err
		}
		out = append(out, ra)
	}
	return out, nil
}

func resolveAtom(a ir.Atom, heads map[string]ir.Head, stored map[string]*ir.RelationSchema, cat Catalog) (resolvedAtom, error) {
	switch x := a.(type) {
	case ir.StoredAtom:
		schema, ok := stored[ir.NormalizeName(x.Relation)]
		if !ok {
			s, err := cat.Relation(x.Relation)
			if err != nil {
				return resolvedAtom{}, err
			}
			schema = &s
			stored[s.Name] = schema
		}
		args := make([]ir.Expr, schema.Arity())
		for _, b := range x.Bindings {
			idx := schema.ColumnIndex(ir.NormalizeName(b.Column))
			if idx < 0 {
				return resolvedAtom{}, ir.NewSchemaError(ir.CodeColumnNotFound,
					fmt.Sprintf("relation has no column %s", b.Column)).WithRelation(schema.Name)
			}
			if args[idx] != nil {
				return resolvedAtom{}, ir.NewSchemaError(ir.CodeInvalidProgram,
					fmt.Sprintf("column %s bound twice", b.Column)).WithRelation(schema.Name)
			}
			if err := checkTerm(b.Term); err != nil {
				return resolvedAtom{}, err
			}
			args[idx] = b.Term
		}
		return resolvedAtom{atom: a, stored: schema, args: args}, nil

	case ir.RuleAtom:
		head, ok := heads[x.Name]
		if !ok {
			return resolvedAtom{}, ir.NewSchemaError(ir.CodeRelationNotFound,
				fmt.Sprintf("rule relation %s is not defined", x.Name))
		}
		if len(x.Args) != len(head.Args) {
			return resolvedAtom{}, ir.NewSchemaError(ir.CodeArityMismatch,
				fmt.Sprintf("%s has %d columns, atom passes %d", x.Name, len(head.Args), len(x.Args)))
		}
		for _, e := range x.Args {
			if err := checkTerm(e); err != nil {
				return resolvedAtom{}, err
			}
		}
		return resolvedAtom{atom: a, derived: x.Name, args: x.Args}, nil

	case ir.NegatedAtom:
		if _, nested := x.Atom.(ir.NegatedAtom); nested {
			return resolvedAtom{}, ir.NewSchemaError(ir.CodeInvalidProgram, "double negation")
		}
		inner, err := resolveAtom(x.Atom, heads, stored, cat)
		if err != nil {
			return resolvedAtom{}, err
		}
		if inner.stored == nil && inner.derived == "" {
			return resolvedAtom{}, ir.NewSchemaError(ir.CodeInvalidProgram, "only relation atoms can be negated")
		}
		inner.atom = a
		inner.negated = true
		return inner, nil

	case ir.FilterAtom:
		return resolvedAtom{atom: a, expr: x.Expr}, nil

	case ir.UnifyAtom:
		if x.Var == ir.Wildcard || x.Var == "" {
			return resolvedAtom{}, ir.NewSchemaError(ir.CodeInvalidProgram, "cannot unify a wildcard")
		}
		return resolvedAtom{atom: a, expr: x.Expr, unifyVar: x.Var}, nil
	}
	return resolvedAtom{}, ir.NewSchemaError(ir.CodeInvalidProgram, fmt.Sprintf("unsupported atom %T", a))
}

// checkTerm accepts the expressions allowed as relation atom arguments.
func checkTerm(e ir.Expr) error {
	switch e.(type) {
	case ir.Var, ir.Const, ir.Param:
		return nil
	case nil:
		return ir.NewSchemaError(ir.CodeInvalidProgram, "missing atom argument")
	}
	return ir.NewSchemaError(ir.CodeInvalidProgram,
		fmt.Sprintf("atom argument %s must be a variable, constant or parameter", e))
}

func compileMutation(m ir.Mutation, headers []string, cat Catalog) (*MutationPlan, error) {
	schema, err := cat.Relation(m.Relation)
	if err != nil {
		return nil, err
	}
	mp := &MutationPlan{Op: m.Op, Relation: schema.Name, Schema: schema}

	source := make(map[string]int)
	for _, col := range append(append([]string{}, m.Keys...), m.Values...) {
		col = ir.NormalizeName(col)
		if _, dup := source[col]; dup {
			return nil, ir.NewSchemaError(ir.CodeInvalidProgram, fmt.Sprintf("column %s listed twice", col)).WithRelation(schema.Name)
		}
		if schema.ColumnIndex(col) < 0 {
			return nil, ir.NewSchemaError(ir.CodeColumnNotFound, fmt.Sprintf("relation has no column %s", col)).WithRelation(schema.Name)
		}
		idx := indexOf(headers, col)
		if idx < 0 {
			return nil, ir.NewSchemaError(ir.CodeColumnNotFound, fmt.Sprintf("column %s is not an entry column", col)).WithRelation(schema.Name)
		}
		source[col] = idx
	}

	for _, k := range schema.Keys {
		if _, ok := source[k.Name]; !ok {
			return nil, ir.NewSchemaError(ir.CodeInvalidProgram, fmt.Sprintf("key column %s is not supplied", k.Name)).WithRelation(schema.Name)
		}
	}
	for _, k := range m.Keys {
		if !schema.IsKey(schema.ColumnIndex(ir.NormalizeName(k))) {
			return nil, ir.NewSchemaError(ir.CodeInvalidProgram, fmt.Sprintf("%s is not a key column", k)).WithRelation(schema.Name)
		}
	}

	switch m.Op {
	case ir.MutationPut:
		for _, c := range schema.Columns() {
			idx, ok := source[c.Name]
			if !ok {
				if !c.Type.Nullable {
					return nil, ir.NewSchemaError(ir.CodeInvalidProgram, fmt.Sprintf("non-nullable column %s is not supplied", c.Name)).WithRelation(schema.Name)
				}
				idx = -1
			}
			mp.Columns = append(mp.Columns, idx)
		}
	case ir.MutationRm:
		for _, c := range schema.Keys {
			mp.Columns = append(mp.Columns, source[c.Name])
		}
	default:
		return nil, ir.NewSchemaError(ir.CodeInvalidProgram, fmt.Sprintf("unknown mutation %s", m.Op))
	}
	return mp, nil
}

func buildStrata(rules []*Rule, levels map[string]int, aggregated map[string]bool) []Stratum {
	maxLevel := 0
	for _, l := range levels {
		maxLevel = max(maxLevel, l)
	}
	strata := make([]Stratum, maxLevel+1)
	for i := range strata {
		strata[i].Index = i
	}
	names := make([]string, 0, len(levels))
	for n := range levels {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		s := &strata[levels[n]]
		s.Relations = append(s.Relations, n)
		if aggregated[n] {
			s.Aggregated = append(s.Aggregated, n)
		}
	}
	for _, r := range rules {
		level := levels[r.Head.Name]
		s := &strata[level]
		for i, step := range r.Steps {
			if step.Kind == StepDerived && levels[step.Relation] == level {
				r.Recursive = append(r.Recursive, i)
			}
		}
		s.Rules = append(s.Rules, r)
	}

	// Drop empty levels so indexes stay dense
	out := strata[:0]
	for _, s := range strata {
		if len(s.Relations) == 0 {
			continue
		}
		s.Index = len(out)
		out = append(out, s)
	}
	return out
}

func indexOf(list []string, s string) int {
	for i, x := range list {
		if x == s {
			return i
		}
	}
	return -1
}
