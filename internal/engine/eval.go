package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/deduce/internal/aggregate"
	"github.com/roach88/deduce/internal/compiler"
	"github.com/roach88/deduce/internal/filter"
	"github.com/roach88/deduce/internal/ir"
)

// evaluator runs one compiled plan against one snapshot. It is discarded
// when the statement finishes.
type evaluator struct {
	plan     *compiler.Plan
	params   map[string]ir.Value
	stored   storedSource
	naive    bool
	parallel int
	quota    *RoundQuota
	queryID  string

	rels  map[string]*tupleSet       // derived relations, complete or in progress
	slots map[*compiler.Rule]map[string]int
}

func newEvaluator(plan *compiler.Plan, params map[string]ir.Value, stored storedSource, quota *RoundQuota, naive bool, parallel int, queryID string) *evaluator {
	ev := &evaluator{
		plan:     plan,
		params:   params,
		stored:   stored,
		naive:    naive,
		parallel: parallel,
		quota:    quota,
		queryID:  queryID,
		rels:     make(map[string]*tupleSet),
		slots:    make(map[*compiler.Rule]map[string]int),
	}
	for _, s := range plan.Strata {
		for _, r := range s.Rules {
			index := make(map[string]int, len(r.Slots))
			for i, name := range r.Slots {
				index[name] = i
			}
			ev.slots[r] = index
		}
	}
	return ev
}

// run evaluates every stratum in order and returns the entry relation.
func (ev *evaluator) run(ctx context.Context) (*tupleSet, error) {
	for i := range ev.plan.Strata {
		if err := ev.evalStratum(ctx, &ev.plan.Strata[i]); err != nil {
			return nil, err
		}
	}
	return ev.rels[ev.plan.Entry], nil
}

// task is one rule evaluation within a round. deltaStep is the step that
// reads the previous round's delta, or -1 when every step reads the full
// relations.
type task struct {
	rule      *compiler.Rule
	deltaStep int
}

func (ev *evaluator) evalStratum(ctx context.Context, s *compiler.Stratum) error {
	for _, name := range s.Relations {
		ev.rels[name] = newTupleSet()
	}

	aggregated := make(map[string]bool, len(s.Aggregated))
	for _, name := range s.Aggregated {
		aggregated[name] = true
	}
	var rules []*compiler.Rule
	for _, r := range s.Rules {
		if !aggregated[r.Head.Name] {
			rules = append(rules, r)
		}
	}

	for _, name := range s.Aggregated {
		if err := ev.evalAggregate(ctx, s, name); err != nil {
			return err
		}
	}
	if len(rules) == 0 {
		return nil
	}

	seed := make([]task, len(rules))
	for i, r := range rules {
		seed[i] = task{rule: r, deltaStep: -1}
	}
	delta, err := ev.round(ctx, s.Index, seed, nil)
	if err != nil {
		return err
	}

	for round := 1; len(delta) > 0; round++ {
		var tasks []task
		for _, r := range rules {
			if ev.naive {
				tasks = append(tasks, task{rule: r, deltaStep: -1})
				continue
			}
			for _, p := range r.Recursive {
				if delta[r.Steps[p].Relation].len() > 0 {
					tasks = append(tasks, task{rule: r, deltaStep: p})
				}
			}
		}
		if len(tasks) == 0 {
			break
		}
		if delta, err = ev.round(ctx, s.Index, tasks, delta); err != nil {
			return err
		}
		slog.Debug("fixpoint round",
			"query", ev.queryID,
			"stratum", s.Index,
			"round", round,
			"delta", deltaSize(delta),
		)
	}
	return nil
}

// round runs tasks concurrently against the relations as they stand, then
// merges the new tuples. It returns the delta: tuples not previously
// present, by relation.
func (ev *evaluator) round(ctx context.Context, stratum int, tasks []task, prev map[string]*tupleSet) (map[string]*tupleSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := ev.quota.Check(stratum); err != nil {
		return nil, err
	}

	results := make([][]ir.Tuple, len(tasks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(ev.parallel, 1))
	for i, t := range tasks {
		g.Go(func() error {
			rows, err := ev.runTask(gctx, t, prev)
			results[i] = rows
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	next := make(map[string]*tupleSet)
	for i, t := range tasks {
		name := t.rule.Head.Name
		full := ev.rels[name]
		for _, row := range results[i] {
			if full.has(row) {
				continue
			}
			d := next[name]
			if d == nil {
				d = newTupleSet()
				next[name] = d
			}
			d.insert(row)
		}
	}
	for name, d := range next {
		full := ev.rels[name]
		d.ascend(func(t ir.Tuple) bool {
			full.insert(t)
			return true
		})
	}
	return next, nil
}

// runTask evaluates one rule and returns its head tuples.
func (ev *evaluator) runTask(ctx context.Context, t task, delta map[string]*tupleSet) ([]ir.Tuple, error) {
	r := t.rule
	if r.IsFact() {
		return ev.facts(r)
	}
	var out []ir.Tuple
	err := ev.evalRule(ctx, r, t.deltaStep, delta, func(slots []ir.Value) error {
		row := make(ir.Tuple, len(r.HeadSlots))
		for i, s := range r.HeadSlots {
			row[i] = slots[s]
		}
		out = append(out, row)
		return nil
	})
	return out, err
}

// facts evaluates the rows of an inline data rule.
func (ev *evaluator) facts(r *compiler.Rule) ([]ir.Tuple, error) {
	env := filter.MapEnv{Params: ev.params}
	out := make([]ir.Tuple, 0, len(r.Facts))
	for _, row := range r.Facts {
		t := make(ir.Tuple, len(row))
		for i, e := range row {
			v, err := filter.Eval(e, env)
			if err != nil {
				return nil, ruleError(err, r)
			}
			t[i] = v
		}
		out = append(out, t)
	}
	return out, nil
}

// evalAggregate evaluates every rule of an aggregated relation once. The
// input of each rule is the set of its distinct body bindings, projected
// onto the head.
func (ev *evaluator) evalAggregate(ctx context.Context, s *compiler.Stratum, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var grouper *aggregate.Grouper
	for _, r := range s.Rules {
		if r.Head.Name != name {
			continue
		}
		if grouper == nil {
			grouper = aggregate.NewGrouper(r.Head.Args)
		}
		bindings := newTupleSet()
		err := ev.evalRule(ctx, r, -1, nil, func(slots []ir.Value) error {
			bindings.insert(ir.Tuple(slots).Clone())
			return nil
		})
		if err != nil {
			return err
		}

		var addErr error
		bindings.ascend(func(b ir.Tuple) bool {
			row := make(ir.Tuple, len(r.HeadSlots))
			for i, slot := range r.HeadSlots {
				row[i] = b[slot]
			}
			addErr = grouper.Add(row)
			return addErr == nil
		})
		if addErr != nil {
			return ruleError(addErr, r)
		}
	}
	if grouper == nil {
		return nil
	}

	set := ev.rels[name]
	for _, row := range grouper.Rows() {
		set.insert(row)
	}
	slog.Debug("aggregate evaluated",
		"query", ev.queryID,
		"relation", name,
		"groups", grouper.Len(),
		"rows", set.len(),
	)
	return nil
}

// evalRule joins the steps of r and calls emit with every complete
// binding. The slots slice is reused between calls.
func (ev *evaluator) evalRule(ctx context.Context, r *compiler.Rule, deltaStep int, delta map[string]*tupleSet, emit func([]ir.Value) error) error {
	j := &joiner{
		ev:        ev,
		ctx:       ctx,
		rule:      r,
		deltaStep: deltaStep,
		delta:     delta,
		slots:     make([]ir.Value, len(r.Slots)),
		emit:      emit,
	}
	j.env = slotEnv{index: ev.slots[r], slots: j.slots, params: ev.params}
	if err := j.step(0); err != nil {
		return ruleError(err, r)
	}
	return nil
}

// joiner walks the steps of one rule depth first.
type joiner struct {
	ev        *evaluator
	ctx       context.Context
	rule      *compiler.Rule
	deltaStep int
	delta     map[string]*tupleSet
	slots     []ir.Value
	env       slotEnv
	emit      func([]ir.Value) error
}

func (j *joiner) step(i int) error {
	if i == len(j.rule.Steps) {
		return j.emit(j.slots)
	}
	st := &j.rule.Steps[i]

	switch st.Kind {
	case compiler.StepFilter:
		ok, err := filter.Predicate(st.Expr, j.env)
		if err != nil || !ok {
			return err
		}
		return j.step(i + 1)

	case compiler.StepBind:
		v, err := filter.Eval(st.Expr, j.env)
		if err != nil {
			return err
		}
		j.slots[st.Slot] = v
		err = j.step(i + 1)
		j.slots[st.Slot] = nil
		return err

	case compiler.StepStored:
		rows, err := j.storedRows(st)
		if err != nil {
			return err
		}
		for _, row := range rows {
			if !j.match(st, row) {
				continue
			}
			if err := j.step(i + 1); err != nil {
				return err
			}
		}
		j.unbind(st)
		return nil

	case compiler.StepNotStored:
		rows, err := j.storedRows(st)
		if err != nil {
			return err
		}
		for _, row := range rows {
			if j.match(st, row) {
				return nil
			}
		}
		return j.step(i + 1)

	case compiler.StepDerived:
		set := j.ev.rels[st.Relation]
		if i == j.deltaStep {
			set = j.delta[st.Relation]
		}
		var err error
		set.prefix(j.prefix(st), func(row ir.Tuple) bool {
			if !j.match(st, row) {
				return true
			}
			err = j.step(i + 1)
			return err == nil
		})
		j.unbind(st)
		return err

	case compiler.StepNotDerived:
		found := false
		j.ev.rels[st.Relation].prefix(j.prefix(st), func(row ir.Tuple) bool {
			found = j.match(st, row)
			return !found
		})
		if found {
			return nil
		}
		return j.step(i + 1)
	}
	return fmt.Errorf("unknown step kind %s", st.Kind)
}

// termValue returns the value a prebound term requires.
func (j *joiner) termValue(t compiler.Term) ir.Value {
	switch t.Kind {
	case compiler.TermConst:
		if t.Value == nil {
			return ir.Null{}
		}
		return t.Value
	case compiler.TermParam:
		return j.ev.params[t.Param]
	}
	return j.slots[t.Slot]
}

// storedRows reads the stored rows that can match a step, using its
// prebound columns as lookup keys.
func (j *joiner) storedRows(st *compiler.Step) ([]ir.Tuple, error) {
	bound := make(map[int]ir.Value)
	for i, t := range st.Terms {
		if t.Prebound() {
			bound[i] = j.termValue(t)
		}
	}
	return j.ev.stored.Lookup(j.ctx, st.Relation, bound)
}

// prefix returns the leading prebound column values of a derived step.
func (j *joiner) prefix(st *compiler.Step) ir.Tuple {
	var p ir.Tuple
	for _, t := range st.Terms {
		if !t.Prebound() {
			break
		}
		p = append(p, j.termValue(t))
	}
	return p
}

// match checks row against the step's terms, binding TermBind slots as it
// goes.
func (j *joiner) match(st *compiler.Step, row ir.Tuple) bool {
	for i, t := range st.Terms {
		switch t.Kind {
		case compiler.TermIgnore:
		case compiler.TermBind:
			j.slots[t.Slot] = row[i]
		default:
			if !ir.Equal(row[i], j.termValue(t)) {
				return false
			}
		}
	}
	return true
}

func (j *joiner) unbind(st *compiler.Step) {
	for _, t := range st.Terms {
		if t.Kind == compiler.TermBind {
			j.slots[t.Slot] = nil
		}
	}
}

// slotEnv exposes a rule's bound slots to expression evaluation.
type slotEnv struct {
	index  map[string]int
	slots  []ir.Value
	params map[string]ir.Value
}

// Var implements filter.Env.
func (e slotEnv) Var(name string) (ir.Value, bool) {
	i, ok := e.index[name]
	if !ok || e.slots[i] == nil {
		return nil, false
	}
	return e.slots[i], true
}

// Param implements filter.Env.
func (e slotEnv) Param(name string) (ir.Value, bool) {
	v, ok := e.params[name]
	return v, ok
}

// ruleError attaches the rule's head relation to an untagged error.
func ruleError(err error, r *compiler.Rule) error {
	var e *ir.Error
	if errors.As(err, &e) && e.Relation == "" {
		e.WithRelation(r.Head.Name)
	}
	return err
}

func deltaSize(delta map[string]*tupleSet) int {
	n := 0
	for _, d := range delta {
		n += d.len()
	}
	return n
}
