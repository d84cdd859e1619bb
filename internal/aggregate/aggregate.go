// Package aggregate reduces grouped rows with the closed set of reducers
// a rule head may apply.
package aggregate

import (
	"fmt"

	"github.com/google/btree"

	"github.com/roach88/deduce/internal/ir"
)

const btreeDegree = 16

// valueItem orders values in a btree by the value total order.
type valueItem struct{ v ir.Value }

// Less implements the btree.Item interface.
func (a valueItem) Less(b btree.Item) bool {
	return ir.Compare(a.v, b.(valueItem).v) < 0
}

// state accumulates one reducer over one group.
type state struct {
	reducer ir.Reducer
	count   int64
	seen    *btree.BTree
	best    ir.Value
	sum     float64
}

func newState(r ir.Reducer) *state {
	s := &state{reducer: r}
	if r == ir.ReducerCountUnique {
		s.seen = btree.New(btreeDegree)
	}
	return s
}

// add folds one value into the state.
func (s *state) add(v ir.Value) error {
	if v == nil {
		v = ir.Null{}
	}
	switch s.reducer {
	case ir.ReducerCount:
		s.count++
	case ir.ReducerCountUnique:
		s.seen.ReplaceOrInsert(valueItem{v})
	case ir.ReducerMin:
		if s.count == 0 || ir.Compare(v, s.best) < 0 {
			s.best = v
		}
		s.count++
	case ir.ReducerMax:
		if s.count == 0 || ir.Compare(v, s.best) > 0 {
			s.best = v
		}
		s.count++
	case ir.ReducerMean:
		f, ok := ir.AsFloat(v)
		if !ok {
			return ir.NewEvaluationError(ir.CodeNonNumericInput,
				fmt.Sprintf("mean over %s value %s", v.Kind(), v))
		}
		s.sum += f
		s.count++
	default:
		return ir.NewEvaluationError(ir.CodeOperandType, fmt.Sprintf("unknown reducer %s", s.reducer))
	}
	return nil
}

// result returns the reduced value.
func (s *state) result() ir.Value {
	switch s.reducer {
	case ir.ReducerCount:
		return ir.Int(s.count)
	case ir.ReducerCountUnique:
		return ir.Int(s.seen.Len())
	case ir.ReducerMin, ir.ReducerMax:
		return s.best
	case ir.ReducerMean:
		return ir.Float(s.sum / float64(s.count))
	}
	return ir.Null{}
}

// Identity returns the value a reducer yields over no input, and whether
// it has one. Only count and count_unique do.
func Identity(r ir.Reducer) (ir.Value, bool) {
	switch r {
	case ir.ReducerCount, ir.ReducerCountUnique:
		return ir.Int(0), true
	}
	return nil, false
}

// group is one output row under construction.
type group struct {
	key    ir.Tuple
	states []*state
}

// Less implements the btree.Item interface.
func (g *group) Less(b btree.Item) bool {
	return ir.CompareTuples(g.key, b.(*group).key) < 0
}

// Grouper collects rows for one aggregated head and reduces them.
//
// Columns without a reducer form the group key. Rows are added in any
// order; Rows returns one row per group sorted by group key.
type Grouper struct {
	args   []ir.HeadArg
	keyPos []int
	aggPos []int
	groups *btree.BTree
	probe  group
}

// NewGrouper returns a Grouper for a head's arguments.
func NewGrouper(args []ir.HeadArg) *Grouper {
	g := &Grouper{args: args, groups: btree.New(btreeDegree)}
	for i, a := range args {
		if a.Reducer == ir.ReducerNone {
			g.keyPos = append(g.keyPos, i)
		} else {
			g.aggPos = append(g.aggPos, i)
		}
	}
	return g
}

// Add folds one projected row (one value per head argument) into its
// group.
func (g *Grouper) Add(row ir.Tuple) error {
	if len(row) != len(g.args) {
		return fmt.Errorf("aggregate row has %d values, head has %d", len(row), len(g.args))
	}
	key := make(ir.Tuple, len(g.keyPos))
	for i, p := range g.keyPos {
		key[i] = row[p]
	}

	g.probe.key = key
	var grp *group
	if item := g.groups.Get(&g.probe); item != nil {
		grp = item.(*group)
	} else {
		grp = &group{key: key, states: make([]*state, len(g.aggPos))}
		for i, p := range g.aggPos {
			grp.states[i] = newState(g.args[p].Reducer)
		}
		g.groups.ReplaceOrInsert(grp)
	}

	for i, p := range g.aggPos {
		if err := grp.states[i].add(row[p]); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of groups.
func (g *Grouper) Len() int {
	return g.groups.Len()
}

// Rows returns the reduced rows.
//
// With no group columns and no input, the result is one row of identities
// when every reducer has one, and no row otherwise.
func (g *Grouper) Rows() []ir.Tuple {
	if g.groups.Len() == 0 {
		if len(g.keyPos) > 0 {
			return nil
		}
		row := make(ir.Tuple, len(g.args))
		for i, a := range g.args {
			v, ok := Identity(a.Reducer)
			if !ok {
				return nil
			}
			row[i] = v
		}
		return []ir.Tuple{row}
	}

	out := make([]ir.Tuple, 0, g.groups.Len())
	g.groups.Ascend(func(item btree.Item) bool {
		grp := item.(*group)
		row := make(ir.Tuple, len(g.args))
		for i, p := range g.keyPos {
			row[p] = grp.key[i]
		}
		for i, p := range g.aggPos {
			row[p] = grp.states[i].result()
		}
		out = append(out, row)
		return true
	})
	return out
}

// Reduce groups rows by the head's plain columns and applies its reducers.
func Reduce(args []ir.HeadArg, rows []ir.Tuple) ([]ir.Tuple, error) {
	g := NewGrouper(args)
	for _, r := range rows {
		if err := g.Add(r); err != nil {
			return nil, err
		}
	}
	return g.Rows(), nil
}
