package engine

import (
	"github.com/google/btree"

	"github.com/roach88/deduce/internal/ir"
)

// The degree of derived relation btrees.
const relationBtreeDegree = 32

// tupleItem orders tuples by the value total order.
type tupleItem struct {
	t ir.Tuple
}

// Less implements the btree.Item interface.
func (a tupleItem) Less(b btree.Item) bool {
	return ir.CompareTuples(a.t, b.(tupleItem).t) < 0
}

// tupleSet is an ordered set of tuples: the in-memory form of a derived
// relation or of one round's delta.
//
// Concurrent reads are safe. Writes happen only between rounds, when no
// rule is being evaluated.
type tupleSet struct {
	t *btree.BTree
}

func newTupleSet() *tupleSet {
	return &tupleSet{t: btree.New(relationBtreeDegree)}
}

// insert adds t and reports whether it was new.
func (s *tupleSet) insert(t ir.Tuple) bool {
	if s.t.Has(tupleItem{t}) {
		return false
	}
	s.t.ReplaceOrInsert(tupleItem{t})
	return true
}

// has reports whether an equal tuple is present.
func (s *tupleSet) has(t ir.Tuple) bool {
	if s == nil {
		return false
	}
	return s.t.Has(tupleItem{t})
}

func (s *tupleSet) len() int {
	if s == nil {
		return 0
	}
	return s.t.Len()
}

// ascend calls fn for every tuple in order until fn returns false.
func (s *tupleSet) ascend(fn func(ir.Tuple) bool) {
	if s == nil {
		return
	}
	s.t.Ascend(func(i btree.Item) bool {
		return fn(i.(tupleItem).t)
	})
}

// prefix calls fn for every tuple whose leading columns equal prefix.
func (s *tupleSet) prefix(prefix ir.Tuple, fn func(ir.Tuple) bool) {
	if s == nil {
		return
	}
	if len(prefix) == 0 {
		s.ascend(fn)
		return
	}
	// A prefix sorts before every tuple it is a prefix of
	s.t.AscendGreaterOrEqual(tupleItem{prefix}, func(i btree.Item) bool {
		t := i.(tupleItem).t
		if len(t) < len(prefix) || ir.CompareTuples(t[:len(prefix)], prefix) != 0 {
			return false
		}
		return fn(t)
	})
}

// tuples returns the contents in order.
func (s *tupleSet) tuples() []ir.Tuple {
	out := make([]ir.Tuple, 0, s.len())
	s.ascend(func(t ir.Tuple) bool {
		out = append(out, t)
		return true
	})
	return out
}
