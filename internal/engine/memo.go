package engine

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/roach88/deduce/internal/ir"
)

// storedSource reads stored relations at a fixed snapshot. *txn.Txn
// implements it.
type storedSource interface {
	Lookup(ctx context.Context, relation string, bound map[int]ir.Value) ([]ir.Tuple, error)
}

// lookupMemo caches stored lookups for one statement. The snapshot does
// not change while a statement evaluates, so equal lookups return equal
// rows.
type lookupMemo struct {
	src storedSource

	mu      sync.Mutex
	entries map[string][]ir.Tuple
	hits    int
	misses  int
}

func newLookupMemo(src storedSource) *lookupMemo {
	return &lookupMemo{src: src, entries: make(map[string][]ir.Tuple)}
}

// Lookup implements storedSource.
func (m *lookupMemo) Lookup(ctx context.Context, relation string, bound map[int]ir.Value) ([]ir.Tuple, error) {
	key := memoKey(relation, bound)
	m.mu.Lock()
	rows, ok := m.entries[key]
	if ok {
		m.hits++
	}
	m.mu.Unlock()
	if ok {
		return rows, nil
	}

	rows, err := m.src.Lookup(ctx, relation, bound)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.entries[key] = rows
	m.misses++
	m.mu.Unlock()
	return rows, nil
}

// stats returns hit and miss counts.
func (m *lookupMemo) stats() (hits, misses int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hits, m.misses
}

func memoKey(relation string, bound map[int]ir.Value) string {
	positions := make([]int, 0, len(bound))
	for p := range bound {
		positions = append(positions, p)
	}
	sort.Ints(positions)

	var b strings.Builder
	b.WriteString(relation)
	for _, p := range positions {
		v := bound[p]
		b.WriteByte(0)
		b.WriteString(strconv.Itoa(p))
		b.WriteByte('=')
		if v == nil {
			v = ir.Null{}
		}
		b.WriteString(v.Kind().String())
		b.WriteByte(':')
		b.WriteString(v.String())
	}
	return b.String()
}
