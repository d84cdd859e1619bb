package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/deduce/internal/ir"
)

type countingSource struct {
	calls int
	rows  []ir.Tuple
}

func (c *countingSource) Lookup(ctx context.Context, relation string, bound map[int]ir.Value) ([]ir.Tuple, error) {
	c.calls++
	return c.rows, nil
}

func TestLookupMemo_CachesEqualLookups(t *testing.T) {
	src := &countingSource{rows: []ir.Tuple{tup(1, 2)}}
	m := newLookupMemo(src)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		rows, err := m.Lookup(ctx, "friends", map[int]ir.Value{0: ir.Int(1)})
		require.NoError(t, err)
		assert.Equal(t, []ir.Tuple{tup(1, 2)}, rows)
	}
	assert.Equal(t, 1, src.calls)

	_, err := m.Lookup(ctx, "friends", map[int]ir.Value{1: ir.Int(1)})
	require.NoError(t, err)
	_, err = m.Lookup(ctx, "friends", map[int]ir.Value{0: ir.String("1")})
	require.NoError(t, err)
	assert.Equal(t, 3, src.calls, "position and kind are part of the key")

	hits, misses := m.stats()
	assert.Equal(t, 2, hits)
	assert.Equal(t, 3, misses)
}

func TestMemoKey_OrderIndependent(t *testing.T) {
	a := memoKey("r", map[int]ir.Value{0: ir.Int(1), 2: ir.String("x")})
	b := memoKey("r", map[int]ir.Value{2: ir.String("x"), 0: ir.Int(1)})
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, memoKey("s", map[int]ir.Value{0: ir.Int(1), 2: ir.String("x")}))
}
