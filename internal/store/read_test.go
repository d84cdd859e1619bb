package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/deduce/internal/ir"
)

func seedFriends(t *testing.T, s *Store) int64 {
	t.Helper()
	mustCreate(t, s, friendsSchema())
	return mustPut(t, s, "friends", edge(3, 1), edge(1, 3), edge(1, 2), edge(2, 4), edge(1, 5))
}

func TestScanAll_OrderedByKey(t *testing.T) {
	s := createTestStore(t)
	epoch := seedFriends(t, s)

	rows, err := s.ScanAll(context.Background(), "friends", epoch)
	require.NoError(t, err)
	assert.Equal(t, []ir.Tuple{edge(1, 2), edge(1, 3), edge(1, 5), edge(2, 4), edge(3, 1)}, rows)
}

func TestScanAll_EmptyRelation(t *testing.T) {
	s := createTestStore(t)
	epoch := mustCreate(t, s, friendsSchema())

	rows, err := s.ScanAll(context.Background(), "friends", epoch)
	require.NoError(t, err)
	assert.NotNil(t, rows)
	assert.Empty(t, rows)
}

func TestScan_Prefix(t *testing.T) {
	s := createTestStore(t)
	epoch := seedFriends(t, s)

	rows, err := s.Scan(context.Background(), "friends", epoch, KeyRange{Prefix: ir.Tuple{ir.Int(1)}})
	require.NoError(t, err)
	assert.Equal(t, []ir.Tuple{edge(1, 2), edge(1, 3), edge(1, 5)}, rows)
}

func TestScan_Range(t *testing.T) {
	s := createTestStore(t)
	epoch := seedFriends(t, s)
	ctx := context.Background()

	tests := []struct {
		name string
		r    KeyRange
		want []ir.Tuple
	}{
		{
			name: "inclusive bounds after prefix",
			r:    KeyRange{Prefix: ir.Tuple{ir.Int(1)}, Lower: ir.Int(2), Upper: ir.Int(3), LowerInclusive: true, UpperInclusive: true},
			want: []ir.Tuple{edge(1, 2), edge(1, 3)},
		},
		{
			name: "exclusive lower",
			r:    KeyRange{Prefix: ir.Tuple{ir.Int(1)}, Lower: ir.Int(2)},
			want: []ir.Tuple{edge(1, 3), edge(1, 5)},
		},
		{
			name: "first key column only",
			r:    KeyRange{Lower: ir.Int(2), LowerInclusive: true},
			want: []ir.Tuple{edge(2, 4), edge(3, 1)},
		},
		{
			name: "limit",
			r:    KeyRange{Limit: 2},
			want: []ir.Tuple{edge(1, 2), edge(1, 3)},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := s.Scan(ctx, "friends", epoch, tt.r)
			require.NoError(t, err)
			assert.Equal(t, tt.want, rows)
		})
	}
}

func TestScan_PrefixTooLong(t *testing.T) {
	s := createTestStore(t)
	epoch := seedFriends(t, s)

	_, err := s.Scan(context.Background(), "friends", epoch, KeyRange{Prefix: ir.Tuple{ir.Int(1), ir.Int(2), ir.Int(3)}})
	require.Error(t, err)
	assert.Equal(t, ir.CodeArityMismatch, ir.CodeOf(err))
}

func TestLookup_BoundColumns(t *testing.T) {
	s := createTestStore(t)
	epoch := seedFriends(t, s)
	ctx := context.Background()

	rows, err := s.Lookup(ctx, "friends", epoch, map[int]ir.Value{1: ir.Int(3)})
	require.NoError(t, err)
	assert.Equal(t, []ir.Tuple{edge(1, 3)}, rows)

	rows, err = s.Lookup(ctx, "friends", epoch, map[int]ir.Value{0: ir.Int(2), 1: ir.Int(4)})
	require.NoError(t, err)
	assert.Equal(t, []ir.Tuple{edge(2, 4)}, rows)
}

func TestLookup_NumericEquality(t *testing.T) {
	s := createTestStore(t)
	epoch := seedFriends(t, s)
	ctx := context.Background()

	// Float 1.0 equals Int 1 under the value order
	rows, err := s.Lookup(ctx, "friends", epoch, map[int]ir.Value{0: ir.Float(1)})
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	rows, err = s.Lookup(ctx, "friends", epoch, map[int]ir.Value{0: ir.Float(1.5)})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestLookup_UnmatchableValue(t *testing.T) {
	s := createTestStore(t)
	epoch := seedFriends(t, s)
	ctx := context.Background()

	rows, err := s.Lookup(ctx, "friends", epoch, map[int]ir.Value{0: ir.String("1")})
	require.NoError(t, err)
	assert.Empty(t, rows)

	rows, err = s.Lookup(ctx, "friends", epoch, map[int]ir.Value{0: ir.Null{}})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestLookup_NullableValue(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	mustCreate(t, s, scoresSchema())
	epoch := mustPut(t, s, "scores",
		ir.Tuple{ir.String("ann"), ir.Float(1), ir.Null{}},
		ir.Tuple{ir.String("bob"), ir.Null{}, ir.Null{}},
	)

	rows, err := s.Lookup(ctx, "scores", epoch, map[int]ir.Value{1: ir.Null{}})
	require.NoError(t, err)
	assert.Equal(t, []ir.Tuple{{ir.String("bob"), ir.Null{}, ir.Null{}}}, rows)
}

func TestLookup_PositionOutOfRange(t *testing.T) {
	s := createTestStore(t)
	epoch := seedFriends(t, s)

	_, err := s.Lookup(context.Background(), "friends", epoch, map[int]ir.Value{7: ir.Int(1)})
	require.Error(t, err)
	assert.Equal(t, ir.CodeColumnNotFound, ir.CodeOf(err))
}

func TestGet_Snapshots(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	mustCreate(t, s, friendsSchema())

	e1 := mustPut(t, s, "friends", edge(1, 2))
	_, ok, err := s.Get(ctx, "friends", edge(1, 2), e1-1)
	require.NoError(t, err)
	assert.False(t, ok, "row written at e1 is invisible before e1")

	row, ok, err := s.Get(ctx, "friends", edge(1, 2), e1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, edge(1, 2), row)
}

func TestHistory_ListsEveryVersion(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	mustCreate(t, s, scoresSchema())

	e1 := mustPut(t, s, "scores", ir.Tuple{ir.String("ann"), ir.Float(1), ir.Null{}})
	e2 := mustPut(t, s, "scores", ir.Tuple{ir.String("ann"), ir.Float(2), ir.Null{}})
	e3, err := s.Retract(ctx, "scores", ir.Tuple{ir.String("ann")})
	require.NoError(t, err)

	versions, err := s.History(ctx, "scores", 0)
	require.NoError(t, err)
	require.Len(t, versions, 3)
	assert.Equal(t, e1, versions[0].Epoch)
	assert.Equal(t, e2, versions[1].Epoch)
	assert.Equal(t, e3, versions[2].Epoch)
	assert.False(t, versions[1].Tombstone)
	assert.True(t, versions[2].Tombstone)

	versions, err = s.History(ctx, "scores", e2)
	require.NoError(t, err)
	assert.Len(t, versions, 1)
}
