package store

import (
	"context"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/deduce/internal/ir"
)

func TestCommit_AdvancesEpoch(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	mustCreate(t, s, friendsSchema())

	epoch, err := s.Commit(ctx, Batch{
		BaseEpoch: s.Epoch(),
		Writes: []Write{
			{Relation: "friends", Tuple: edge(1, 2)},
			{Relation: "friends", Tuple: edge(2, 3)},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), epoch)
	assert.Equal(t, int64(2), s.Epoch())

	rows, err := s.ScanAll(ctx, "friends", epoch)
	require.NoError(t, err)
	assert.Equal(t, []ir.Tuple{edge(1, 2), edge(2, 3)}, rows)
}

func TestCommit_EmptyBatchKeepsEpoch(t *testing.T) {
	s := createTestStore(t)
	mustCreate(t, s, friendsSchema())
	before := s.Epoch()

	epoch, err := s.Commit(context.Background(), Batch{BaseEpoch: before})
	require.NoError(t, err)
	assert.Equal(t, before, epoch)
	assert.Equal(t, before, s.Epoch())
}

func TestCommit_UnknownRelation(t *testing.T) {
	s := createTestStore(t)

	_, err := s.Put(context.Background(), "missing", edge(1, 2))
	require.Error(t, err)
	assert.True(t, ir.IsSchemaError(err))
	assert.Equal(t, ir.CodeRelationNotFound, ir.CodeOf(err))
}

func TestCommit_TypeMismatch(t *testing.T) {
	s := createTestStore(t)
	mustCreate(t, s, friendsSchema())

	tests := []struct {
		name  string
		tuple ir.Tuple
		code  ir.ErrorCode
	}{
		{"string in int column", ir.Tuple{ir.Int(1), ir.String("x")}, ir.CodeTypeMismatch},
		{"null key", ir.Tuple{ir.Null{}, ir.Int(1)}, ir.CodeTypeMismatch},
		{"float in int column", ir.Tuple{ir.Float(1.5), ir.Int(1)}, ir.CodeTypeMismatch},
		{"too few values", ir.Tuple{ir.Int(1)}, ir.CodeArityMismatch},
		{"too many values", ir.Tuple{ir.Int(1), ir.Int(2), ir.Int(3)}, ir.CodeArityMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Put(context.Background(), "friends", tt.tuple)
			require.Error(t, err)
			assert.True(t, ir.IsSchemaError(err))
			assert.Equal(t, tt.code, ir.CodeOf(err))
		})
	}
	// Nothing was committed by the failed writes
	assert.Equal(t, int64(1), s.Epoch())
}

func TestCommit_IntWidensToFloat(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	mustCreate(t, s, scoresSchema())

	epoch := mustPut(t, s, "scores", ir.Tuple{ir.String("ann"), ir.Int(3), ir.Null{}})
	row, ok, err := s.Get(ctx, "scores", ir.Tuple{ir.String("ann")}, epoch)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ir.Tuple{ir.String("ann"), ir.Float(3), ir.Null{}}, row)
}

func TestCommit_RejectsNonFiniteFloat(t *testing.T) {
	s := createTestStore(t)
	mustCreate(t, s, scoresSchema())

	_, err := s.Put(context.Background(), "scores", ir.Tuple{ir.String("x"), ir.Float(math.NaN()), ir.Null{}})
	require.Error(t, err)
	assert.Equal(t, ir.CodeTypeMismatch, ir.CodeOf(err))
}

func TestCommit_UpsertReplacesValue(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	mustCreate(t, s, scoresSchema())

	e1 := mustPut(t, s, "scores", ir.Tuple{ir.String("ann"), ir.Float(1), ir.String("first")})
	e2 := mustPut(t, s, "scores", ir.Tuple{ir.String("ann"), ir.Float(2), ir.Null{}})

	old, ok, err := s.Get(ctx, "scores", ir.Tuple{ir.String("ann")}, e1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ir.Float(1), old[1])

	cur, ok, err := s.Get(ctx, "scores", ir.Tuple{ir.String("ann")}, e2)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ir.Tuple{ir.String("ann"), ir.Float(2), ir.Null{}}, cur)
}

func TestCommit_DuplicateKeyInBatchLastWins(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	mustCreate(t, s, scoresSchema())

	epoch, err := s.Commit(ctx, Batch{
		BaseEpoch: s.Epoch(),
		Writes: []Write{
			{Relation: "scores", Tuple: ir.Tuple{ir.String("ann"), ir.Float(1), ir.Null{}}},
			{Relation: "scores", Tuple: ir.Tuple{ir.String("ann"), ir.Float(9), ir.Null{}}},
		},
	})
	require.NoError(t, err)

	row, ok, err := s.Get(ctx, "scores", ir.Tuple{ir.String("ann")}, epoch)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ir.Float(9), row[1])
}

func TestRetract_HidesKeyFromLaterSnapshots(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	mustCreate(t, s, friendsSchema())

	before := mustPut(t, s, "friends", edge(1, 2), edge(1, 3))
	after, err := s.Retract(ctx, "friends", edge(1, 2))
	require.NoError(t, err)

	rows, err := s.ScanAll(ctx, "friends", before)
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	rows, err = s.ScanAll(ctx, "friends", after)
	require.NoError(t, err)
	assert.Equal(t, []ir.Tuple{edge(1, 3)}, rows)
}

func TestRetract_KeyOnly(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	mustCreate(t, s, scoresSchema())

	mustPut(t, s, "scores", ir.Tuple{ir.String("ann"), ir.Float(1), ir.Null{}})
	epoch, err := s.Retract(ctx, "scores", ir.Tuple{ir.String("ann")})
	require.NoError(t, err)

	_, ok, err := s.Get(ctx, "scores", ir.Tuple{ir.String("ann")}, epoch)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCommit_ConflictOnStaleBase(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	mustCreate(t, s, friendsSchema())

	base := s.Epoch()
	mustPut(t, s, "friends", edge(1, 2))

	_, err := s.Commit(ctx, Batch{
		BaseEpoch: base,
		Writes: []Write{
			{Relation: "friends", Tuple: edge(5, 6)},
			{Relation: "friends", Tuple: edge(1, 2), Retract: true},
		},
	})
	require.Error(t, err)
	assert.True(t, ir.IsConflictError(err))
	assert.True(t, ir.IsRetryable(err))

	// The whole batch was rejected
	rows, err := s.ScanAll(ctx, "friends", s.Epoch())
	require.NoError(t, err)
	assert.Equal(t, []ir.Tuple{edge(1, 2)}, rows)
}

func TestCommit_ConflictWhenRelationReplaced(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	mustCreate(t, s, friendsSchema())

	base := s.Epoch()
	_, err := s.DropRelation(ctx, "friends")
	require.NoError(t, err)
	mustCreate(t, s, friendsSchema())

	_, err = s.Commit(ctx, Batch{
		BaseEpoch: base,
		Writes:    []Write{{Relation: "friends", Tuple: edge(1, 2)}},
	})
	require.Error(t, err)
	assert.True(t, ir.IsConflictError(err))
	assert.Equal(t, ir.CodeRelationReplaced, ir.CodeOf(err))

	rows, err := s.ScanAll(ctx, "friends", s.Epoch())
	require.NoError(t, err)
	assert.Empty(t, rows)

	_, err = s.Commit(ctx, Batch{
		BaseEpoch: s.Epoch(),
		Writes:    []Write{{Relation: "friends", Tuple: edge(1, 2)}},
	})
	require.NoError(t, err)
}

func TestCommit_NoConflictOnDisjointKeys(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	mustCreate(t, s, friendsSchema())

	base := s.Epoch()
	mustPut(t, s, "friends", edge(1, 2))

	_, err := s.Commit(ctx, Batch{
		BaseEpoch: base,
		Writes:    []Write{{Relation: "friends", Tuple: edge(3, 4)}},
	})
	require.NoError(t, err)
}

func TestCommit_ConcurrentWritersSameKey(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	mustCreate(t, s, scoresSchema())

	const writers = 8
	base := s.Epoch()

	var (
		mu        sync.Mutex
		won       int
		conflicts int
	)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < writers; i++ {
		i := i
		g.Go(func() error {
			_, err := s.Commit(gctx, Batch{
				BaseEpoch: base,
				Writes: []Write{{
					Relation: "scores",
					Tuple:    ir.Tuple{ir.String("shared"), ir.Float(float64(i)), ir.Null{}},
				}},
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				won++
			case ir.IsConflictError(err):
				conflicts++
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, 1, won, "exactly one writer commits against the shared base")
	assert.Equal(t, writers-1, conflicts)
	assert.Equal(t, base+1, s.Epoch())
}

func TestCommit_ConcurrentDisjointWriters(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	mustCreate(t, s, friendsSchema())

	const writers = 10
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < writers; i++ {
		i := int64(i)
		g.Go(func() error {
			_, err := s.Commit(gctx, Batch{
				BaseEpoch: s.Epoch(),
				Writes:    []Write{{Relation: "friends", Tuple: edge(i, i+1)}},
			})
			return err
		})
	}
	require.NoError(t, g.Wait())

	rows, err := s.ScanAll(ctx, "friends", s.Epoch())
	require.NoError(t, err)
	assert.Len(t, rows, writers)
	assert.Equal(t, int64(1+writers), s.Epoch())
}
