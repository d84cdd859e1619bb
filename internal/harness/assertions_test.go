package harness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/deduce/internal/engine"
	"github.com/roach88/deduce/internal/ir"
	"github.com/roach88/deduce/internal/testutil"
)

func seededDB(t *testing.T) *engine.DB {
	t.Helper()
	db := testutil.OpenEngine(t)
	ctx := context.Background()
	_, err := db.CreateRelation(ctx, ir.RelationSchema{
		Name: "nums",
		Keys: []ir.Column{{Name: "n", Type: ir.ColumnType{Base: ir.TypeInt}}},
	})
	require.NoError(t, err)
	_, err = db.Import(ctx, map[string]ir.NamedRows{
		"nums": {Headers: []string{"n"}, Rows: []ir.Tuple{{ir.Int(2)}, {ir.Int(1)}}},
	})
	require.NoError(t, err)
	return db
}

func TestEvaluateAssertions(t *testing.T) {
	db := seededDB(t)

	tests := []struct {
		name      string
		assertion Assertion
		wantErr   string
	}{
		{"count holds", Assertion{Type: AssertRelationCount, Relation: "nums", Count: 2}, ""},
		{"count differs", Assertion{Type: AssertRelationCount, Relation: "nums", Count: 3}, "Expected: 3 rows"},
		{"rows hold", Assertion{Type: AssertRelationRows, Relation: "nums", Rows: [][]any{{1}, {2}}}, ""},
		{"rows differ", Assertion{Type: AssertRelationRows, Relation: "nums", Rows: [][]any{{1}}}, "relation_rows nums"},
		{"unknown relation", Assertion{Type: AssertRelationCount, Relation: "absent"}, "RELATION_NOT_FOUND"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := EvaluateAssertions(context.Background(), db, []Assertion{tt.assertion})
			if tt.wantErr == "" {
				assert.Empty(t, errs)
				return
			}
			require.Len(t, errs, 1)
			assert.Contains(t, errs[0], tt.wantErr)
		})
	}
}

func TestDiffRows(t *testing.T) {
	a := []ir.Tuple{{ir.Int(1), ir.String("x")}}

	assert.Empty(t, diffRows(a, []ir.Tuple{{ir.Float(1), ir.String("x")}}))
	assert.Contains(t, diffRows(a, nil), "expected 1, got 0")
	assert.Contains(t, diffRows(a, []ir.Tuple{{ir.Int(1), ir.String("y")}}), "row 0")
}
