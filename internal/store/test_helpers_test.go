package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/roach88/deduce/internal/ir"
)

// createTestStore creates a new file-backed store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// friendsSchema is the edge relation used throughout the tests:
// friends{fr: Int, to: Int}, both key columns.
func friendsSchema() ir.RelationSchema {
	return ir.RelationSchema{
		Name: "friends",
		Keys: []ir.Column{
			{Name: "fr", Type: ir.ColumnType{Base: ir.TypeInt}},
			{Name: "to", Type: ir.ColumnType{Base: ir.TypeInt}},
		},
	}
}

// scoresSchema has one key and nullable values:
// scores{name: String => score: Float?, note: String?}.
func scoresSchema() ir.RelationSchema {
	return ir.RelationSchema{
		Name: "scores",
		Keys: []ir.Column{{Name: "name", Type: ir.ColumnType{Base: ir.TypeString}}},
		Values: []ir.Column{
			{Name: "score", Type: ir.ColumnType{Base: ir.TypeFloat, Nullable: true}},
			{Name: "note", Type: ir.ColumnType{Base: ir.TypeString, Nullable: true}},
		},
	}
}

func mustCreate(t *testing.T, s *Store, schema ir.RelationSchema) int64 {
	t.Helper()
	epoch, err := s.CreateRelation(context.Background(), schema)
	if err != nil {
		t.Fatalf("CreateRelation(%s) failed: %v", schema.Name, err)
	}
	return epoch
}

func mustPut(t *testing.T, s *Store, relation string, tuples ...ir.Tuple) int64 {
	t.Helper()
	epoch, err := s.Put(context.Background(), relation, tuples...)
	if err != nil {
		t.Fatalf("Put(%s) failed: %v", relation, err)
	}
	return epoch
}

func edge(fr, to int64) ir.Tuple {
	return ir.Tuple{ir.Int(fr), ir.Int(to)}
}
