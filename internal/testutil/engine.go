package testutil

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/deduce/internal/engine"
)

// OpenEngine opens a database in a fresh temporary directory with
// sequential ids. It is closed when the test ends.
func OpenEngine(t testing.TB, opts ...engine.Option) *engine.DB {
	t.Helper()
	opts = append([]engine.Option{engine.WithIDGenerator(NewSequenceGenerator("test"))}, opts...)
	db, err := engine.Open(filepath.Join(t.TempDir(), "test.db"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}
