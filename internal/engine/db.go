package engine

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/roach88/deduce/internal/ir"
	"github.com/roach88/deduce/internal/metrics"
	"github.com/roach88/deduce/internal/store"
	"github.com/roach88/deduce/internal/txn"
)

// DB is an open deductive database: a relation store plus the machinery to
// compile and evaluate rule programs against it.
//
// Thread-safety: every method is safe for concurrent use. Queries read at
// their own snapshot; writes serialize inside the store.
type DB struct {
	store *store.Store
	txns  *txn.Manager
	plans *planCache
	ids   txn.IDGenerator

	maxRounds       int
	parallelism     int
	planCacheSize   int
	compactInterval time.Duration
	naive           bool
	storeOpts       []store.Option

	compactor *compactor
	// scriptCompact replaces Compact for ::compact directives in tests.
	scriptCompact func(context.Context) (store.CompactStats, error)
	closeOnce     sync.Once
	closeErr      error
}

// Option configures Open.
type Option func(*DB)

// WithMaxRounds bounds the fixpoint rounds one stratum may take.
//
// Default: 100000 (DefaultMaxRounds). Zero or negative means unlimited.
func WithMaxRounds(n int) Option {
	return func(db *DB) { db.maxRounds = n }
}

// WithParallelism bounds how many rules of one round evaluate at once.
//
// Default: GOMAXPROCS.
func WithParallelism(n int) Option {
	return func(db *DB) { db.parallelism = n }
}

// WithPlanCacheSize sets how many compiled plans are kept. Zero disables
// the cache.
func WithPlanCacheSize(n int) Option {
	return func(db *DB) { db.planCacheSize = n }
}

// WithCompactInterval runs compaction in the background every d. Zero
// (the default) leaves compaction to explicit calls.
func WithCompactInterval(d time.Duration) Option {
	return func(db *DB) { db.compactInterval = d }
}

// WithNaiveEvaluation re-evaluates every rule against the full relations
// each round instead of joining only the previous round's new tuples.
// Results are identical; it exists for cross-checking.
func WithNaiveEvaluation() Option {
	return func(db *DB) { db.naive = true }
}

// WithIDGenerator sets the generator for transaction and query ids.
func WithIDGenerator(g txn.IDGenerator) Option {
	return func(db *DB) { db.ids = g }
}

// WithStoreOptions passes options through to store.Open.
func WithStoreOptions(opts ...store.Option) Option {
	return func(db *DB) { db.storeOpts = append(db.storeOpts, opts...) }
}

// Open opens or creates the database at path. ":memory:" opens a private
// in-memory database.
func Open(path string, opts ...Option) (*DB, error) {
	db := &DB{
		ids:           txn.UUIDv7Generator{},
		maxRounds:     DefaultMaxRounds,
		parallelism:   runtime.GOMAXPROCS(0),
		planCacheSize: DefaultPlanCacheSize,
	}
	for _, opt := range opts {
		opt(db)
	}

	plans, err := newPlanCache(db.planCacheSize)
	if err != nil {
		return nil, err
	}
	db.plans = plans

	s, err := store.Open(path, db.storeOpts...)
	if err != nil {
		return nil, err
	}
	db.store = s
	db.txns = txn.NewManager(s, txn.WithIDGenerator(db.ids))

	if db.compactInterval > 0 {
		db.compactor = startCompactor(db, db.compactInterval)
	}
	slog.Debug("database opened",
		"path", path,
		"epoch", s.Epoch(),
		"max_rounds", db.maxRounds,
		"parallelism", db.parallelism,
		"naive", db.naive,
	)
	return db, nil
}

// Close stops background compaction and closes the store. Safe to call
// more than once.
func (db *DB) Close() error {
	db.closeOnce.Do(func() {
		if db.compactor != nil {
			db.compactor.stop()
		}
		db.closeErr = db.store.Close()
	})
	return db.closeErr
}

// Store returns the underlying relation store.
func (db *DB) Store() *store.Store {
	return db.store
}

// Begin starts a transaction at the current epoch.
func (db *DB) Begin() *txn.Txn {
	return db.txns.Begin()
}

// Epoch returns the latest committed epoch.
func (db *DB) Epoch() int64 {
	return db.store.Epoch()
}

// CreateRelation adds a stored relation and returns the epoch of the change.
func (db *DB) CreateRelation(ctx context.Context, schema ir.RelationSchema) (int64, error) {
	return db.store.CreateRelation(ctx, schema)
}

// DropRelation removes a stored relation and returns the epoch of the change.
func (db *DB) DropRelation(ctx context.Context, name string) (int64, error) {
	return db.store.DropRelation(ctx, name)
}

// Relation returns the schema of a live relation.
func (db *DB) Relation(name string) (ir.RelationSchema, error) {
	return db.store.Relation(name, db.store.Epoch())
}

// Relations returns the live relation schemas sorted by name.
func (db *DB) Relations() []ir.RelationSchema {
	return db.store.Relations(db.store.Epoch())
}

// Stats reports the row and version counts of every live relation.
func (db *DB) Stats(ctx context.Context) ([]store.RelationStats, error) {
	return db.store.Stats(ctx)
}

// Digest returns a content hash of every relation visible at epoch.
func (db *DB) Digest(ctx context.Context, epoch int64) (string, error) {
	return db.store.Digest(ctx, epoch)
}

// Backup writes a consistent copy of the database to dest.
func (db *DB) Backup(ctx context.Context, dest string) error {
	if err := db.store.Backup(ctx, dest); err != nil {
		return err
	}
	slog.Info("backup written", "dest", dest, "epoch", db.store.Epoch())
	return nil
}

// Restore replaces the live relations with the contents of the backup at
// src and returns the epoch of the replacement.
func (db *DB) Restore(ctx context.Context, src string) (int64, error) {
	epoch, err := db.store.Restore(ctx, src)
	if err != nil {
		return 0, err
	}
	slog.Info("backup restored", "src", src, "epoch", epoch)
	return epoch, nil
}

// Compact discards versions no open snapshot can observe. Query results
// are unchanged.
func (db *DB) Compact(ctx context.Context) (store.CompactStats, error) {
	stats, err := db.store.Compact(ctx)
	if err != nil {
		return stats, err
	}
	metrics.CompactionsTotal.Inc()
	metrics.VersionsReclaimed.Add(float64(stats.VersionsRemoved + stats.TombstonesRemoved))
	return stats, nil
}

// Import writes rows into several stored relations as one atomic commit.
// Headers name the relation's columns in any order; nullable columns a
// payload omits are written as null.
func (db *DB) Import(ctx context.Context, data map[string]ir.NamedRows) (int64, error) {
	t := db.txns.Begin()
	defer t.Rollback()

	for name, payload := range data {
		schema, err := db.store.Relation(name, t.Epoch())
		if err != nil {
			return 0, err
		}
		tuples, err := importTuples(schema, payload)
		if err != nil {
			return 0, err
		}
		if err := t.Put(name, tuples...); err != nil {
			return 0, err
		}
	}

	epoch, err := t.Commit(ctx)
	metrics.CommitsTotal.WithLabelValues(metrics.Status(err)).Inc()
	if err != nil {
		return 0, err
	}
	slog.Info("import committed", "txn", t.ID(), "relations", len(data), "epoch", epoch)
	return epoch, nil
}

// importTuples arranges payload rows into the schema's column order.
func importTuples(schema ir.RelationSchema, payload ir.NamedRows) ([]ir.Tuple, error) {
	positions := make([]int, schema.Arity())
	for i := range positions {
		positions[i] = -1
	}
	for i, h := range payload.Headers {
		col := schema.ColumnIndex(ir.NormalizeName(h))
		if col < 0 {
			return nil, ir.NewSchemaError(ir.CodeColumnNotFound, fmt.Sprintf("unknown column %q", h)).WithRelation(schema.Name)
		}
		if positions[col] >= 0 {
			return nil, ir.NewSchemaError(ir.CodeInvalidSchema, fmt.Sprintf("column %q given twice", h)).WithRelation(schema.Name)
		}
		positions[col] = i
	}
	for col, c := range schema.Columns() {
		if positions[col] < 0 && !c.Type.Nullable {
			return nil, ir.NewSchemaError(ir.CodeColumnNotFound, fmt.Sprintf("missing column %q", c.Name)).WithRelation(schema.Name)
		}
	}

	out := make([]ir.Tuple, len(payload.Rows))
	for r, row := range payload.Rows {
		if len(row) != len(payload.Headers) {
			return nil, ir.NewSchemaError(ir.CodeArityMismatch,
				fmt.Sprintf("row %d has %d values for %d headers", r, len(row), len(payload.Headers))).WithRelation(schema.Name)
		}
		t := make(ir.Tuple, len(positions))
		for col, src := range positions {
			if src < 0 {
				t[col] = ir.Null{}
				continue
			}
			t[col] = row[src]
		}
		out[r] = t
	}
	return out, nil
}
