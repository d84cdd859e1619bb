package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/deduce/internal/querysql"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added index on relations(name, created_epoch)
const currentSchemaVersion = 1

// Store is a versioned tuple store: one SQLite table per relation, every
// row a version of one key stamped with the epoch that wrote it.
//
// Writers (commits, DDL, compaction, restore) serialize on writeMu. Readers
// never take it: they read at a snapshot epoch, and rows stamped later are
// invisible to them.
type Store struct {
	db       *sql.DB
	path     string
	compiler *querysql.SQLCompiler

	writeMu   sync.Mutex
	clock     *epochClock
	catEpoch  *epochClock
	snapshots *snapshotRegistry

	catMu   sync.RWMutex
	catalog map[string][]*relationEntry
	byID    map[int64]*relationEntry
}

type options struct {
	busyTimeout  time.Duration
	maxOpenConns int
	readOnly     bool
}

// Option configures Open.
type Option func(*options)

// WithBusyTimeout sets how long SQLite waits on a locked database.
func WithBusyTimeout(d time.Duration) Option {
	return func(o *options) { o.busyTimeout = d }
}

// WithMaxOpenConns bounds the connection pool. Readers use separate
// connections so they do not queue behind a commit.
func WithMaxOpenConns(n int) Option {
	return func(o *options) { o.maxOpenConns = n }
}

// withReadOnly opens an existing database without applying schema changes.
// Used to read backups.
func withReadOnly() Option {
	return func(o *options) { o.readOnly = true }
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
//
// Pragmas are passed in the DSN so every pooled connection gets them.
// This function is idempotent - safe to call multiple times.
func Open(path string, opts ...Option) (*Store, error) {
	o := options{busyTimeout: 5 * time.Second, maxOpenConns: 4}
	for _, opt := range opts {
		opt(&o)
	}

	dsn := buildDSN(path, o)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Verify connection works
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Each connection to :memory: is a separate database
	if isMemory(path) {
		o.maxOpenConns = 1
	}
	db.SetMaxOpenConns(o.maxOpenConns)
	db.SetMaxIdleConns(o.maxOpenConns)

	if !o.readOnly {
		if err := applyPragmas(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply pragmas: %w", err)
		}
		if err := applySchema(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply schema: %w", err)
		}
	}

	s := &Store{
		db:        db,
		path:      path,
		compiler:  querysql.NewSQLCompiler(),
		snapshots: newSnapshotRegistry(),
	}

	ctx := context.Background()
	epoch, err := s.readMeta(ctx, "epoch")
	if err != nil {
		db.Close()
		return nil, err
	}
	catEpoch, err := s.readMeta(ctx, "catalog_epoch")
	if err != nil {
		db.Close()
		return nil, err
	}
	s.clock = newEpochClockAt(epoch)
	s.catEpoch = newEpochClockAt(catEpoch)

	if err := s.loadCatalog(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func buildDSN(path string, o options) string {
	params := []string{
		fmt.Sprintf("_busy_timeout=%d", o.busyTimeout.Milliseconds()),
		"_foreign_keys=on",
	}
	if o.readOnly {
		return "file:" + path + "?mode=ro&" + strings.Join(params, "&")
	}
	if !isMemory(path) {
		params = append(params, "_journal_mode=WAL", "_synchronous=NORMAL")
	}
	return path + "?" + strings.Join(params, "&")
}

func isMemory(path string) bool {
	return path == ":memory:" || strings.Contains(path, "mode=memory")
}

// Close closes the database connection.
// Should be called when the store is no longer needed.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
// Use with caution - prefer using Store methods when available.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Epoch returns the last committed epoch.
func (s *Store) Epoch() int64 {
	return s.clock.Current()
}

// CatalogEpoch returns the epoch of the last schema change (create, drop or
// restore). Compiled plans are valid while it is unchanged.
func (s *Store) CatalogEpoch() int64 {
	return s.catEpoch.Current()
}

func (s *Store) readMeta(ctx context.Context, key string) (int64, error) {
	var v int64
	err := s.db.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = ?", key).Scan(&v)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read meta %s: %w", key, err)
	}
	return v, nil
}

func writeMeta(ctx context.Context, tx *sql.Tx, key string, value int64) error {
	if _, err := tx.ExecContext(ctx, "UPDATE meta SET value = ? WHERE key = ?", value, key); err != nil {
		return fmt.Errorf("write meta %s: %w", key, err)
	}
	return nil
}

// applyPragmas sets required SQLite configuration on the first connection.
// Journal mode is persistent per database file.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// This function is idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 indexes catalog lookups by name.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_relations_name
		ON relations(name, created_epoch)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
