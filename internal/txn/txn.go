// Package txn groups stored-relation writes into atomic commits.
//
// A Txn pins a snapshot when it begins. Reads go to that snapshot, overlaid
// with the transaction's own buffered writes. Commit hands every buffered
// write to the store as one batch based on the snapshot epoch: either all of
// them become visible at one new epoch, or none do. A key another commit
// wrote after the snapshot fails the batch with a ConflictError. The
// transaction never retries on its own.
package txn

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/roach88/deduce/internal/ir"
	"github.com/roach88/deduce/internal/store"
)

// ErrClosed is returned when a committed or rolled-back transaction is used.
var ErrClosed = errors.New("transaction already closed")

// Manager starts transactions against one store.
type Manager struct {
	store *store.Store
	ids   IDGenerator
}

// Option configures a Manager.
type Option func(*Manager)

// WithIDGenerator sets the generator for transaction ids.
func WithIDGenerator(g IDGenerator) Option {
	return func(m *Manager) { m.ids = g }
}

// NewManager creates a Manager for s.
func NewManager(s *store.Store, opts ...Option) *Manager {
	m := &Manager{store: s, ids: UUIDv7Generator{}}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Store returns the underlying store.
func (m *Manager) Store() *store.Store {
	return m.store
}

// Begin starts a transaction at the current epoch.
func (m *Manager) Begin() *Txn {
	return m.begin(m.store.Snapshot())
}

// BeginAt starts a transaction on an already pinned snapshot. The
// transaction takes ownership of snap and releases it when it ends.
func (m *Manager) BeginAt(snap *store.Snapshot) *Txn {
	return m.begin(snap)
}

func (m *Manager) begin(snap *store.Snapshot) *Txn {
	t := &Txn{
		id:      m.ids.Generate(),
		manager: m,
		snap:    snap,
		overlay: make(map[string]map[string]pending),
	}
	slog.Debug("transaction started", "txn", t.id, "epoch", snap.Epoch())
	return t
}

// pending is the latest buffered write of one key.
type pending struct {
	tuple   ir.Tuple
	retract bool
}

// Txn is one atomic unit of stored-relation writes.
//
// Thread-safety: a Txn may be shared by goroutines; its methods serialize
// on an internal mutex.
type Txn struct {
	id      string
	manager *Manager
	snap    *store.Snapshot

	mu      sync.Mutex
	writes  []store.Write
	overlay map[string]map[string]pending // relation -> key string -> write
	closed  bool
}

// ID returns the transaction id.
func (t *Txn) ID() string {
	return t.id
}

// Epoch returns the snapshot epoch the transaction reads at.
func (t *Txn) Epoch() int64 {
	return t.snap.Epoch()
}

// Pending returns the number of buffered writes.
func (t *Txn) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.writes)
}

// Put buffers upserts into relation. Tuples are checked against the
// relation's schema now, so a bad tuple fails here rather than at commit.
func (t *Txn) Put(relation string, tuples ...ir.Tuple) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	schema, err := t.schema(relation)
	if err != nil {
		return err
	}
	for _, tuple := range tuples {
		stored, err := schema.Coerce(tuple)
		if err != nil {
			return err
		}
		t.buffer(schema, stored, false)
	}
	return nil
}

// Retract buffers removals from relation. Each key may be the key prefix or
// a full tuple.
func (t *Txn) Retract(relation string, keys ...ir.Tuple) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	schema, err := t.schema(relation)
	if err != nil {
		return err
	}
	nkeys := len(schema.Keys)
	for _, k := range keys {
		if len(k) != nkeys && len(k) != schema.Arity() {
			return ir.NewSchemaError(ir.CodeArityMismatch, "retraction does not match key columns").WithRelation(schema.Name)
		}
		key, err := schema.CoerceKey(k[:nkeys])
		if err != nil {
			return err
		}
		t.buffer(schema, ir.Tuple(key), true)
	}
	return nil
}

func (t *Txn) schema(relation string) (ir.RelationSchema, error) {
	return t.manager.store.Relation(relation, t.snap.Epoch())
}

func (t *Txn) buffer(schema ir.RelationSchema, tuple ir.Tuple, retract bool) {
	t.writes = append(t.writes, store.Write{Relation: schema.Name, Tuple: tuple, Retract: retract})
	byKey := t.overlay[schema.Name]
	if byKey == nil {
		byKey = make(map[string]pending)
		t.overlay[schema.Name] = byKey
	}
	byKey[tuple[:len(schema.Keys)].String()] = pending{tuple: tuple, retract: retract}
}

// Get returns the row with key as this transaction sees it: its own
// buffered writes first, then the snapshot.
func (t *Txn) Get(ctx context.Context, relation string, key ir.Tuple) (ir.Tuple, bool, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, false, ErrClosed
	}
	schema, err := t.schema(relation)
	if err != nil {
		t.mu.Unlock()
		return nil, false, err
	}
	coerced, err := schema.CoerceKey(key)
	if err != nil {
		t.mu.Unlock()
		return nil, false, err
	}
	p, ok := t.overlay[schema.Name][ir.Tuple(coerced).String()]
	t.mu.Unlock()

	if ok {
		if p.retract {
			return nil, false, nil
		}
		return p.tuple, true, nil
	}
	return t.manager.store.Get(ctx, relation, coerced, t.snap.Epoch())
}

// Lookup returns the rows of relation whose columns equal the bound values
// (keyed by tuple position), as this transaction sees them: buffered writes
// replace or hide snapshot rows with the same key. Rows are ordered by key.
func (t *Txn) Lookup(ctx context.Context, relation string, bound map[int]ir.Value) ([]ir.Tuple, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrClosed
	}
	schema, err := t.manager.store.Relation(relation, t.snap.Epoch())
	if err != nil {
		t.mu.Unlock()
		return nil, err
	}
	var buffered map[string]pending
	if byKey := t.overlay[schema.Name]; len(byKey) > 0 {
		buffered = make(map[string]pending, len(byKey))
		for k, p := range byKey {
			buffered[k] = p
		}
	}
	t.mu.Unlock()

	rows, err := t.manager.store.Lookup(ctx, schema.Name, t.snap.Epoch(), bound)
	if err != nil || buffered == nil {
		return rows, err
	}

	nkeys := len(schema.Keys)
	out := make([]ir.Tuple, 0, len(rows))
	for _, row := range rows {
		if _, shadowed := buffered[row[:nkeys].String()]; !shadowed {
			out = append(out, row)
		}
	}
	for _, p := range buffered {
		if !p.retract && matchesBound(p.tuple, bound) {
			out = append(out, p.tuple)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return ir.CompareTuples(out[i], out[j]) < 0
	})
	return out, nil
}

func matchesBound(t ir.Tuple, bound map[int]ir.Value) bool {
	for i, v := range bound {
		if i >= len(t) || !ir.Equal(t[i], v) {
			return false
		}
	}
	return true
}

// Commit applies every buffered write at one new epoch and returns it.
// A transaction with no writes commits nothing and returns its snapshot
// epoch. The transaction is closed afterwards, whether or not it succeeded.
func (t *Txn) Commit(ctx context.Context) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, ErrClosed
	}
	t.closed = true
	defer t.snap.Release()

	if len(t.writes) == 0 {
		slog.Debug("transaction committed empty", "txn", t.id, "epoch", t.snap.Epoch())
		return t.snap.Epoch(), nil
	}

	epoch, err := t.manager.store.Commit(ctx, store.Batch{
		BaseEpoch: t.snap.Epoch(),
		Writes:    t.writes,
	})
	if err != nil {
		slog.Debug("transaction failed",
			"txn", t.id,
			"base_epoch", t.snap.Epoch(),
			"writes", len(t.writes),
			"error", err,
		)
		return 0, err
	}

	slog.Debug("transaction committed",
		"txn", t.id,
		"base_epoch", t.snap.Epoch(),
		"epoch", epoch,
		"writes", len(t.writes),
	)
	return epoch, nil
}

// Rollback discards buffered writes and releases the snapshot. Rolling back
// a closed transaction is a no-op.
func (t *Txn) Rollback() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	t.writes = nil
	t.overlay = nil
	t.snap.Release()
	slog.Debug("transaction rolled back", "txn", t.id)
}
