package store

import (
	"context"
	"database/sql"
	"fmt"
	"math"

	"github.com/roach88/deduce/internal/ir"
)

// Write is one change to a stored relation. A put carries the full tuple
// (keys then values); a retraction needs only the key prefix.
type Write struct {
	Relation string
	Tuple    ir.Tuple
	Retract  bool
}

// Batch is a set of writes committed atomically at one epoch.
//
// BaseEpoch is the snapshot the writes were computed against. Unless Blind
// is set, a key written by another commit after BaseEpoch, or a relation
// dropped, re-created or restored after it, fails the whole batch with a
// ConflictError.
type Batch struct {
	BaseEpoch int64
	Writes    []Write
	Blind     bool
}

// preparedWrite is a write resolved against the live catalog.
type preparedWrite struct {
	entry   *relationEntry
	key     ir.Tuple
	tuple   ir.Tuple // full stored tuple; values are null for retractions
	retract bool
}

// Commit applies a batch at the next epoch and returns that epoch.
//
// All conflict checks run before any row is written so a batch that writes
// one key twice does not conflict with itself; the later write wins.
// An empty batch commits nothing and returns the current epoch.
func (s *Store) Commit(ctx context.Context, b Batch) (int64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	current := s.clock.Current()
	if len(b.Writes) == 0 {
		return current, nil
	}

	prepared, err := s.prepareWrites(b.Writes, current)
	if err != nil {
		return 0, err
	}
	next := current + 1

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, ir.NewIOError(ir.CodeStorage, "begin commit", err)
	}
	defer tx.Rollback()

	if !b.Blind {
		if err := s.checkIncarnations(prepared, b.BaseEpoch); err != nil {
			return 0, err
		}
		for _, w := range prepared {
			if err := s.checkConflict(ctx, tx, w, b.BaseEpoch); err != nil {
				return 0, err
			}
		}
	}

	for _, w := range prepared {
		if err := s.writeVersion(ctx, tx, w, next); err != nil {
			return 0, err
		}
	}

	if err := writeMeta(ctx, tx, "epoch", next); err != nil {
		return 0, ir.NewIOError(ir.CodeStorage, "advance epoch", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, ir.NewIOError(ir.CodeStorage, "commit writes", err)
	}

	s.clock.publish(next)
	return next, nil
}

// Put writes tuples to one relation without conflict detection.
func (s *Store) Put(ctx context.Context, relation string, tuples ...ir.Tuple) (int64, error) {
	writes := make([]Write, len(tuples))
	for i, t := range tuples {
		writes[i] = Write{Relation: relation, Tuple: t}
	}
	return s.Commit(ctx, Batch{Writes: writes, Blind: true})
}

// Retract removes keys from one relation without conflict detection.
func (s *Store) Retract(ctx context.Context, relation string, keys ...ir.Tuple) (int64, error) {
	writes := make([]Write, len(keys))
	for i, k := range keys {
		writes[i] = Write{Relation: relation, Tuple: k, Retract: true}
	}
	return s.Commit(ctx, Batch{Writes: writes, Blind: true})
}

func (s *Store) prepareWrites(writes []Write, epoch int64) ([]preparedWrite, error) {
	out := make([]preparedWrite, 0, len(writes))
	for _, w := range writes {
		entry, err := s.relationAt(w.Relation, epoch)
		if err != nil {
			return nil, err
		}
		schema := entry.schema
		nkeys := len(schema.Keys)

		if w.Retract {
			if len(w.Tuple) != nkeys && len(w.Tuple) != schema.Arity() {
				return nil, ir.NewSchemaError(ir.CodeArityMismatch,
					fmt.Sprintf("retraction has %d values, relation has %d key columns", len(w.Tuple), nkeys)).WithRelation(schema.Name)
			}
			key, err := schema.CoerceKey(w.Tuple[:nkeys])
			if err != nil {
				return nil, err
			}
			if err := checkFinite(schema, key); err != nil {
				return nil, err
			}
			tuple := make(ir.Tuple, schema.Arity())
			copy(tuple, key)
			for i := nkeys; i < len(tuple); i++ {
				tuple[i] = ir.Null{}
			}
			out = append(out, preparedWrite{entry: entry, key: key, tuple: tuple, retract: true})
			continue
		}

		tuple, err := schema.Coerce(w.Tuple)
		if err != nil {
			return nil, err
		}
		if err := checkFinite(schema, tuple); err != nil {
			return nil, err
		}
		out = append(out, preparedWrite{entry: entry, key: tuple[:nkeys], tuple: tuple})
	}
	return out, nil
}

// checkFinite rejects NaN and infinities, which SQLite cannot round-trip.
func checkFinite(schema ir.RelationSchema, t ir.Tuple) error {
	cols := schema.Columns()
	for i, v := range t {
		if f, ok := v.(ir.Float); ok && (math.IsNaN(float64(f)) || math.IsInf(float64(f), 0)) {
			return ir.NewSchemaError(ir.CodeTypeMismatch,
				fmt.Sprintf("column %q: non-finite float %s", cols[i].Name, f)).WithRelation(schema.Name)
		}
	}
	return nil
}

// checkIncarnations fails when a written relation is not the incarnation
// that was visible at base.
func (s *Store) checkIncarnations(prepared []preparedWrite, base int64) error {
	checked := make(map[int64]bool)
	for _, w := range prepared {
		if checked[w.entry.id] {
			continue
		}
		checked[w.entry.id] = true
		seen, err := s.relationAt(w.entry.schema.Name, base)
		if err != nil || seen.id != w.entry.id {
			return ir.NewRelationReplacedError(w.entry.schema.Name, base)
		}
	}
	return nil
}

func (s *Store) checkConflict(ctx context.Context, tx *sql.Tx, w preparedWrite, base int64) error {
	params, err := tupleParams(w.key)
	if err != nil {
		return ir.NewIOError(ir.CodeStorage, "encode key", err)
	}
	params = append(params, base)

	var committed sql.NullInt64
	err = tx.QueryRowContext(ctx, s.compiler.CompileConflictCheck(w.entry.table), params...).Scan(&committed)
	if err != nil {
		return ir.NewIOError(ir.CodeStorage, "check write conflict", err)
	}
	if committed.Valid {
		return ir.NewConflictError(w.entry.schema.Name, w.key, base, committed.Int64)
	}
	return nil
}

func (s *Store) writeVersion(ctx context.Context, tx *sql.Tx, w preparedWrite, epoch int64) error {
	params, err := tupleParams(w.tuple)
	if err != nil {
		return ir.NewIOError(ir.CodeStorage, "encode tuple", err)
	}
	tombstone := 0
	if w.retract {
		tombstone = 1
	}
	params = append(params, epoch, tombstone)
	if _, err := tx.ExecContext(ctx, s.compiler.CompileUpsert(w.entry.table), params...); err != nil {
		return ir.NewIOError(ir.CodeStorage, "write version", err).WithRelation(w.entry.schema.Name)
	}
	return nil
}
