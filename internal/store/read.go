package store

import (
	"context"
	"fmt"
	"math"

	"github.com/roach88/deduce/internal/ir"
	"github.com/roach88/deduce/internal/queryir"
)

// KeyRange selects rows by key. Prefix fixes the leading key columns; Lower
// and Upper bound the key column right after the prefix. Nil bounds are open.
type KeyRange struct {
	Prefix         ir.Tuple
	Lower          ir.Value
	Upper          ir.Value
	LowerInclusive bool
	UpperInclusive bool
	Limit          int
}

// Version is one stored version of a key, as returned by History.
type Version struct {
	Tuple     ir.Tuple
	Epoch     int64
	Tombstone bool
}

// Get returns the row with the given key as visible at epoch.
func (s *Store) Get(ctx context.Context, relation string, key ir.Tuple, epoch int64) (ir.Tuple, bool, error) {
	entry, err := s.relationAt(relation, epoch)
	if err != nil {
		return nil, false, err
	}
	key, err = entry.schema.CoerceKey(key)
	if err != nil {
		return nil, false, err
	}
	rows, err := s.Scan(ctx, relation, epoch, KeyRange{Prefix: key})
	if err != nil {
		return nil, false, err
	}
	if len(rows) == 0 {
		return nil, false, nil
	}
	return rows[0], true, nil
}

// ScanAll returns every row of relation visible at epoch, ordered by key.
func (s *Store) ScanAll(ctx context.Context, relation string, epoch int64) ([]ir.Tuple, error) {
	return s.Scan(ctx, relation, epoch, KeyRange{})
}

// Scan returns the rows of relation visible at epoch within r, ordered by
// key.
func (s *Store) Scan(ctx context.Context, relation string, epoch int64, r KeyRange) ([]ir.Tuple, error) {
	entry, err := s.relationAt(relation, epoch)
	if err != nil {
		return nil, err
	}
	nkeys := len(entry.schema.Keys)
	if len(r.Prefix) > nkeys || (len(r.Prefix) == nkeys && (r.Lower != nil || r.Upper != nil)) {
		return nil, ir.NewSchemaError(ir.CodeArityMismatch,
			fmt.Sprintf("key range has %d prefix columns, relation has %d keys", len(r.Prefix), nkeys)).WithRelation(entry.schema.Name)
	}

	var preds []queryir.Predicate
	for i, v := range r.Prefix {
		preds = append(preds, queryir.Equals{Column: entry.table.KeyColumns[i], Value: v})
	}
	if r.Lower != nil || r.Upper != nil {
		preds = append(preds, queryir.Range{
			Column:         entry.table.KeyColumns[len(r.Prefix)],
			Lower:          r.Lower,
			Upper:          r.Upper,
			LowerInclusive: r.LowerInclusive,
			UpperInclusive: r.UpperInclusive,
		})
	}

	return s.selectRows(ctx, queryir.Select{
		Table:  entry.table,
		Filter: queryir.Conjoin(preds...),
		AsOf:   epoch,
		Limit:  r.Limit,
	})
}

// Lookup returns the rows visible at epoch whose columns equal the bound
// values, keyed by tuple position. A bound value that cannot occur in its
// column (wrong type, null in a non-nullable column) matches nothing.
func (s *Store) Lookup(ctx context.Context, relation string, epoch int64, bound map[int]ir.Value) ([]ir.Tuple, error) {
	entry, err := s.relationAt(relation, epoch)
	if err != nil {
		return nil, err
	}
	cols := entry.table.Columns()
	for i := range bound {
		if i < 0 || i >= len(cols) {
			return nil, ir.NewSchemaError(ir.CodeColumnNotFound, fmt.Sprintf("column position %d out of range", i)).WithRelation(entry.schema.Name)
		}
	}

	var preds []queryir.Predicate
	for i := 0; i < len(cols); i++ {
		v, ok := bound[i]
		if !ok {
			continue
		}
		stored, ok := matchable(v, entry.table.Types[i])
		if !ok {
			return nil, nil
		}
		preds = append(preds, queryir.Equals{Column: cols[i], Value: stored})
	}

	return s.selectRows(ctx, queryir.Select{
		Table:  entry.table,
		Filter: queryir.Conjoin(preds...),
		AsOf:   epoch,
	})
}

// matchable converts v to the stored form of a column so that values equal
// under the total order compare equal in SQL. Int 1 and Float 1.0 are equal,
// so an integral Float may probe an Int column.
func matchable(v ir.Value, t ir.ColumnType) (ir.Value, bool) {
	if ir.IsNull(v) {
		return ir.Null{}, t.Nullable
	}
	if f, ok := v.(ir.Float); ok && t.Base == ir.TypeInt {
		x := float64(f)
		if math.Trunc(x) != x || math.Abs(x) > 1<<62 {
			return nil, false
		}
		return ir.Int(int64(x)), true
	}
	if f, ok := v.(ir.Float); ok && math.IsNaN(float64(f)) {
		return nil, false
	}
	stored, err := t.Coerce(v)
	if err != nil {
		return nil, false
	}
	return stored, true
}

// History returns every stored version of relation written after epoch
// after, including superseded versions and tombstones. It reads the
// incarnation that is live now.
func (s *Store) History(ctx context.Context, relation string, after int64) ([]Version, error) {
	entry, err := s.relationAt(relation, s.clock.Current())
	if err != nil {
		return nil, err
	}
	query, params, err := s.compiler.Compile(queryir.History{Table: entry.table, After: after})
	if err != nil {
		return nil, fmt.Errorf("compile history: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, ir.NewIOError(ir.CodeStorage, "query history", err).WithRelation(entry.schema.Name)
	}
	defer rows.Close()

	n := len(entry.table.Types)
	var out []Version
	for rows.Next() {
		raw := make([]any, n+2)
		ptrs := make([]any, n+2)
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, ir.NewIOError(ir.CodeStorage, "scan history", err)
		}
		tuple, err := scanTuple(raw[:n], entry.table.Types)
		if err != nil {
			return nil, ir.NewIOError(ir.CodeStorage, "decode history", err)
		}
		epoch, _ := raw[n].(int64)
		tomb, _ := raw[n+1].(int64)
		out = append(out, Version{Tuple: tuple, Epoch: epoch, Tombstone: tomb != 0})
	}
	if err := rows.Err(); err != nil {
		return nil, ir.NewIOError(ir.CodeStorage, "iterate history", err)
	}
	return out, nil
}

func (s *Store) selectRows(ctx context.Context, q queryir.Select) ([]ir.Tuple, error) {
	query, params, err := s.compiler.Compile(q)
	if err != nil {
		return nil, fmt.Errorf("compile select: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, ir.NewIOError(ir.CodeStorage, "query relation", err)
	}
	defer rows.Close()

	n := len(q.Table.Types)
	out := []ir.Tuple{}
	raw := make([]any, n)
	ptrs := make([]any, n)
	for i := range raw {
		ptrs[i] = &raw[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, ir.NewIOError(ir.CodeStorage, "scan row", err)
		}
		t, err := scanTuple(raw, q.Table.Types)
		if err != nil {
			return nil, ir.NewIOError(ir.CodeStorage, "decode row", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, ir.NewIOError(ir.CodeStorage, "iterate rows", err)
	}
	return out, nil
}
