package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/roach88/deduce/internal/ir"
	"github.com/roach88/deduce/internal/queryir"
)

// relationEntry is one incarnation of a relation name. A name may be
// dropped and created again; each incarnation gets its own table.
type relationEntry struct {
	id      int64
	schema  ir.RelationSchema
	table   queryir.Table
	created int64
	dropped int64 // 0 while live
}

// visibleAt reports whether the incarnation exists at epoch.
func (e *relationEntry) visibleAt(epoch int64) bool {
	return e.created <= epoch && (e.dropped == 0 || e.dropped > epoch)
}

// tableFor derives the physical layout of a relation table. Columns are
// positional (k0.., v0..) so relation column names never reach SQL.
func tableFor(id int64, schema ir.RelationSchema) queryir.Table {
	t := queryir.Table{Name: fmt.Sprintf("rel_%d", id)}
	for i, c := range schema.Keys {
		t.KeyColumns = append(t.KeyColumns, fmt.Sprintf("k%d", i))
		t.Types = append(t.Types, c.Type)
	}
	for i, c := range schema.Values {
		t.ValueColumns = append(t.ValueColumns, fmt.Sprintf("v%d", i))
		t.Types = append(t.Types, c.Type)
	}
	return t
}

// loadCatalog reads every incarnation into memory.
func (s *Store) loadCatalog(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, schema, created_epoch, dropped_epoch
		FROM relations
		ORDER BY created_epoch ASC, id ASC
	`)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	defer rows.Close()

	catalog := make(map[string][]*relationEntry)
	byID := make(map[int64]*relationEntry)
	for rows.Next() {
		var (
			id         int64
			schemaJSON string
			created    int64
			dropped    sql.NullInt64
		)
		if err := rows.Scan(&id, &schemaJSON, &created, &dropped); err != nil {
			return fmt.Errorf("scan catalog: %w", err)
		}
		schema, err := unmarshalSchema(schemaJSON)
		if err != nil {
			return fmt.Errorf("relation %d: %w", id, err)
		}
		e := &relationEntry{
			id:      id,
			schema:  schema,
			table:   tableFor(id, schema),
			created: created,
			dropped: dropped.Int64,
		}
		catalog[schema.Name] = append(catalog[schema.Name], e)
		byID[id] = e
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate catalog: %w", err)
	}

	s.catMu.Lock()
	s.catalog = catalog
	s.byID = byID
	s.catMu.Unlock()
	return nil
}

// relationAt resolves the incarnation of name visible at epoch.
func (s *Store) relationAt(name string, epoch int64) (*relationEntry, error) {
	name = ir.NormalizeName(name)
	s.catMu.RLock()
	defer s.catMu.RUnlock()
	entries := s.catalog[name]
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].visibleAt(epoch) {
			return entries[i], nil
		}
	}
	return nil, ir.NewSchemaError(ir.CodeRelationNotFound, "relation does not exist").WithRelation(name)
}

// liveEntries returns every incarnation not yet dropped, sorted by name.
func (s *Store) liveEntries() []*relationEntry {
	s.catMu.RLock()
	defer s.catMu.RUnlock()
	var out []*relationEntry
	for _, entries := range s.catalog {
		for _, e := range entries {
			if e.dropped == 0 {
				out = append(out, e)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].schema.Name < out[j].schema.Name })
	return out
}

// allEntries returns every incarnation with a table, including dropped ones
// awaiting compaction.
func (s *Store) allEntries() []*relationEntry {
	s.catMu.RLock()
	defer s.catMu.RUnlock()
	out := make([]*relationEntry, 0, len(s.byID))
	for _, e := range s.byID {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Relation returns the schema of name as visible at epoch.
// Fails with SchemaError if the relation does not exist at that epoch.
func (s *Store) Relation(name string, epoch int64) (ir.RelationSchema, error) {
	e, err := s.relationAt(name, epoch)
	if err != nil {
		return ir.RelationSchema{}, err
	}
	return e.schema, nil
}

// Relations lists every relation visible at epoch, sorted by name.
func (s *Store) Relations(epoch int64) []ir.RelationSchema {
	s.catMu.RLock()
	defer s.catMu.RUnlock()
	var out []ir.RelationSchema
	for _, entries := range s.catalog {
		for _, e := range entries {
			if e.visibleAt(epoch) {
				out = append(out, e.schema)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// CreateRelation creates a relation at the next epoch.
// Fails with SchemaError if the name is live or the schema is invalid.
func (s *Store) CreateRelation(ctx context.Context, schema ir.RelationSchema) (int64, error) {
	schema = schema.Normalize()
	if err := schema.Validate(); err != nil {
		return 0, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	current := s.clock.Current()
	if _, err := s.relationAt(schema.Name, current); err == nil {
		return 0, ir.NewSchemaError(ir.CodeRelationExists, "relation already exists").WithRelation(schema.Name)
	}
	next := current + 1

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, ir.NewIOError(ir.CodeStorage, "begin create relation", err)
	}
	defer tx.Rollback()

	entry, err := s.createInTx(ctx, tx, schema, next)
	if err != nil {
		return 0, err
	}
	if err := s.finishDDL(ctx, tx, next); err != nil {
		return 0, err
	}

	s.addEntries(entry)
	s.clock.publish(next)
	s.catEpoch.publish(next)
	return next, nil
}

// createInTx inserts a catalog row and its table inside tx.
func (s *Store) createInTx(ctx context.Context, tx *sql.Tx, schema ir.RelationSchema, epoch int64) (*relationEntry, error) {
	schemaJSON, err := marshalSchema(schema)
	if err != nil {
		return nil, err
	}
	res, err := tx.ExecContext(ctx,
		"INSERT INTO relations (name, schema, created_epoch) VALUES (?, ?, ?)",
		schema.Name, schemaJSON, epoch)
	if err != nil {
		return nil, ir.NewIOError(ir.CodeStorage, "insert catalog row", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, ir.NewIOError(ir.CodeStorage, "read relation id", err)
	}

	entry := &relationEntry{id: id, schema: schema, table: tableFor(id, schema), created: epoch}
	if _, err := tx.ExecContext(ctx, s.compiler.CompileCreateTable(entry.table)); err != nil {
		return nil, ir.NewIOError(ir.CodeStorage, "create relation table", err)
	}
	return entry, nil
}

// DropRelation drops a live relation at the next epoch. Its table survives
// until compaction proves no snapshot can read it.
func (s *Store) DropRelation(ctx context.Context, name string) (int64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	current := s.clock.Current()
	entry, err := s.relationAt(name, current)
	if err != nil {
		return 0, err
	}
	next := current + 1

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, ir.NewIOError(ir.CodeStorage, "begin drop relation", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "UPDATE relations SET dropped_epoch = ? WHERE id = ?", next, entry.id); err != nil {
		return 0, ir.NewIOError(ir.CodeStorage, "mark relation dropped", err)
	}
	if err := s.finishDDL(ctx, tx, next); err != nil {
		return 0, err
	}

	s.catMu.Lock()
	entry.dropped = next
	s.catMu.Unlock()
	s.clock.publish(next)
	s.catEpoch.publish(next)
	return next, nil
}

// finishDDL stamps both epochs and commits.
func (s *Store) finishDDL(ctx context.Context, tx *sql.Tx, epoch int64) error {
	if err := writeMeta(ctx, tx, "epoch", epoch); err != nil {
		return ir.NewIOError(ir.CodeStorage, "advance epoch", err)
	}
	if err := writeMeta(ctx, tx, "catalog_epoch", epoch); err != nil {
		return ir.NewIOError(ir.CodeStorage, "advance catalog epoch", err)
	}
	if err := tx.Commit(); err != nil {
		return ir.NewIOError(ir.CodeStorage, "commit schema change", err)
	}
	return nil
}

func (s *Store) addEntries(entries ...*relationEntry) {
	s.catMu.Lock()
	defer s.catMu.Unlock()
	for _, e := range entries {
		s.catalog[e.schema.Name] = append(s.catalog[e.schema.Name], e)
		s.byID[e.id] = e
	}
}

func (s *Store) removeEntry(e *relationEntry) {
	s.catMu.Lock()
	defer s.catMu.Unlock()
	delete(s.byID, e.id)
	entries := s.catalog[e.schema.Name]
	for i, cand := range entries {
		if cand == e {
			s.catalog[e.schema.Name] = append(entries[:i:i], entries[i+1:]...)
			break
		}
	}
	if len(s.catalog[e.schema.Name]) == 0 {
		delete(s.catalog, e.schema.Name)
	}
}
