package store

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/roach88/deduce/internal/ir"
)

// RelationStats describes the storage footprint of one live relation.
type RelationStats struct {
	Name     string `json:"name"`
	Rows     int    `json:"rows"`
	Versions int64  `json:"versions"`
}

// Backup writes a consistent copy of the database to dest. The copy is
// taken inside one read transaction, so concurrent commits are either fully
// in it or fully absent. dest must not exist.
func (s *Store) Backup(ctx context.Context, dest string) error {
	if _, err := os.Stat(dest); err == nil {
		return ir.NewIOError(ir.CodeBackup, fmt.Sprintf("backup target %s already exists", dest), os.ErrExist)
	} else if !errors.Is(err, os.ErrNotExist) {
		return ir.NewIOError(ir.CodeBackup, "stat backup target", err)
	}
	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", dest); err != nil {
		return ir.NewIOError(ir.CodeBackup, "write backup", err)
	}
	return nil
}

// Restore replaces every live relation with the contents of the backup at
// src. The replacement is one commit: snapshots older than it keep seeing
// the previous relations, and compaction reclaims them later.
// Returns the epoch of the restore.
func (s *Store) Restore(ctx context.Context, src string) (int64, error) {
	if _, err := os.Stat(src); err != nil {
		return 0, ir.NewIOError(ir.CodeRestore, "open backup", err)
	}
	backup, err := Open(src, withReadOnly())
	if err != nil {
		return 0, ir.NewIOError(ir.CodeRestore, "open backup", err)
	}
	defer backup.Close()

	type image struct {
		schema ir.RelationSchema
		rows   []ir.Tuple
	}
	srcEpoch := backup.Epoch()
	var images []image
	for _, schema := range backup.Relations(srcEpoch) {
		rows, err := backup.ScanAll(ctx, schema.Name, srcEpoch)
		if err != nil {
			return 0, ir.NewIOError(ir.CodeRestore, "read backup relation", err).WithRelation(schema.Name)
		}
		images = append(images, image{schema: schema, rows: rows})
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	next := s.clock.Current() + 1
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, ir.NewIOError(ir.CodeRestore, "begin restore", err)
	}
	defer tx.Rollback()

	live := s.liveEntries()
	for _, e := range live {
		if _, err := tx.ExecContext(ctx, "UPDATE relations SET dropped_epoch = ? WHERE id = ?", next, e.id); err != nil {
			return 0, ir.NewIOError(ir.CodeRestore, "retire relation", err).WithRelation(e.schema.Name)
		}
	}

	created := make([]*relationEntry, 0, len(images))
	for _, img := range images {
		entry, err := s.createInTx(ctx, tx, img.schema, next)
		if err != nil {
			return 0, ir.NewIOError(ir.CodeRestore, "create relation", err).WithRelation(img.schema.Name)
		}
		for _, row := range img.rows {
			w := preparedWrite{entry: entry, key: row[:len(img.schema.Keys)], tuple: row}
			if err := s.writeVersion(ctx, tx, w, next); err != nil {
				return 0, ir.NewIOError(ir.CodeRestore, "copy row", err).WithRelation(img.schema.Name)
			}
		}
		created = append(created, entry)
	}

	if err := s.finishDDL(ctx, tx, next); err != nil {
		return 0, ir.NewIOError(ir.CodeRestore, "commit restore", err)
	}

	s.catMu.Lock()
	for _, e := range live {
		e.dropped = next
	}
	s.catMu.Unlock()
	s.addEntries(created...)
	s.clock.publish(next)
	s.catEpoch.publish(next)
	return next, nil
}

// Digest returns a content digest of every relation visible at epoch:
// schemas and rows, independent of epochs and physical layout. Two stores
// with equal digests answer every query identically.
func (s *Store) Digest(ctx context.Context, epoch int64) (string, error) {
	hashes := make(map[string]string)
	for _, schema := range s.Relations(epoch) {
		rows, err := s.ScanAll(ctx, schema.Name, epoch)
		if err != nil {
			return "", err
		}
		h, err := ir.RelationHash(schema, rows)
		if err != nil {
			return "", err
		}
		hashes[schema.Name] = h
	}
	return ir.DatabaseHash(hashes)
}

// Stats reports row and version counts for every live relation.
func (s *Store) Stats(ctx context.Context) ([]RelationStats, error) {
	epoch := s.clock.Current()
	var out []RelationStats
	for _, e := range s.liveEntries() {
		rows, err := s.ScanAll(ctx, e.schema.Name, epoch)
		if err != nil {
			return nil, err
		}
		var versions int64
		if err := s.db.QueryRowContext(ctx, s.compiler.CompileCountVersions(e.table)).Scan(&versions); err != nil {
			return nil, ir.NewIOError(ir.CodeStorage, "count versions", err).WithRelation(e.schema.Name)
		}
		out = append(out, RelationStats{Name: e.schema.Name, Rows: len(rows), Versions: versions})
	}
	return out, nil
}
