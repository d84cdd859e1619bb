package store

import (
	"context"
	"log/slog"

	"github.com/roach88/deduce/internal/ir"
)

// CompactStats reports what one compaction removed.
type CompactStats struct {
	Horizon           int64 `json:"horizon"`
	VersionsRemoved   int64 `json:"versions_removed"`
	TombstonesRemoved int64 `json:"tombstones_removed"`
	RelationsDropped  int   `json:"relations_dropped"`
}

// Horizon returns the oldest epoch a reader may still observe: the oldest
// open snapshot, or the current epoch when none is open.
func (s *Store) Horizon() int64 {
	if oldest, ok := s.snapshots.oldest(); ok {
		return oldest
	}
	return s.clock.Current()
}

// Compact discards versions no open or future snapshot can observe.
//
// For every key, versions hidden at the horizon by a newer version at or
// below it are deleted, then tombstones at or below the horizon. Tables of
// relations dropped at or below the horizon are removed. Reads at any epoch
// at or above the horizon return the same rows before and after. Compaction
// does not advance the epoch.
func (s *Store) Compact(ctx context.Context) (CompactStats, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	stats := CompactStats{Horizon: s.Horizon()}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return stats, ir.NewIOError(ir.CodeCompact, "begin compaction", err)
	}
	defer tx.Rollback()

	var dropped []*relationEntry
	for _, e := range s.allEntries() {
		if e.dropped != 0 && e.dropped <= stats.Horizon {
			if _, err := tx.ExecContext(ctx, s.compiler.CompileDropTable(e.table)); err != nil {
				return stats, ir.NewIOError(ir.CodeCompact, "drop relation table", err).WithRelation(e.schema.Name)
			}
			if _, err := tx.ExecContext(ctx, "DELETE FROM relations WHERE id = ?", e.id); err != nil {
				return stats, ir.NewIOError(ir.CodeCompact, "delete catalog row", err).WithRelation(e.schema.Name)
			}
			dropped = append(dropped, e)
			continue
		}

		res, err := tx.ExecContext(ctx, s.compiler.CompilePurgeSuperseded(e.table), stats.Horizon, stats.Horizon)
		if err != nil {
			return stats, ir.NewIOError(ir.CodeCompact, "purge superseded versions", err).WithRelation(e.schema.Name)
		}
		n, _ := res.RowsAffected()
		stats.VersionsRemoved += n

		res, err = tx.ExecContext(ctx, s.compiler.CompilePurgeTombstones(e.table), stats.Horizon)
		if err != nil {
			return stats, ir.NewIOError(ir.CodeCompact, "purge tombstones", err).WithRelation(e.schema.Name)
		}
		n, _ = res.RowsAffected()
		stats.TombstonesRemoved += n
	}

	if err := tx.Commit(); err != nil {
		return stats, ir.NewIOError(ir.CodeCompact, "commit compaction", err)
	}
	for _, e := range dropped {
		s.removeEntry(e)
	}
	stats.RelationsDropped = len(dropped)

	if !isMemory(s.path) {
		if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(PASSIVE)"); err != nil {
			slog.Warn("wal checkpoint after compaction failed", "error", err)
		}
	}

	slog.Debug("compaction finished",
		"horizon", stats.Horizon,
		"versions_removed", stats.VersionsRemoved,
		"tombstones_removed", stats.TombstonesRemoved,
		"relations_dropped", stats.RelationsDropped,
	)
	return stats, nil
}
