package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// compactor runs DB.Compact on a ticker until stopped.
type compactor struct {
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func startCompactor(db *DB, interval time.Duration) *compactor {
	ctx, cancel := context.WithCancel(context.Background())
	c := &compactor{cancel: cancel}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats, err := db.Compact(ctx)
				if err != nil {
					if ctx.Err() == nil {
						slog.Warn("background compaction failed", "error", err)
					}
					continue
				}
				slog.Debug("background compaction",
					"horizon", stats.Horizon,
					"versions", stats.VersionsRemoved,
					"tombstones", stats.TombstonesRemoved,
				)
			}
		}
	}()
	return c
}

// stop cancels the loop and waits for an in-flight compaction to finish.
func (c *compactor) stop() {
	c.cancel()
	c.wg.Wait()
}
