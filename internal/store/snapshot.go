package store

import (
	"sync"
)

// snapshotRegistry counts open snapshots per epoch so compaction knows the
// oldest epoch a reader may still observe.
type snapshotRegistry struct {
	mu     sync.Mutex
	counts map[int64]int
}

func newSnapshotRegistry() *snapshotRegistry {
	return &snapshotRegistry{counts: make(map[int64]int)}
}

func (r *snapshotRegistry) acquire(epoch int64) {
	r.mu.Lock()
	r.counts[epoch]++
	r.mu.Unlock()
}

func (r *snapshotRegistry) release(epoch int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counts[epoch] <= 1 {
		delete(r.counts, epoch)
		return
	}
	r.counts[epoch]--
}

// oldest returns the smallest registered epoch, or ok=false if none.
func (r *snapshotRegistry) oldest() (int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var (
		min   int64
		found bool
	)
	for epoch := range r.counts {
		if !found || epoch < min {
			min = epoch
			found = true
		}
	}
	return min, found
}

func (r *snapshotRegistry) active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.counts {
		n += c
	}
	return n
}

// Snapshot pins an epoch. Versions visible at a pinned epoch survive
// compaction until the snapshot is released.
type Snapshot struct {
	epoch    int64
	once     sync.Once
	registry *snapshotRegistry
}

// Epoch returns the pinned epoch.
func (s *Snapshot) Epoch() int64 {
	return s.epoch
}

// Release unpins the epoch. Safe to call more than once.
func (s *Snapshot) Release() {
	s.once.Do(func() { s.registry.release(s.epoch) })
}

// Snapshot pins the current epoch. The caller must Release it.
//
// The registry lock is taken before reading the clock so a concurrent
// compaction either sees this snapshot or ran entirely before it.
func (s *Store) Snapshot() *Snapshot {
	s.snapshots.mu.Lock()
	epoch := s.clock.Current()
	s.snapshots.counts[epoch]++
	s.snapshots.mu.Unlock()
	return &Snapshot{epoch: epoch, registry: s.snapshots}
}

// SnapshotAt pins an explicit epoch not greater than the current one.
// Compaction may already have purged versions older than the horizon, so
// callers should only pin epochs they obtained from a live snapshot.
func (s *Store) SnapshotAt(epoch int64) *Snapshot {
	if current := s.clock.Current(); epoch > current {
		epoch = current
	}
	s.snapshots.acquire(epoch)
	return &Snapshot{epoch: epoch, registry: s.snapshots}
}

// ActiveSnapshots returns the number of unreleased snapshots.
func (s *Store) ActiveSnapshots() int {
	return s.snapshots.active()
}
