// Package store provides SQLite-backed multi-version storage for stored
// relations.
//
// Every relation lives in its own table. A row in that table is one version
// of one key: the tuple, the epoch of the commit that wrote it, and a
// tombstone flag for retractions. Nothing is updated in place.
//
// # Critical Patterns
//
// Snapshot reads
//   - A read at epoch E sees, per key, the version with the greatest
//     epoch <= E, unless that version is a tombstone
//   - Readers never block writers and never take the write lock
//
// Serialized commits
//   - Commits, schema changes, compaction and restore hold one write lock
//   - The epoch advances by one per non-empty commit and is published only
//     after the SQLite transaction commits
//
// Optimistic conflicts
//   - A batch carries the epoch it was computed against
//   - If any written key has a version newer than that epoch the batch
//     fails with a ConflictError and writes nothing
//
// Versioned catalog
//   - Relation create and drop are stamped with epochs, so an old snapshot
//     resolves relation names the way they were at its epoch
//
// Deterministic results
//   - Every row-returning query orders by key columns
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
