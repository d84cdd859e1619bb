// Package testutil holds deterministic helpers for tests: id generators
// with reproducible output and a throwaway database.
package testutil

import (
	"fmt"
	"sync"
)

// SequenceGenerator returns ids prefix-1, prefix-2, ... in call order.
//
// Unlike txn.UUIDv7Generator, SequenceGenerator can be reset, so the same
// scenario run twice logs identical ids.
//
// Thread-safety: all methods are safe for concurrent use.
type SequenceGenerator struct {
	prefix string

	mu  sync.Mutex
	seq int64
}

// NewSequenceGenerator creates a generator. An empty prefix means "id".
func NewSequenceGenerator(prefix string) *SequenceGenerator {
	if prefix == "" {
		prefix = "id"
	}
	return &SequenceGenerator{prefix: prefix}
}

// Generate returns the next id.
func (g *SequenceGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	return fmt.Sprintf("%s-%d", g.prefix, g.seq)
}

// Count returns how many ids have been generated since the last Reset.
func (g *SequenceGenerator) Count() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.seq
}

// Reset restarts the sequence. The next id ends in 1.
func (g *SequenceGenerator) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq = 0
}

// FixedGenerator returns the same id every time.
//
// Thread-safety: FixedGenerator is immutable and safe for concurrent use.
type FixedGenerator struct {
	id string
}

// NewFixedGenerator creates a generator for id. An empty id means
// "test-id-default".
func NewFixedGenerator(id string) *FixedGenerator {
	if id == "" {
		id = "test-id-default"
	}
	return &FixedGenerator{id: id}
}

// Generate returns the fixed id.
func (g *FixedGenerator) Generate() string {
	return g.id
}
