package testutil

import (
	"fmt"
	"sync"
)

// SequentialIDGenerator generates prefix-000001, prefix-000002, ...
//
// Unlike engine.FixedGenerator it never runs out, and ids sort in creation
// order, which keeps ORDER BY ..., id tie-breaks reproducible.
//
// Thread-safety: SequentialIDGenerator is safe for concurrent use.
type SequentialIDGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequentialIDGenerator creates a generator for the given prefix.
// If prefix is empty, "id" is used.
func NewSequentialIDGenerator(prefix string) *SequentialIDGenerator {
	if prefix == "" {
		prefix = "id"
	}
	return &SequentialIDGenerator{prefix: prefix}
}

// Generate returns the next id.
//
// Implements engine.IDGenerator.
func (g *SequentialIDGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%06d", g.prefix, g.n)
}
