package testutil

import (
	"fmt"
	"sync"
)

// CountingKeys generates deterministic document keys "<prefix>-0001",
// "<prefix>-0002", ... for tests and golden traces.
//
// Unlike catalog.SequenceGenerator, CountingKeys never runs out and can be
// reset, so the same scenario can run repeatedly with identical keys.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type CountingKeys struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewCountingKeys creates a generator whose first key is "<prefix>-0001".
// If prefix is empty, "key" is used.
func NewCountingKeys(prefix string) *CountingKeys {
	if prefix == "" {
		prefix = "key"
	}
	return &CountingKeys{prefix: prefix}
}

// Generate returns the next key.
func (g *CountingKeys) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%04d", g.prefix, g.n)
}

// Issued returns how many keys have been generated since the last Reset.
func (g *CountingKeys) Issued() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.n
}

// Reset restarts numbering. After Reset, the next key is "<prefix>-0001".
func (g *CountingKeys) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n = 0
}
