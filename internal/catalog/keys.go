package catalog

import (
	"sync"

	"github.com/google/uuid"
)

// KeyGenerator produces keys for documents added without one.
type KeyGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 keys, so documents added
// without a key enumerate in creation order.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
//
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// SequenceGenerator returns predetermined keys in order, for tests.
// It panics once the keys are exhausted.
type SequenceGenerator struct {
	mu   sync.Mutex
	keys []string
	idx  int
}

// NewSequenceGenerator creates a generator that returns keys in order.
func NewSequenceGenerator(keys ...string) *SequenceGenerator {
	return &SequenceGenerator{keys: keys}
}

// Generate returns the next predetermined key.
func (g *SequenceGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.keys) {
		panic("SequenceGenerator: all keys exhausted")
	}
	key := g.keys[g.idx]
	g.idx++
	return key
}
