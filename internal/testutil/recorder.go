package testutil

import (
	"sync"

	"github.com/roach88/txdict/internal/txdict"
)

// Recorder collects delivered change batches. Its Receive method is a
// txdict.Subscriber and may be called from delivery goroutines.
type Recorder struct {
	mu      sync.Mutex
	batches []txdict.Batch
}

// Receive records b.
func (r *Recorder) Receive(b txdict.Batch) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, b)
}

// Batches returns a copy of the recorded batches in delivery order.
func (r *Recorder) Batches() []txdict.Batch {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]txdict.Batch{}, r.batches...)
}

// Changes returns every recorded change in delivery order.
func (r *Recorder) Changes() []txdict.Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []txdict.Change{}
	for _, b := range r.batches {
		out = append(out, b.Changes...)
	}
	return out
}

// Drain returns the recorded batches and forgets them.
func (r *Recorder) Drain() []txdict.Batch {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.batches
	r.batches = nil
	return out
}
