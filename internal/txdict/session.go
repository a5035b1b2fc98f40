package txdict

import (
	"context"
	"fmt"
	"sync"
)

// SessionState is the lifecycle state of a WriteSession.
type SessionState int

const (
	StateOpen SessionState = iota
	StateFlushing
	StateCommitted
	StateRolledBack
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateFlushing:
		return "flushing"
	case StateCommitted:
		return "committed"
	case StateRolledBack:
		return "rolled_back"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// WriteSession queues mutation intents and flushes them as one atomic batch.
//
// Queuing never touches the store. Reads through the session see the queued
// intents folded over committed state. A WriteSession is not meant to be
// shared between goroutines; its mutex only keeps misuse from corrupting
// the queue.
type WriteSession struct {
	mu      sync.Mutex
	db      *Database
	ctx     context.Context
	state   SessionState
	pending []queued
	byKey   map[trackKey][]int
}

// BeginWrite opens a WriteSession. ctx is used for the session's store
// reads and its flushes; cancelling it does not abort a running flush.
func (db *Database) BeginWrite(ctx context.Context) *WriteSession {
	return &WriteSession{
		db:    db,
		ctx:   ctx,
		byKey: make(map[trackKey][]int),
	}
}

// State returns the current lifecycle state.
func (ws *WriteSession) State() SessionState {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.state
}

// Len returns the number of queued intents.
func (ws *WriteSession) Len() int {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return len(ws.pending)
}

func (ws *WriteSession) usable() error {
	switch ws.state {
	case StateClosed:
		return newError(ErrCodeSessionClosed, "", "", "write session is closed")
	case StateRolledBack:
		return newError(ErrCodeRolledBack, "", "", "write session was rolled back")
	}
	return ws.db.checkOpen()
}

func (ws *WriteSession) enqueue(q queued) error {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if err := ws.usable(); err != nil {
		return err
	}
	k := trackKey{q.dictName(), q.encodedKey()}
	ws.byKey[k] = append(ws.byKey[k], len(ws.pending))
	ws.pending = append(ws.pending, q)
	ws.state = StateOpen
	return nil
}

// intentsFor returns the intents queued for one key, in order.
func (ws *WriteSession) intentsFor(dict, ek string) ([]queued, error) {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if err := ws.usable(); err != nil {
		return nil, err
	}
	idx := ws.byKey[trackKey{dict, ek}]
	out := make([]queued, len(idx))
	for i, n := range idx {
		out[i] = ws.pending[n]
	}
	return out, nil
}

// keysFor returns, per key of dict with queued intents, those intents.
func (ws *WriteSession) keysFor(dict string) (map[string][]queued, error) {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if err := ws.usable(); err != nil {
		return nil, err
	}
	out := make(map[string][]queued)
	for k, idx := range ws.byKey {
		if k.table != dict {
			continue
		}
		for _, n := range idx {
			out[k.key] = append(out[k.key], ws.pending[n])
		}
	}
	return out, nil
}

// Flush applies every queued intent in one store transaction and returns one
// result per intent, in enqueue order. On failure nothing is applied, the
// error is returned and the session moves to StateRolledBack.
// Flushing an empty queue is a no-op.
func (ws *WriteSession) Flush() ([]Result, error) {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if err := ws.usable(); err != nil {
		return nil, err
	}
	return ws.flushLocked()
}

func (ws *WriteSession) flushLocked() ([]Result, error) {
	if len(ws.pending) == 0 {
		return []Result{}, nil
	}

	batch := ws.pending
	ws.pending = nil
	clear(ws.byKey)
	ws.state = StateFlushing

	results, err := ws.db.flush(ws.ctx, batch)
	if err != nil {
		ws.state = StateRolledBack
		return nil, err
	}
	ws.state = StateCommitted
	return results, nil
}

// Close flushes pending intents, if any, and closes the session. It is
// idempotent; closing a rolled-back session just releases it.
func (ws *WriteSession) Close() error {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	var err error
	switch ws.state {
	case StateClosed:
		return nil
	case StateRolledBack:
	default:
		_, err = ws.flushLocked()
	}
	ws.state = StateClosed
	ws.pending = nil
	clear(ws.byKey)
	return err
}

// Discard drops pending intents without flushing and closes the session.
func (ws *WriteSession) Discard() {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	ws.state = StateClosed
	ws.pending = nil
	clear(ws.byKey)
}

// Write runs fn with a new WriteSession and closes it, flushing on success
// and discarding on error.
func (db *Database) Write(ctx context.Context, fn func(ws *WriteSession) error) ([]Result, error) {
	ws := db.BeginWrite(ctx)
	if err := fn(ws); err != nil {
		ws.Discard()
		return nil, err
	}
	results, err := ws.Flush()
	if cerr := ws.Close(); err == nil && cerr != nil {
		err = cerr
	}
	return results, err
}
