package txdict

import (
	"bytes"
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/roach88/txdict/internal/store"
)

// entryState is the change-tracking tag of a record touched by a flush.
type entryState int

const (
	stateClean entryState = iota
	stateInserted
	stateUpdated
	stateDeleted
	stateDetached
)

func (s entryState) String() string {
	switch s {
	case stateClean:
		return "clean"
	case stateInserted:
		return "inserted"
	case stateUpdated:
		return "updated"
	case stateDeleted:
		return "deleted"
	case stateDetached:
		return "detached"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type trackKey struct {
	table string
	key   string
}

type trackedRecord struct {
	d        dictCore
	key      string
	state    entryState
	record   any
	original []byte // payload as loaded; nil for inserted records
}

// tracker is the unit of work of one flush. It is the only path through
// which a flush reads and writes records: reads go through find/scan so a
// record loaded twice is the same instance, and writes are buffered as state
// tags until persist.
type tracker struct {
	txn     store.Txn
	entries map[trackKey]*trackedRecord
	order   []*trackedRecord
}

func newTracker(txn store.Txn) *tracker {
	return &tracker{
		txn:     txn,
		entries: make(map[trackKey]*trackedRecord),
	}
}

func (t *tracker) add(d dictCore, key string, state entryState, rec any, original []byte) *trackedRecord {
	e := &trackedRecord{d: d, key: key, state: state, record: rec, original: original}
	t.entries[trackKey{d.Name(), key}] = e
	t.order = append(t.order, e)
	return e
}

func (t *tracker) lookup(d dictCore, key string) (*trackedRecord, bool) {
	e, ok := t.entries[trackKey{d.Name(), key}]
	return e, ok
}

// find returns the tracked record for key, loading and tracking it as clean
// on first access. Deleted records are reported absent.
func (t *tracker) find(ctx context.Context, d dictCore, key string) (any, bool, error) {
	if e, ok := t.lookup(d, key); ok {
		if e.state == stateDeleted {
			return nil, false, nil
		}
		return e.record, true, nil
	}

	payload, found, err := d.findPayload(ctx, t.txn, key)
	if err != nil || !found {
		return nil, false, err
	}
	rec, err := d.decodeRecord(payload)
	if err != nil {
		return nil, false, mappingError(d.Name(), key, err)
	}
	t.add(d, key, stateClean, rec, payload)
	return rec, true, nil
}

// insert tracks rec as a new record. Re-inserting a key deleted earlier in
// the same flush turns the pair into an update of the stored row.
func (t *tracker) insert(d dictCore, key string, rec any) error {
	e, ok := t.lookup(d, key)
	switch {
	case !ok:
		t.add(d, key, stateInserted, rec, nil)
	case e.state == stateDeleted:
		e.state = stateUpdated
		e.record = rec
	default:
		return newError(ErrCodeConflict, d.Name(), key, "record is already tracked as %s", e.state)
	}
	return nil
}

// update marks a tracked record as modified.
func (t *tracker) update(d dictCore, key string) error {
	e, ok := t.lookup(d, key)
	if !ok || e.state == stateDeleted {
		return newError(ErrCodeNotFound, d.Name(), key, "record is not tracked")
	}
	if e.state == stateClean {
		e.state = stateUpdated
	}
	return nil
}

// delete marks a tracked record for deletion. A record inserted earlier in
// the same flush is dropped without touching the store.
func (t *tracker) delete(d dictCore, key string) error {
	e, ok := t.lookup(d, key)
	if !ok || e.state == stateDeleted {
		return newError(ErrCodeNotFound, d.Name(), key, "record is not tracked")
	}
	if e.state == stateInserted {
		e.state = stateDetached
		delete(t.entries, trackKey{d.Name(), key})
		return nil
	}
	e.state = stateDeleted
	return nil
}

// detach stops tracking a clean record, used when a loaded record is only
// inspected and then rejected.
func (t *tracker) detach(d dictCore, key string) {
	e, ok := t.lookup(d, key)
	if !ok || e.state != stateClean {
		return
	}
	e.state = stateDetached
	delete(t.entries, trackKey{d.Name(), key})
}

// state returns the tracking tag of key.
func (t *tracker) state(d dictCore, key string) (entryState, bool) {
	e, ok := t.lookup(d, key)
	if !ok {
		return stateDetached, false
	}
	return e.state, true
}

// persist writes every tracked change to the transaction in tracking order.
// Clean and updated records are re-encoded and written only if their payload
// differs from what was loaded.
func (t *tracker) persist(ctx context.Context) (int, error) {
	writes := 0
	for _, e := range t.order {
		table := e.d.Name()
		switch e.state {
		case stateDetached:
			continue
		case stateDeleted:
			if err := t.txn.Delete(ctx, table, e.key); err != nil {
				return writes, storeError(table, e.key, err)
			}
			writes++
		case stateInserted:
			payload, err := e.d.encodeRecord(e.record)
			if err != nil {
				return writes, mappingError(table, e.key, err)
			}
			if err := t.txn.Insert(ctx, table, e.key, payload); err != nil {
				return writes, storeError(table, e.key, err)
			}
			writes++
		case stateClean, stateUpdated:
			payload, err := e.d.encodeRecord(e.record)
			if err != nil {
				return writes, mappingError(table, e.key, err)
			}
			if bytes.Equal(payload, e.original) {
				continue
			}
			if err := t.txn.Update(ctx, table, e.key, payload); err != nil {
				return writes, storeError(table, e.key, err)
			}
			writes++
		}
	}
	return writes, nil
}

// storeError converts store sentinels into coded errors and wraps the rest.
func storeError(table, key string, err error) error {
	switch {
	case errors.Is(err, store.ErrDuplicateKey):
		e := newError(ErrCodeConflict, table, key, "key already exists")
		e.Err = err
		return e
	case errors.Is(err, store.ErrNotFound):
		e := newError(ErrCodeNotFound, table, key, "no item to update")
		e.Err = err
		return e
	default:
		return fmt.Errorf("persist %s/%s: %w", table, key, err)
	}
}

// recordSource loads records for a mapping pass.
type recordSource interface {
	find(ctx context.Context, d dictCore, key string) (any, bool, error)
	scan(ctx context.Context, d dictCore, fn func(key string, rec any) error) error
	count(ctx context.Context, d dictCore) (int, error)
}

type sourceRow struct {
	key string
	rec any
}

// scan merges the stored table with tracked state: deleted records are
// skipped, inserted ones included, and loaded rows tracked as clean.
func (t *tracker) scan(ctx context.Context, d dictCore, fn func(key string, rec any) error) error {
	table := d.Name()
	seen := make(map[string]bool)
	var rows []sourceRow

	err := t.txn.Scan(ctx, table, func(key string, payload []byte) error {
		seen[key] = true
		if e, ok := t.lookup(d, key); ok {
			if e.state != stateDeleted {
				rows = append(rows, sourceRow{key, e.record})
			}
			return nil
		}
		rec, err := d.decodeRecord(payload)
		if err != nil {
			return mappingError(table, key, err)
		}
		t.add(d, key, stateClean, rec, payload)
		rows = append(rows, sourceRow{key, rec})
		return nil
	})
	if err != nil {
		return err
	}

	for k, e := range t.entries {
		if k.table == table && !seen[k.key] && e.state == stateInserted {
			rows = append(rows, sourceRow{k.key, e.record})
		}
	}
	slices.SortFunc(rows, func(a, b sourceRow) int { return cmp.Compare(a.key, b.key) })

	for _, r := range rows {
		if err := fn(r.key, r.rec); err != nil {
			return err
		}
	}
	return nil
}

func (t *tracker) count(ctx context.Context, d dictCore) (int, error) {
	n := 0
	err := t.scan(ctx, d, func(string, any) error {
		n++
		return nil
	})
	return n, err
}

// readSource reads committed state straight from the store.
type readSource struct {
	r store.Reader
}

func (s readSource) find(ctx context.Context, d dictCore, key string) (any, bool, error) {
	payload, found, err := d.findPayload(ctx, s.r, key)
	if err != nil || !found {
		return nil, false, err
	}
	rec, err := d.decodeRecord(payload)
	if err != nil {
		return nil, false, mappingError(d.Name(), key, err)
	}
	return rec, true, nil
}

func (s readSource) scan(ctx context.Context, d dictCore, fn func(key string, rec any) error) error {
	return s.r.Scan(ctx, d.Name(), func(key string, payload []byte) error {
		rec, err := d.decodeRecord(payload)
		if err != nil {
			return mappingError(d.Name(), key, err)
		}
		return fn(key, rec)
	})
}

func (s readSource) count(ctx context.Context, d dictCore) (int, error) {
	return s.r.Count(ctx, d.Name())
}
