package txdict

import (
	"cmp"
	"context"
	"slices"
)

// View is anything dictionary reads can run against: a *ReadView or a
// *WriteSession.
type View interface {
	database() *Database
}

func (v *ReadView) database() *Database      { return v.db }
func (ws *WriteSession) database() *Database { return ws.db }

// ReadView is a consistent read of committed state. It holds the database's
// reader lock until Close, so flushes wait for it; values read through one
// view keep reference identity across calls.
//
// Views share the lock with each other, but once a flush is waiting for it
// new views wait behind that flush, so a long-lived view delays later
// readers as well as writers.
//
// A ReadView is not safe for concurrent use. Flushing from a goroutine that
// holds an open ReadView deadlocks.
type ReadView struct {
	db     *Database
	pass   *Pass
	closed bool
}

// BeginRead opens a ReadView. Callers must Close it.
func (db *Database) BeginRead(ctx context.Context) (*ReadView, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	if err := db.ensureMigrated(ctx); err != nil {
		return nil, err
	}
	db.mu.RLock()
	return &ReadView{
		db:   db,
		pass: newReadPass(ctx, readSource{r: db.backend.Reader()}),
	}, nil
}

// Close releases the reader lock. It is idempotent.
func (v *ReadView) Close() error {
	if v.closed {
		return nil
	}
	v.closed = true
	v.pass.session.Reset()
	v.db.mu.RUnlock()
	return nil
}

// Pass returns the view's mapping pass.
func (v *ReadView) Pass() *Pass {
	return v.pass
}

// Read runs fn inside a ReadView.
func (db *Database) Read(ctx context.Context, fn func(v *ReadView) error) error {
	v, err := db.BeginRead(ctx)
	if err != nil {
		return err
	}
	defer v.Close()
	return fn(v)
}

func (d *Dictionary[K, V, R]) checkView(view View) error {
	if view.database() != d.db {
		return newError(ErrCodeInvalid, d.name, "", "view belongs to another database")
	}
	if rv, ok := view.(*ReadView); ok && rv.closed {
		return newError(ErrCodeSessionClosed, d.name, "", "read view is closed")
	}
	return nil
}

// TryGet returns the value under key as seen by view.
func (d *Dictionary[K, V, R]) TryGet(view View, key K) (V, bool, error) {
	var zero V
	if err := d.checkView(view); err != nil {
		return zero, false, err
	}
	switch v := view.(type) {
	case *ReadView:
		return d.Resolve(v.pass, key)
	case *WriteSession:
		return d.overlayGet(v, key)
	default:
		return zero, false, newError(ErrCodeInvalid, d.name, "", "unsupported view %T", view)
	}
}

// Get is TryGet that reports a missing key as an ErrCodeNotFound error.
func (d *Dictionary[K, V, R]) Get(view View, key K) (V, error) {
	v, found, err := d.TryGet(view, key)
	if err != nil {
		return v, err
	}
	if !found {
		ek, _ := d.keys.EncodeKey(key)
		return v, newError(ErrCodeNotFound, d.name, ek, "key not found")
	}
	return v, nil
}

// ContainsKey reports whether key has a value in view.
func (d *Dictionary[K, V, R]) ContainsKey(view View, key K) (bool, error) {
	_, found, err := d.TryGet(view, key)
	return found, err
}

// All returns every entry visible in view, ordered by encoded key.
func (d *Dictionary[K, V, R]) All(view View) ([]Entry[K, V], error) {
	if err := d.checkView(view); err != nil {
		return nil, err
	}
	switch v := view.(type) {
	case *ReadView:
		out := []Entry[K, V]{}
		err := d.Each(v.pass, func(key K, val V) error {
			out = append(out, Entry[K, V]{Key: key, Value: val})
			return nil
		})
		return out, err
	case *WriteSession:
		return d.overlayAll(v)
	default:
		return nil, newError(ErrCodeInvalid, d.name, "", "unsupported view %T", view)
	}
}

// Count returns the number of entries visible in view.
func (d *Dictionary[K, V, R]) Count(view View) (int, error) {
	if err := d.checkView(view); err != nil {
		return 0, err
	}
	if v, ok := view.(*ReadView); ok {
		return v.pass.src.count(v.pass.ctx, d)
	}
	all, err := d.All(view)
	return len(all), err
}

// overlayGet folds the session's queued intents for key over committed state.
// The reader lock is held for the duration of the read only.
func (d *Dictionary[K, V, R]) overlayGet(ws *WriteSession, key K) (V, bool, error) {
	var zero V
	ek, err := d.encodeKey(key)
	if err != nil {
		return zero, false, err
	}
	intents, err := ws.intentsFor(d.name, ek)
	if err != nil {
		return zero, false, err
	}

	db := ws.db
	if err := db.ensureMigrated(ws.ctx); err != nil {
		return zero, false, err
	}
	db.mu.RLock()
	defer db.mu.RUnlock()

	p := newReadPass(ws.ctx, readSource{r: db.backend.Reader()})
	cur, found, err := d.Resolve(p, key)
	if err != nil {
		return zero, false, err
	}
	return d.fold(p, key, ek, cur, found, intents)
}

func (d *Dictionary[K, V, R]) overlayAll(ws *WriteSession) ([]Entry[K, V], error) {
	byKey, err := ws.keysFor(d.name)
	if err != nil {
		return nil, err
	}

	db := ws.db
	if err := db.ensureMigrated(ws.ctx); err != nil {
		return nil, err
	}
	db.mu.RLock()
	defer db.mu.RUnlock()

	type row struct {
		ek    string
		entry Entry[K, V]
	}
	var rows []row
	seen := make(map[string]bool)

	p := newReadPass(ws.ctx, readSource{r: db.backend.Reader()})
	err = p.src.scan(p.ctx, d, func(ek string, raw any) error {
		seen[ek] = true
		key, err := d.keys.DecodeKey(ek)
		if err != nil {
			return mappingError(d.name, ek, err)
		}
		cur, err := d.toDomain(p, ek, key, raw.(*R))
		if err != nil {
			return err
		}
		v, found, err := d.fold(p, key, ek, cur, true, byKey[ek])
		if err != nil || !found {
			return err
		}
		rows = append(rows, row{ek, Entry[K, V]{Key: key, Value: v}})
		return nil
	})
	if err != nil {
		return nil, err
	}

	for ek, intents := range byKey {
		if seen[ek] {
			continue
		}
		key := intents[0].(*pending[K, V, R]).intent.Key
		var zero V
		v, found, err := d.fold(p, key, ek, zero, false, intents)
		if err != nil {
			return nil, err
		}
		if found {
			rows = append(rows, row{ek, Entry[K, V]{Key: key, Value: v}})
		}
	}

	slices.SortFunc(rows, func(a, b row) int { return cmp.Compare(a.ek, b.ek) })
	out := make([]Entry[K, V], len(rows))
	for i, r := range rows {
		out[i] = r.entry
	}
	return out, nil
}

// fold applies queued intents to cur the way the executor would. Intents
// that would fail the flush leave the value unchanged. Every produced value
// is detached so producers never see values the caller still holds.
func (d *Dictionary[K, V, R]) fold(p *Pass, key K, ek string, cur V, found bool, intents []queued) (V, bool, error) {
	var zero V
	for _, q := range intents {
		in := q.(*pending[K, V, R]).intent

		var next V
		produced := false
		switch in.Kind {
		case KindAdd, KindTryAdd:
			if !found {
				next, produced = in.ValueIfAdding(), true
			}
		case KindUpdate, KindTryUpdate:
			if found {
				next, produced = in.ValueIfUpdating(cur), true
			}
		case KindRemove, KindTryRemove:
			cur, found = zero, false
		case KindAddOrUpdate:
			if found {
				next = in.ValueIfUpdating(cur)
			} else {
				next = in.ValueIfAdding()
			}
			produced = true
		}

		if produced {
			v, err := d.detachValue(p, ek, key, next)
			if err != nil {
				return zero, false, err
			}
			cur, found = v, true
		}
	}
	return cur, found, nil
}
