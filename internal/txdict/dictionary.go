package txdict

import (
	"context"
	"fmt"

	"github.com/roach88/txdict/internal/codec"
	"github.com/roach88/txdict/internal/mapping"
	"github.com/roach88/txdict/internal/store"
)

// FindFunc overrides how a dictionary looks up one record by encoded key.
type FindFunc func(ctx context.Context, r store.Reader, table, key string) ([]byte, bool, error)

// Mapping holds the explicit field rules between domain values V and
// persisted records R.
//
// V should be a reference type (usually a pointer): NewDomain allocates the
// instance that is memoized before FillDomain runs, which is what lets
// cyclic and shared graphs resolve to the same instance.
type Mapping[K comparable, V any, R any] struct {
	NewDomain  func() V
	FillDomain func(p *Pass, key K, rec *R, out V) error

	// NewRecord allocates an empty record. Defaults to new(R).
	NewRecord  func() *R
	FillRecord func(p *Pass, key K, v V, rec *R) error
}

// IdentityMapping maps a record type onto itself by value copy.
// Values handed to the dictionary are owned by it afterwards.
func IdentityMapping[K comparable, R any]() Mapping[K, *R, R] {
	return Mapping[K, *R, R]{
		NewDomain: func() *R { return new(R) },
		FillDomain: func(_ *Pass, _ K, rec *R, out *R) error {
			*out = *rec
			return nil
		},
		FillRecord: func(_ *Pass, _ K, v *R, rec *R) error {
			if v == nil {
				return fmt.Errorf("nil value")
			}
			*rec = *v
			return nil
		},
	}
}

// Options registers one aggregate root as a dictionary.
type Options[K comparable, V any, R any] struct {
	// Name is the dictionary and table name.
	Name string

	Keys    codec.KeyCodec[K]
	Codec   codec.Codec[R] // defaults to codec.JSON
	Mapping Mapping[K, V, R]

	// KeyOf extracts the built-in key of a value. Optional; enables Put,
	// Attach and key-mismatch checks.
	KeyOf func(V) K

	// Find replaces the default lookup by key. Optional.
	Find FindFunc
}

// dictCore is the type-erased view of a dictionary used by the tracker and
// the coordinator.
type dictCore interface {
	Name() string
	decodeRecord(payload []byte) (any, error)
	encodeRecord(rec any) ([]byte, error)
	findPayload(ctx context.Context, r store.Reader, key string) ([]byte, bool, error)
}

// Dictionary is a registered, typed, transactional key/value facade.
type Dictionary[K comparable, V any, R any] struct {
	db       *Database
	name     string
	keys     codec.KeyCodec[K]
	codec    codec.Codec[R]
	m        Mapping[K, V, R]
	keyOf    func(V) K
	find     FindFunc
	domainNS string
	recordNS string
}

// Register declares a dictionary on db. Names must be valid table names and
// unique per Database.
func Register[K comparable, V any, R any](db *Database, opts Options[K, V, R]) (*Dictionary[K, V, R], error) {
	if err := store.ValidateTableName(opts.Name); err != nil {
		return nil, &Error{Code: ErrCodeInvalid, Message: "invalid dictionary name", Dictionary: opts.Name, Index: -1, Err: err}
	}
	switch {
	case opts.Keys == nil:
		return nil, newError(ErrCodeInvalid, opts.Name, "", "key codec is required")
	case opts.Mapping.NewDomain == nil || opts.Mapping.FillDomain == nil:
		return nil, newError(ErrCodeInvalid, opts.Name, "", "mapping needs NewDomain and FillDomain")
	case opts.Mapping.FillRecord == nil:
		return nil, newError(ErrCodeInvalid, opts.Name, "", "mapping needs FillRecord")
	}

	c := opts.Codec
	if c == nil {
		c = codec.JSON[R]{}
	}
	m := opts.Mapping
	if m.NewRecord == nil {
		m.NewRecord = func() *R { return new(R) }
	}

	d := &Dictionary[K, V, R]{
		db:       db,
		name:     opts.Name,
		keys:     opts.Keys,
		codec:    c,
		m:        m,
		keyOf:    opts.KeyOf,
		find:     opts.Find,
		domainNS: opts.Name + "#domain",
		recordNS: opts.Name + "#record",
	}
	if err := db.register(d); err != nil {
		return nil, err
	}
	return d, nil
}

// Name returns the dictionary name.
func (d *Dictionary[K, V, R]) Name() string {
	return d.name
}

// Database returns the database d is registered on.
func (d *Dictionary[K, V, R]) Database() *Database {
	return d.db
}

func (d *Dictionary[K, V, R]) encodeKey(key K) (string, error) {
	ek, err := d.keys.EncodeKey(key)
	if err != nil {
		return "", &Error{Code: ErrCodeInvalid, Message: fmt.Sprintf("cannot encode key %v", key), Dictionary: d.name, Index: -1, Err: err}
	}
	return ek, nil
}

// DecodeKey converts a stored key back to K.
func (d *Dictionary[K, V, R]) DecodeKey(ek string) (K, error) {
	return d.keys.DecodeKey(ek)
}

func (d *Dictionary[K, V, R]) decodeRecord(payload []byte) (any, error) {
	rec := d.m.NewRecord()
	if err := d.codec.Unmarshal(payload, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (d *Dictionary[K, V, R]) encodeRecord(rec any) ([]byte, error) {
	r, ok := rec.(*R)
	if !ok {
		return nil, fmt.Errorf("record of %s has type %T", d.name, rec)
	}
	return d.codec.Marshal(r)
}

func (d *Dictionary[K, V, R]) findPayload(ctx context.Context, r store.Reader, key string) ([]byte, bool, error) {
	if d.find != nil {
		return d.find(ctx, r, d.name, key)
	}
	return r.Get(ctx, d.name, key)
}

// toDomain maps rec to its domain value through p's memo.
func (d *Dictionary[K, V, R]) toDomain(p *Pass, ek string, key K, rec *R) (V, error) {
	v, err := mapping.Memo(p.session, d.domainNS, ek, d.m.NewDomain, func(out V) error {
		return d.m.FillDomain(p, key, rec, out)
	})
	if err != nil {
		return v, mappingError(d.name, ek, err)
	}
	return v, nil
}

// fillRecord copies v's fields into rec and re-decodes rec in place so the
// tracked record shares no memory with v.
func (d *Dictionary[K, V, R]) fillRecord(p *Pass, ek string, key K, v V, rec *R) error {
	if err := d.m.FillRecord(p, key, v, rec); err != nil {
		return mappingError(d.name, ek, err)
	}
	clone, err := codec.Clone(d.codec, rec)
	if err != nil {
		return mappingError(d.name, ek, err)
	}
	*rec = *clone
	return nil
}

// snapshot maps a copy of rec in a detached pass, so the returned value
// shares no instances with the records a flush keeps modifying.
func (d *Dictionary[K, V, R]) snapshot(p *Pass, ek string, key K, rec *R) (V, error) {
	clone, err := codec.Clone(d.codec, rec)
	if err != nil {
		var zero V
		return zero, mappingError(d.name, ek, err)
	}
	return d.toDomain(p.detached(), ek, key, clone)
}

// detachValue round-trips v through its record form.
func (d *Dictionary[K, V, R]) detachValue(p *Pass, ek string, key K, v V) (V, error) {
	rec := d.m.NewRecord()
	if err := d.fillRecord(p.detached(), ek, key, v, rec); err != nil {
		var zero V
		return zero, err
	}
	return d.toDomain(p.detached(), ek, key, rec)
}

func (d *Dictionary[K, V, R]) checkKey(key K, ek string, v V) error {
	if d.keyOf == nil {
		return nil
	}
	got := d.keyOf(v)
	gotEK, err := d.encodeKey(got)
	if err != nil {
		return err
	}
	if gotEK != ek {
		return newError(ErrCodeKeyMismatch, d.name, ek, "value has key %v", got)
	}
	return nil
}

// Resolve returns the value stored under key as seen by pass p. Within one
// pass the same key always resolves to the same instance.
func (d *Dictionary[K, V, R]) Resolve(p *Pass, key K) (V, bool, error) {
	var zero V
	ek, err := d.encodeKey(key)
	if err != nil {
		return zero, false, err
	}
	if v, ok := mapping.Get[V](p.session, d.domainNS, ek); ok {
		return v, true, nil
	}
	raw, found, err := p.src.find(p.ctx, d, ek)
	if err != nil || !found {
		return zero, false, err
	}
	v, err := d.toDomain(p, ek, key, raw.(*R))
	if err != nil {
		return zero, false, err
	}
	return v, true, nil
}

// Each calls fn for every value visible to pass p, ordered by encoded key.
func (d *Dictionary[K, V, R]) Each(p *Pass, fn func(key K, v V) error) error {
	return p.src.scan(p.ctx, d, func(ek string, raw any) error {
		key, err := d.keys.DecodeKey(ek)
		if err != nil {
			return mappingError(d.name, ek, err)
		}
		v, err := d.toDomain(p, ek, key, raw.(*R))
		if err != nil {
			return err
		}
		return fn(key, v)
	})
}

// Attach makes sure related value v is persisted by the flush running p and
// returns its key. The first Attach of a key in a pass inserts or updates
// the record; later ones only return the key. Outside a flush Attach only
// computes the key. Attached writes produce no change events.
func (d *Dictionary[K, V, R]) Attach(p *Pass, v V) (K, error) {
	var zero K
	if d.keyOf == nil {
		return zero, newError(ErrCodeInvalid, d.name, "", "Attach requires KeyOf")
	}
	key := d.keyOf(v)
	ek, err := d.encodeKey(key)
	if err != nil {
		return zero, err
	}
	if p.tracker == nil {
		return key, nil
	}
	if _, ok := p.session.Lookup(d.recordNS, ek); ok {
		return key, nil
	}

	raw, found, err := p.tracker.find(p.ctx, d, ek)
	if err != nil {
		return zero, err
	}
	var rec *R
	if found {
		rec = raw.(*R)
	} else {
		rec = d.m.NewRecord()
	}
	p.session.Store(d.recordNS, ek, rec)
	if err := d.fillRecord(p, ek, key, v, rec); err != nil {
		return zero, err
	}
	if found {
		err = p.tracker.update(d, ek)
	} else {
		err = p.tracker.insert(d, ek, rec)
	}
	if err != nil {
		return zero, err
	}
	p.session.Forget(d.domainNS, ek)
	return key, nil
}

// ResultOf narrows an erased flush result to d's types. ok is false when r
// belongs to another dictionary.
func (d *Dictionary[K, V, R]) ResultOf(r Result) (MutationResult[K, V], bool) {
	if r.Dictionary != d.name {
		return MutationResult[K, V]{}, false
	}
	key, ok := r.Key.(K)
	if !ok {
		return MutationResult[K, V]{}, false
	}
	oldV, ok1 := narrowOptional[V](r.Old)
	newV, ok2 := narrowOptional[V](r.New)
	if !ok1 || !ok2 {
		return MutationResult[K, V]{}, false
	}
	return MutationResult[K, V]{
		Key:       key,
		Intent:    r.Intent,
		Kind:      r.Kind,
		Succeeded: r.Succeeded,
		Old:       oldV,
		New:       newV,
	}, true
}

// Results returns the results in rs that belong to d, in order.
func (d *Dictionary[K, V, R]) Results(rs []Result) []MutationResult[K, V] {
	out := []MutationResult[K, V]{}
	for _, r := range rs {
		if mr, ok := d.ResultOf(r); ok {
			out = append(out, mr)
		}
	}
	return out
}

// Subscribe registers fn for committed changes of this dictionary. fn is
// called once per change, in commit order.
func (d *Dictionary[K, V, R]) Subscribe(fn func(ChangeEvent[K, V]), opts ...SubscribeOption) *Subscription {
	opts = append(opts, withDictionary(d.name))
	return d.db.Subscribe(func(b Batch) {
		for _, c := range b.Changes {
			if c.Dictionary != d.name {
				continue
			}
			key, _ := c.Key.(K)
			oldV, _ := narrowOptional[V](c.Old)
			newV, _ := narrowOptional[V](c.New)
			fn(ChangeEvent[K, V]{Seq: c.Seq, Key: key, Kind: c.Kind, Old: oldV, New: newV})
		}
	}, opts...)
}
