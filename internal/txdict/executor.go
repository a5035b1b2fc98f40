package txdict

// queued is one type-erased intent waiting in a WriteSession.
type queued interface {
	dictName() string
	encodedKey() string
	kind() Kind
	execute(p *Pass) (Result, error)
}

type pending[K comparable, V any, R any] struct {
	d      *Dictionary[K, V, R]
	intent MutationIntent[K, V]
	ek     string
}

func (q *pending[K, V, R]) dictName() string   { return q.d.name }
func (q *pending[K, V, R]) encodedKey() string { return q.ek }
func (q *pending[K, V, R]) kind() Kind         { return q.intent.Kind }

func (q *pending[K, V, R]) execute(p *Pass) (Result, error) {
	r, err := q.d.execute(p, q.intent, q.ek)
	return Result{
		Dictionary: q.d.name,
		Key:        r.Key,
		EncodedKey: q.ek,
		Intent:     r.Intent,
		Kind:       r.Kind,
		Succeeded:  r.Succeeded,
		Old:        eraseOptional(r.Old),
		New:        eraseOptional(r.New),
	}, err
}

// execute resolves one intent against the flush's tracked state.
//
//	kind         present                        absent
//	Add          conflict                       insert
//	TryAdd       Succeeded=false, Old=current   insert
//	Update       update in place                not found
//	TryUpdate    update in place                Succeeded, no values
//	Remove       delete                         not found
//	TryRemove    delete                         Succeeded, no values
//	AddOrUpdate  update in place                insert (reported as update)
func (d *Dictionary[K, V, R]) execute(p *Pass, in MutationIntent[K, V], ek string) (MutationResult[K, V], error) {
	res := MutationResult[K, V]{Key: in.Key, Intent: in.Kind, Kind: in.Kind.changeKind()}

	raw, found, err := p.tracker.find(p.ctx, d, ek)
	if err != nil {
		return res, err
	}
	var rec *R
	if found {
		rec = raw.(*R)
	}

	switch in.Kind {
	case KindAdd:
		if found {
			d.detach(p, ek)
			return res, newError(ErrCodeConflict, d.name, ek, "key already exists")
		}
		return d.insert(p, in.Key, ek, in.ValueIfAdding(), res)

	case KindTryAdd:
		if found {
			old, err := d.snapshot(p, ek, in.Key, rec)
			if err != nil {
				return res, err
			}
			d.detach(p, ek)
			res.Old = Some(old)
			return res, nil
		}
		return d.insert(p, in.Key, ek, in.ValueIfAdding(), res)

	case KindUpdate, KindTryUpdate:
		if !found {
			if in.Kind == KindTryUpdate {
				res.Succeeded = true
				return res, nil
			}
			return res, newError(ErrCodeNotFound, d.name, ek, "no item to update")
		}
		return d.update(p, in.Key, ek, rec, in.ValueIfUpdating, res)

	case KindRemove, KindTryRemove:
		if !found {
			if in.Kind == KindTryRemove {
				res.Succeeded = true
				return res, nil
			}
			return res, newError(ErrCodeNotFound, d.name, ek, "no item to remove")
		}
		old, err := d.snapshot(p, ek, in.Key, rec)
		if err != nil {
			return res, err
		}
		if err := p.tracker.delete(d, ek); err != nil {
			return res, err
		}
		p.session.Forget(d.domainNS, ek)
		p.session.Forget(d.recordNS, ek)
		res.Succeeded = true
		res.Old = Some(old)
		return res, nil

	case KindAddOrUpdate:
		if found {
			return d.update(p, in.Key, ek, rec, in.ValueIfUpdating, res)
		}
		return d.insert(p, in.Key, ek, in.ValueIfAdding(), res)

	default:
		return res, newError(ErrCodeInvalid, d.name, ek, "unknown intent kind %v", in.Kind)
	}
}

func (d *Dictionary[K, V, R]) insert(p *Pass, key K, ek string, v V, res MutationResult[K, V]) (MutationResult[K, V], error) {
	if err := d.checkKey(key, ek, v); err != nil {
		return res, err
	}
	rec := d.m.NewRecord()
	p.session.Store(d.recordNS, ek, rec)
	if err := d.fillRecord(p, ek, key, v, rec); err != nil {
		return res, err
	}
	if err := p.tracker.insert(d, ek, rec); err != nil {
		return res, err
	}
	p.session.Forget(d.domainNS, ek)
	nv, err := d.snapshot(p, ek, key, rec)
	if err != nil {
		return res, err
	}
	res.Succeeded = true
	res.New = Some(nv)
	return res, nil
}

// update snapshots the old value, hands the memoized current value to fn,
// and copies the result's fields into the tracked record in place. Old and
// New are both snapshots of the record, never values the caller holds.
func (d *Dictionary[K, V, R]) update(p *Pass, key K, ek string, rec *R, fn func(V) V, res MutationResult[K, V]) (MutationResult[K, V], error) {
	old, err := d.snapshot(p, ek, key, rec)
	if err != nil {
		return res, err
	}
	cur, err := d.toDomain(p, ek, key, rec)
	if err != nil {
		return res, err
	}
	nv := fn(cur)
	if err := d.checkKey(key, ek, nv); err != nil {
		return res, err
	}
	p.session.Store(d.recordNS, ek, rec)
	if err := d.fillRecord(p, ek, key, nv, rec); err != nil {
		return res, err
	}
	if err := p.tracker.update(d, ek); err != nil {
		return res, err
	}
	p.session.Forget(d.domainNS, ek)
	snap, err := d.snapshot(p, ek, key, rec)
	if err != nil {
		return res, err
	}
	res.Succeeded = true
	res.Old = Some(old)
	res.New = Some(snap)
	return res, nil
}

// detach drops a rejected record from tracking and from the memo.
func (d *Dictionary[K, V, R]) detach(p *Pass, ek string) {
	p.tracker.detach(d, ek)
	p.session.Forget(d.domainNS, ek)
	p.session.Forget(d.recordNS, ek)
}
