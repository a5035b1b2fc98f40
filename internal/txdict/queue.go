package txdict

// Enqueue appends one intent to ws. It performs no I/O.
func (d *Dictionary[K, V, R]) Enqueue(ws *WriteSession, in MutationIntent[K, V]) error {
	if ws.db != d.db {
		return newError(ErrCodeInvalid, d.name, "", "session belongs to another database")
	}
	if _, ok := kindNames[in.Kind]; !ok {
		return newError(ErrCodeInvalid, d.name, "", "unknown intent kind %v", in.Kind)
	}
	if in.Kind.needsAdd() && in.ValueIfAdding == nil {
		return newError(ErrCodeInvalid, d.name, "", "%s requires ValueIfAdding", in.Kind)
	}
	if in.Kind.needsUpdate() && in.ValueIfUpdating == nil {
		return newError(ErrCodeInvalid, d.name, "", "%s requires ValueIfUpdating", in.Kind)
	}
	ek, err := d.encodeKey(in.Key)
	if err != nil {
		return err
	}
	return ws.enqueue(&pending[K, V, R]{d: d, intent: in, ek: ek})
}

func constant[V any](v V) func() V {
	return func() V { return v }
}

// Add queues an insert that fails the flush if key exists.
func (d *Dictionary[K, V, R]) Add(ws *WriteSession, key K, v V) error {
	return d.Enqueue(ws, MutationIntent[K, V]{Key: key, Kind: KindAdd, ValueIfAdding: constant(v)})
}

// TryAdd queues an insert that is skipped if key exists.
func (d *Dictionary[K, V, R]) TryAdd(ws *WriteSession, key K, v V) error {
	return d.Enqueue(ws, MutationIntent[K, V]{Key: key, Kind: KindTryAdd, ValueIfAdding: constant(v)})
}

// Update queues an update that fails the flush if key is missing.
func (d *Dictionary[K, V, R]) Update(ws *WriteSession, key K, fn func(existing V) V) error {
	return d.Enqueue(ws, MutationIntent[K, V]{Key: key, Kind: KindUpdate, ValueIfUpdating: fn})
}

// TryUpdate queues an update that is skipped if key is missing.
func (d *Dictionary[K, V, R]) TryUpdate(ws *WriteSession, key K, fn func(existing V) V) error {
	return d.Enqueue(ws, MutationIntent[K, V]{Key: key, Kind: KindTryUpdate, ValueIfUpdating: fn})
}

// Remove queues a delete that fails the flush if key is missing.
func (d *Dictionary[K, V, R]) Remove(ws *WriteSession, key K) error {
	return d.Enqueue(ws, MutationIntent[K, V]{Key: key, Kind: KindRemove})
}

// TryRemove queues a delete that is skipped if key is missing.
func (d *Dictionary[K, V, R]) TryRemove(ws *WriteSession, key K) error {
	return d.Enqueue(ws, MutationIntent[K, V]{Key: key, Kind: KindTryRemove})
}

// AddOrUpdate queues an upsert.
func (d *Dictionary[K, V, R]) AddOrUpdate(ws *WriteSession, key K, addFn func() V, updateFn func(existing V) V) error {
	return d.Enqueue(ws, MutationIntent[K, V]{Key: key, Kind: KindAddOrUpdate, ValueIfAdding: addFn, ValueIfUpdating: updateFn})
}

// Set queues an upsert of v under key.
func (d *Dictionary[K, V, R]) Set(ws *WriteSession, key K, v V) error {
	return d.AddOrUpdate(ws, key, constant(v), func(V) V { return v })
}

// Put queues an upsert of v under its built-in key.
func (d *Dictionary[K, V, R]) Put(ws *WriteSession, v V) error {
	if d.keyOf == nil {
		return newError(ErrCodeInvalid, d.name, "", "Put requires KeyOf")
	}
	return d.Set(ws, d.keyOf(v), v)
}
