package txdict

// MutationIntent is one queued operation against a dictionary.
type MutationIntent[K comparable, V any] struct {
	Key  K
	Kind Kind

	// ValueIfAdding produces the value to insert. Required for Add, TryAdd
	// and AddOrUpdate.
	ValueIfAdding func() V

	// ValueIfUpdating produces the replacement for an existing value.
	// Required for Update, TryUpdate and AddOrUpdate.
	ValueIfUpdating func(existing V) V
}

// MutationResult is the typed outcome of one intent.
//
// AddOrUpdate reports Kind == ChangeUpdate whether it inserted or updated;
// Old is absent when it inserted.
type MutationResult[K comparable, V any] struct {
	Key       K
	Intent    Kind
	Kind      ChangeKind
	Succeeded bool
	Old       Optional[V]
	New       Optional[V]
}

// Result is the type-erased outcome of one intent, as returned by Flush for
// batches that span dictionaries. Dictionary.ResultOf narrows it.
type Result struct {
	Dictionary string
	Key        any
	EncodedKey string
	Intent     Kind
	Kind       ChangeKind
	Succeeded  bool
	Old        Optional[any]
	New        Optional[any]
}

// changed reports whether r should produce a change event.
func (r Result) changed() bool {
	return r.Succeeded && (r.Old.IsSome() || r.New.IsSome())
}

// Change is one committed change, type-erased.
type Change struct {
	Seq        int64
	Dictionary string
	Key        any
	EncodedKey string
	Kind       ChangeKind
	Old        Optional[any]
	New        Optional[any]
}

// ChangeEvent is the typed form of a Change for one dictionary.
type ChangeEvent[K comparable, V any] struct {
	Seq  int64
	Key  K
	Kind ChangeKind
	Old  Optional[V]
	New  Optional[V]
}

// Batch is the ordered set of changes committed by one flush.
type Batch struct {
	// Seq numbers committed flushes, starting at 1.
	Seq     int64
	Changes []Change
}

// Entry is one key/value pair returned by enumeration.
type Entry[K comparable, V any] struct {
	Key   K
	Value V
}
