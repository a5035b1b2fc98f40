package txdict

// Optional holds a value that may be absent.
type Optional[T any] struct {
	value T
	ok    bool
}

// Some returns an Optional holding v.
func Some[T any](v T) Optional[T] {
	return Optional[T]{value: v, ok: true}
}

// None returns an empty Optional.
func None[T any]() Optional[T] {
	return Optional[T]{}
}

// Get returns the value and whether it is present.
func (o Optional[T]) Get() (T, bool) {
	return o.value, o.ok
}

// IsSome reports whether a value is present.
func (o Optional[T]) IsSome() bool {
	return o.ok
}

// OrZero returns the value, or the zero T when absent.
func (o Optional[T]) OrZero() T {
	return o.value
}

func eraseOptional[T any](o Optional[T]) Optional[any] {
	if !o.ok {
		return None[any]()
	}
	return Some[any](o.value)
}

func narrowOptional[T any](o Optional[any]) (Optional[T], bool) {
	if !o.ok {
		return None[T](), true
	}
	v, ok := o.value.(T)
	if !ok {
		return None[T](), false
	}
	return Some(v), true
}
