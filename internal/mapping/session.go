// Package mapping implements the identity-preserving memo used when
// translating between persisted records and domain objects.
//
// A Session remembers, per (namespace, key), the object already produced for
// that identity during one translation pass. Memo registers the allocated
// object before filling it, so a graph that refers back to an object under
// construction (a task whose owner lists the task) resolves to the same
// instance instead of recursing forever.
//
// A Session belongs to one pass and is not safe for concurrent use.
package mapping

import "fmt"

type identity struct {
	ns  string
	key any
}

// Session is the memo table for one translation pass.
type Session struct {
	entries map[identity]any
	order   []identity
}

// NewSession returns an empty Session.
func NewSession() *Session {
	return &Session{entries: make(map[identity]any)}
}

// Len returns the number of memoized objects.
func (s *Session) Len() int {
	return len(s.entries)
}

// Lookup returns the object memoized under (ns, key).
// key must be a comparable value.
func (s *Session) Lookup(ns string, key any) (any, bool) {
	v, ok := s.entries[identity{ns, key}]
	return v, ok
}

// Store memoizes v under (ns, key), replacing any previous object.
func (s *Session) Store(ns string, key any, v any) {
	id := identity{ns, key}
	if _, exists := s.entries[id]; !exists {
		s.order = append(s.order, id)
	}
	s.entries[id] = v
}

// Forget drops the object memoized under (ns, key), if any.
func (s *Session) Forget(ns string, key any) {
	delete(s.entries, identity{ns, key})
}

// Reset drops every memoized object.
func (s *Session) Reset() {
	clear(s.entries)
	s.order = s.order[:0]
}

// mark returns a restore point for rollback.
func (s *Session) mark() int {
	return len(s.order)
}

// rollback drops every object memoized after m.
func (s *Session) rollback(m int) {
	for _, id := range s.order[m:] {
		delete(s.entries, id)
	}
	s.order = s.order[:m]
}

// Get returns the object memoized under (ns, key) as a T.
func Get[T any](s *Session, ns string, key any) (T, bool) {
	v, ok := s.Lookup(ns, key)
	if !ok {
		var zero T
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}

// Memo returns the object memoized under (ns, key), or allocates one with
// alloc, memoizes it, and fills it with fill. alloc must return a reference
// (usually a pointer) so that fill can complete an object others already
// hold.
//
// If fill fails, everything memoized since the call began is dropped,
// including the new object, and the error is returned.
func Memo[T any](s *Session, ns string, key any, alloc func() T, fill func(T) error) (T, error) {
	if v, ok := s.Lookup(ns, key); ok {
		t, ok := v.(T)
		if !ok {
			var zero T
			return zero, fmt.Errorf("mapping: %s[%v] holds %T, not %T", ns, key, v, zero)
		}
		return t, nil
	}

	m := s.mark()
	obj := alloc()
	s.Store(ns, key, obj)
	if err := fill(obj); err != nil {
		s.rollback(m)
		var zero T
		return zero, err
	}
	return obj, nil
}
