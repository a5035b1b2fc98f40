package mapping

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type person struct {
	Name  string
	Tasks []*task
}

type task struct {
	Title string
	Owner *person
}

func TestMemo_ReturnsSameInstance(t *testing.T) {
	s := NewSession()
	allocs := 0
	alloc := func() *person { allocs++; return &person{} }
	fill := func(p *person) error { p.Name = "Ada"; return nil }

	a, err := Memo(s, "people", "ada", alloc, fill)
	require.NoError(t, err)
	b, err := Memo(s, "people", "ada", alloc, fill)
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.Equal(t, 1, allocs)
	assert.Equal(t, 1, s.Len())
}

func TestMemo_NamespacesAreSeparate(t *testing.T) {
	s := NewSession()
	a, err := Memo(s, "people#domain", "ada", func() *person { return &person{} }, func(*person) error { return nil })
	require.NoError(t, err)
	b, err := Memo(s, "people#record", "ada", func() *person { return &person{} }, func(*person) error { return nil })
	require.NoError(t, err)

	assert.NotSame(t, a, b)
}

func TestMemo_ResolvesCycles(t *testing.T) {
	s := NewSession()

	var loadPerson func(name string) (*person, error)
	var loadTask func(title string) (*task, error)

	loadTask = func(title string) (*task, error) {
		return Memo(s, "tasks", title, func() *task { return &task{} }, func(tk *task) error {
			tk.Title = title
			owner, err := loadPerson("ada")
			tk.Owner = owner
			return err
		})
	}
	loadPerson = func(name string) (*person, error) {
		return Memo(s, "people", name, func() *person { return &person{} }, func(p *person) error {
			p.Name = name
			for _, title := range []string{"t1", "t2"} {
				tk, err := loadTask(title)
				if err != nil {
					return err
				}
				p.Tasks = append(p.Tasks, tk)
			}
			return nil
		})
	}

	t1, err := loadTask("t1")
	require.NoError(t, err)

	require.Len(t, t1.Owner.Tasks, 2)
	assert.Same(t, t1, t1.Owner.Tasks[0])
	assert.Same(t, t1.Owner, t1.Owner.Tasks[1].Owner)
}

func TestMemo_FillFailureRollsBack(t *testing.T) {
	s := NewSession()
	_, err := Memo(s, "people", "keep", func() *person { return &person{} }, func(*person) error { return nil })
	require.NoError(t, err)

	boom := errors.New("boom")
	_, err = Memo(s, "people", "ada", func() *person { return &person{} }, func(p *person) error {
		// Nested object memoized during the failed fill must be dropped too.
		_, _ = Memo(s, "tasks", "t1", func() *task { return &task{} }, func(*task) error { return nil })
		return boom
	})
	assert.ErrorIs(t, err, boom)

	assert.Equal(t, 1, s.Len())
	_, ok := s.Lookup("people", "ada")
	assert.False(t, ok)
	_, ok = s.Lookup("tasks", "t1")
	assert.False(t, ok)
	_, ok = s.Lookup("people", "keep")
	assert.True(t, ok)
}

func TestMemo_TypeMismatch(t *testing.T) {
	s := NewSession()
	s.Store("people", "ada", &task{})

	_, err := Memo(s, "people", "ada", func() *person { return &person{} }, func(*person) error { return nil })
	assert.Error(t, err)
}

func TestSession_ForgetAndReset(t *testing.T) {
	s := NewSession()
	s.Store("people", "ada", &person{})
	s.Store("people", "bob", &person{})

	s.Forget("people", "ada")
	_, ok := Get[*person](s, "people", "ada")
	assert.False(t, ok)
	_, ok = Get[*person](s, "people", "bob")
	assert.True(t, ok)

	s.Reset()
	assert.Equal(t, 0, s.Len())
}
