package txdict

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/txdict/internal/codec"
	"github.com/roach88/txdict/internal/store"
)

func TestReadView_IdentityWithinView(t *testing.T) {
	db, _ := newTestDB(t)
	people := registerPeople(t, db)
	seed(t, people, named("a", "A"))
	ctx := context.Background()

	var first *person
	err := db.Read(ctx, func(v *ReadView) error {
		a1, err := people.Get(v, "a")
		require.NoError(t, err)
		a2, err := people.Get(v, "a")
		require.NoError(t, err)
		assert.Same(t, a1, a2)

		all, err := people.All(v)
		require.NoError(t, err)
		assert.Same(t, a1, all[0].Value)
		first = a1
		return nil
	})
	require.NoError(t, err)

	err = db.Read(ctx, func(v *ReadView) error {
		a, err := people.Get(v, "a")
		require.NoError(t, err)
		assert.NotSame(t, first, a, "views never share instances")
		return nil
	})
	require.NoError(t, err)
}

func TestReadView_MissingKey(t *testing.T) {
	db, _ := newTestDB(t)
	people := registerPeople(t, db)

	err := db.Read(context.Background(), func(v *ReadView) error {
		_, found, err := people.TryGet(v, "nobody")
		require.NoError(t, err)
		assert.False(t, found)

		_, err = people.Get(v, "nobody")
		assert.True(t, IsNotFound(err))

		n, err := people.Count(v)
		require.NoError(t, err)
		assert.Zero(t, n)
		return nil
	})
	require.NoError(t, err)
}

func TestReadView_ClosedAndForeign(t *testing.T) {
	db, _ := newTestDB(t)
	people := registerPeople(t, db)
	ctx := context.Background()

	v, err := db.BeginRead(ctx)
	require.NoError(t, err)
	require.NoError(t, v.Close())
	require.NoError(t, v.Close())

	_, err = people.Get(v, "a")
	assert.Equal(t, ErrCodeSessionClosed, CodeOf(err))

	other, _ := newTestDB(t)
	registerPeople(t, other)
	ov, err := other.BeginRead(ctx)
	require.NoError(t, err)
	defer ov.Close()

	_, err = people.All(ov)
	assert.Equal(t, ErrCodeInvalid, CodeOf(err))
}

func TestReadView_EnumeratesInKeyOrder(t *testing.T) {
	db, _ := newTestDB(t)
	counters, err := Register(db, Options[int64, *person, person]{
		Name:    "counters",
		Keys:    codec.Int64Keys{},
		Mapping: IdentityMapping[int64, person](),
	})
	require.NoError(t, err)

	_, err = db.Write(context.Background(), func(ws *WriteSession) error {
		for _, k := range []int64{10, -3, 2, 0} {
			require.NoError(t, counters.Add(ws, k, named("", "n")))
		}
		return nil
	})
	require.NoError(t, err)

	var keys []int64
	err = db.Read(context.Background(), func(v *ReadView) error {
		return counters.Each(v.Pass(), func(k int64, _ *person) error {
			keys = append(keys, k)
			return nil
		})
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{-3, 0, 2, 10}, keys)
}

func TestFind_Override(t *testing.T) {
	db, _ := newTestDB(t)
	var calls int
	people, err := Register(db, Options[string, *person, person]{
		Name:    "people",
		Keys:    codec.StringKeys{},
		Mapping: IdentityMapping[string, person](),
		Find: func(ctx context.Context, r store.Reader, table, key string) ([]byte, bool, error) {
			calls++
			return r.Get(ctx, table, key)
		},
	})
	require.NoError(t, err)
	seed(t, people, named("a", "A"))
	callsAfterSeed := calls

	err = db.Read(context.Background(), func(v *ReadView) error {
		got, err := people.Get(v, "a")
		require.NoError(t, err)
		assert.Equal(t, "A", got.Name)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, callsAfterSeed, "flush lookups go through the override")
	assert.Equal(t, 2, calls)
}
