package txdict

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteSession_Lifecycle(t *testing.T) {
	db, _ := newTestDB(t)
	people := registerPeople(t, db)
	ws := db.BeginWrite(context.Background())
	assert.Equal(t, StateOpen, ws.State())

	require.NoError(t, people.Add(ws, "a", named("a", "A")))
	assert.Equal(t, 1, ws.Len())
	_, err := ws.Flush()
	require.NoError(t, err)
	assert.Equal(t, StateCommitted, ws.State())
	assert.Zero(t, ws.Len())

	// A committed session keeps accepting work.
	require.NoError(t, people.Add(ws, "b", named("b", "B")))
	assert.Equal(t, StateOpen, ws.State())
	_, err = ws.Flush()
	require.NoError(t, err)

	require.NoError(t, people.Add(ws, "a", named("a", "dup")))
	_, err = ws.Flush()
	require.True(t, IsConflict(err))
	assert.Equal(t, StateRolledBack, ws.State())

	err = people.Add(ws, "c", named("c", "C"))
	assert.Equal(t, ErrCodeRolledBack, CodeOf(err))
	assert.True(t, IsSessionClosed(err))
	_, err = ws.Flush()
	assert.Equal(t, ErrCodeRolledBack, CodeOf(err))

	require.NoError(t, ws.Close())
	assert.Equal(t, StateClosed, ws.State())
	require.NoError(t, ws.Close(), "idempotent")

	err = people.Add(ws, "c", named("c", "C"))
	assert.Equal(t, ErrCodeSessionClosed, CodeOf(err))
	assert.Equal(t, []string{"a=A", "b=B"}, names(t, people))
}

func TestWriteSession_CloseFlushes(t *testing.T) {
	db, _ := newTestDB(t)
	people := registerPeople(t, db)

	ws := db.BeginWrite(context.Background())
	require.NoError(t, people.Add(ws, "a", named("a", "A")))
	require.NoError(t, ws.Close())
	assert.Equal(t, []string{"a=A"}, names(t, people))
}

func TestWriteSession_CloseReportsFlushFailure(t *testing.T) {
	db, _ := newTestDB(t)
	people := registerPeople(t, db)

	ws := db.BeginWrite(context.Background())
	require.NoError(t, people.Remove(ws, "missing"))
	err := ws.Close()
	assert.True(t, IsNotFound(err))
	assert.Equal(t, StateClosed, ws.State())
}

func TestWriteSession_Discard(t *testing.T) {
	db, _ := newTestDB(t)
	people := registerPeople(t, db)

	ws := db.BeginWrite(context.Background())
	require.NoError(t, people.Add(ws, "a", named("a", "A")))
	ws.Discard()
	ws.Discard()
	assert.Equal(t, StateClosed, ws.State())
	assert.Empty(t, names(t, people))
}

func TestWrite_DiscardsOnError(t *testing.T) {
	db, _ := newTestDB(t)
	people := registerPeople(t, db)

	_, err := db.Write(context.Background(), func(ws *WriteSession) error {
		require.NoError(t, people.Add(ws, "a", named("a", "A")))
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)
	assert.Empty(t, names(t, people))
}

func TestWriteSession_OverlayReads(t *testing.T) {
	db, b := newTestDB(t)
	people := registerPeople(t, db)
	seed(t, people, named("b", "B0"), named("c", "C0"))
	before := len(b.Writes())

	ws := db.BeginWrite(context.Background())
	added := named("a", "A")
	require.NoError(t, people.Add(ws, "a", added))
	require.NoError(t, people.Update(ws, "b", rename("B1")))
	require.NoError(t, people.TryAdd(ws, "b", named("b", "ignored")))
	require.NoError(t, people.Remove(ws, "c"))
	require.NoError(t, people.Update(ws, "zz", rename("never")))

	got, err := people.Get(ws, "a")
	require.NoError(t, err)
	assert.Equal(t, "A", got.Name)
	assert.NotSame(t, added, got, "overlay values are detached")

	got, err = people.Get(ws, "b")
	require.NoError(t, err)
	assert.Equal(t, "B1", got.Name)

	ok, err := people.ContainsKey(ws, "c")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = people.ContainsKey(ws, "zz")
	require.NoError(t, err)
	assert.False(t, ok, "a failing update leaves the key absent")

	all, err := people.All(ws)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].Key)
	assert.Equal(t, "b", all[1].Key)
	assert.Equal(t, "B1", all[1].Value.Name)

	n, err := people.Count(ws)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Len(t, b.Writes(), before, "reads never write")
	assert.Equal(t, []string{"b=B0", "c=C0"}, names(t, people), "committed state untouched")
	ws.Discard()
}

func TestWriteSession_OverlayDoesNotLeakIntoCommittedValue(t *testing.T) {
	db, _ := newTestDB(t)
	people := registerPeople(t, db)
	seed(t, people, named("k", "old"))

	ws := db.BeginWrite(context.Background())
	require.NoError(t, people.Update(ws, "k", rename("new")))

	_, err := people.Get(ws, "k")
	require.NoError(t, err)
	_, err = people.Get(ws, "k")
	require.NoError(t, err)

	rs, err := ws.Flush()
	require.NoError(t, err)
	r := people.Results(rs)[0]
	assert.Equal(t, "old", r.Old.OrZero().Name)
	assert.Equal(t, "new", r.New.OrZero().Name)
}

func TestSessionState_String(t *testing.T) {
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "flushing", StateFlushing.String())
	assert.Equal(t, "committed", StateCommitted.String())
	assert.Equal(t, "rolled_back", StateRolledBack.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "state(42)", SessionState(42).String())
}
