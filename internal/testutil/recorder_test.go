package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/txdict/internal/codec"
	"github.com/roach88/txdict/internal/store"
	"github.com/roach88/txdict/internal/txdict"
)

type note struct {
	Text string `json:"text"`
}

func TestRecorder_CollectsCommittedChanges(t *testing.T) {
	backend, err := store.Open(":memory:")
	require.NoError(t, err)
	defer backend.Close()

	db := txdict.Open(backend)
	defer db.Close()
	notes, err := txdict.Register(db, txdict.Options[string, *note, note]{
		Name:    "notes",
		Keys:    codec.StringKeys{},
		Mapping: txdict.IdentityMapping[string, note](),
	})
	require.NoError(t, err)

	rec := &Recorder{}
	db.Subscribe(rec.Receive)

	_, err = db.Write(context.Background(), func(ws *txdict.WriteSession) error {
		require.NoError(t, notes.Add(ws, "a", &note{Text: "x"}))
		return notes.Add(ws, "b", &note{Text: "y"})
	})
	require.NoError(t, err)

	require.Len(t, rec.Batches(), 1)
	changes := rec.Changes()
	require.Len(t, changes, 2)
	assert.Equal(t, "a", changes[0].EncodedKey)
	assert.Equal(t, txdict.ChangeAdd, changes[1].Kind)

	drained := rec.Drain()
	assert.Len(t, drained, 1)
	assert.Empty(t, rec.Batches())
	assert.Empty(t, rec.Changes())
}
