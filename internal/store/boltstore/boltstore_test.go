package boltstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/txdict/internal/store"
)

func openTestStore(t *testing.T, tables ...string) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.bolt"), Options{NoSync: true})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	if len(tables) > 0 {
		require.NoError(t, s.Migrate(context.Background(), tables))
	}
	return s
}

func insert(t *testing.T, s *Store, table, key, payload string) {
	t.Helper()
	ctx := context.Background()
	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback()
	require.NoError(t, tx.Insert(ctx, table, key, []byte(payload)))
	require.NoError(t, tx.Commit())
}

func keys(t *testing.T, r store.Reader, table string) []string {
	t.Helper()
	var out []string
	require.NoError(t, r.Scan(context.Background(), table, func(k string, _ []byte) error {
		out = append(out, k)
		return nil
	}))
	return out
}

func TestMigrate_RegistersTablesOnce(t *testing.T) {
	s := openTestStore(t, "people")
	ctx := context.Background()

	require.NoError(t, s.Migrate(ctx, []string{"tasks", "people"}))

	tables, err := s.Tables(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"people", "tasks"}, tables)
}

func TestMigrate_RejectsInvalidName(t *testing.T) {
	s := openTestStore(t)
	err := s.Migrate(context.Background(), []string{"Bad-Name"})
	assert.ErrorIs(t, err, store.ErrInvalidTable)
}

func TestTxn_InsertUpdateDelete(t *testing.T) {
	s := openTestStore(t, "people")
	ctx := context.Background()
	insert(t, s, "people", "ada", "v1")

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	assert.ErrorIs(t, tx.Insert(ctx, "people", "ada", []byte("v2")), store.ErrDuplicateKey)
	assert.ErrorIs(t, tx.Update(ctx, "people", "bob", []byte("v2")), store.ErrNotFound)
	assert.ErrorIs(t, tx.Delete(ctx, "people", "bob"), store.ErrNotFound)

	require.NoError(t, tx.Update(ctx, "people", "ada", []byte("v2")))
	require.NoError(t, tx.Insert(ctx, "people", "bob", []byte("v1")))
	require.NoError(t, tx.Delete(ctx, "people", "bob"))

	payload, found, err := tx.Get(ctx, "people", "ada")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "v2", string(payload))

	require.NoError(t, tx.Commit())

	payload, found, err = s.Reader().Get(ctx, "people", "ada")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "v2", string(payload))

	_, found, err = s.Reader().Get(ctx, "people", "bob")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestTxn_RollbackDiscards(t *testing.T) {
	s := openTestStore(t, "people")
	ctx := context.Background()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Insert(ctx, "people", "ada", []byte("v1")))
	require.NoError(t, tx.Rollback())
	require.NoError(t, tx.Rollback(), "second rollback is a no-op")

	n, err := s.Reader().Count(ctx, "people")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestTxn_UseAfterCommit(t *testing.T) {
	s := openTestStore(t, "people")
	ctx := context.Background()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	assert.NoError(t, tx.Rollback())
	assert.ErrorIs(t, tx.Commit(), store.ErrClosed)
	assert.ErrorIs(t, tx.Insert(ctx, "people", "a", []byte("x")), store.ErrClosed)
}

func TestReader_ScanOrderAndCount(t *testing.T) {
	s := openTestStore(t, "people")
	for _, k := range []string{"b", "B", "a", "A2", "A10"} {
		insert(t, s, "people", k, "{}")
	}

	assert.Equal(t, []string{"A10", "A2", "B", "a", "b"}, keys(t, s.Reader(), "people"))

	n, err := s.Reader().Count(context.Background(), "people")
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestReader_ScanCallbackError(t *testing.T) {
	s := openTestStore(t, "people")
	insert(t, s, "people", "a", "{}")
	insert(t, s, "people", "b", "{}")

	stop := errors.New("stop")
	calls := 0
	err := s.Reader().Scan(context.Background(), "people", func(string, []byte) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestReader_MissingTable(t *testing.T) {
	s := openTestStore(t)
	_, _, err := s.Reader().Get(context.Background(), "ghosts", "a")
	assert.Error(t, err)
}

func TestReader_PayloadOutlivesTransaction(t *testing.T) {
	s := openTestStore(t, "people")
	insert(t, s, "people", "a", "payload-a")

	payload, _, err := s.Reader().Get(context.Background(), "people", "a")
	require.NoError(t, err)

	// Later writes must not alias the returned slice.
	insert(t, s, "people", "b", "payload-b")
	assert.Equal(t, "payload-a", string(payload))
}

func TestOpen_IDIsAbsolutePath(t *testing.T) {
	s := openTestStore(t)
	assert.True(t, filepath.IsAbs(s.ID()[len("bolt:"):]))
}
