package txdict

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/txdict/internal/codec"
	"github.com/roach88/txdict/internal/store"
)

type person struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Age  int    `json:"age"`
}

func named(id, name string) *person {
	return &person{ID: id, Name: name}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// countingBackend records migrations and row writes issued to the wrapped
// backend.
type countingBackend struct {
	store.Backend

	mu         sync.Mutex
	migrations int
	writes     []string
	commitErr  error
}

func (b *countingBackend) Migrate(ctx context.Context, tables []string) error {
	b.mu.Lock()
	b.migrations++
	b.mu.Unlock()
	return b.Backend.Migrate(ctx, tables)
}

func (b *countingBackend) Begin(ctx context.Context) (store.Txn, error) {
	txn, err := b.Backend.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &countingTxn{Txn: txn, b: b}, nil
}

func (b *countingBackend) record(op, table, key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.writes = append(b.writes, fmt.Sprintf("%s %s/%s", op, table, key))
}

func (b *countingBackend) Writes() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string{}, b.writes...)
}

func (b *countingBackend) Migrations() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.migrations
}

type countingTxn struct {
	store.Txn
	b *countingBackend
}

func (t *countingTxn) Insert(ctx context.Context, table, key string, payload []byte) error {
	t.b.record("insert", table, key)
	return t.Txn.Insert(ctx, table, key, payload)
}

func (t *countingTxn) Update(ctx context.Context, table, key string, payload []byte) error {
	t.b.record("update", table, key)
	return t.Txn.Update(ctx, table, key, payload)
}

func (t *countingTxn) Delete(ctx context.Context, table, key string) error {
	t.b.record("delete", table, key)
	return t.Txn.Delete(ctx, table, key)
}

var errCommitFailed = errors.New("commit failed")

func (t *countingTxn) Commit() error {
	t.b.mu.Lock()
	err := t.b.commitErr
	t.b.mu.Unlock()
	if err != nil {
		return err
	}
	return t.Txn.Commit()
}

// newBackend opens a private in-memory SQLite backend.
func newBackend(t *testing.T) *countingBackend {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return &countingBackend{Backend: s}
}

func newTestDB(t *testing.T, opts ...Option) (*Database, *countingBackend) {
	t.Helper()
	b := newBackend(t)
	opts = append([]Option{WithLogger(discardLogger())}, opts...)
	db := Open(b, opts...)
	t.Cleanup(func() { db.Close() })
	return db, b
}

func registerPeople(t *testing.T, db *Database) *Dictionary[string, *person, person] {
	t.Helper()
	people, err := Register(db, Options[string, *person, person]{
		Name:    "people",
		Keys:    codec.StringKeys{},
		Mapping: IdentityMapping[string, person](),
		KeyOf:   func(p *person) string { return p.ID },
	})
	require.NoError(t, err)
	return people
}

// seed commits the given people in one flush.
func seed(t *testing.T, people *Dictionary[string, *person, person], ps ...*person) {
	t.Helper()
	_, err := people.Database().Write(context.Background(), func(ws *WriteSession) error {
		for _, p := range ps {
			if err := people.Add(ws, p.ID, p); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

// names returns id=name pairs of every committed person, in key order.
func names(t *testing.T, people *Dictionary[string, *person, person]) []string {
	t.Helper()
	out := []string{}
	err := people.Database().Read(context.Background(), func(v *ReadView) error {
		all, err := people.All(v)
		if err != nil {
			return err
		}
		for _, e := range all {
			out = append(out, e.Key+"="+e.Value.Name)
		}
		return nil
	})
	require.NoError(t, err)
	return out
}

// collector records delivered batches.
type collector struct {
	mu      sync.Mutex
	batches []Batch
}

func (c *collector) receive(b Batch) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = append(c.batches, b)
}

func (c *collector) Batches() []Batch {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Batch{}, c.batches...)
}

func (c *collector) Changes() []Change {
	var out []Change
	for _, b := range c.Batches() {
		out = append(out, b.Changes...)
	}
	return out
}
