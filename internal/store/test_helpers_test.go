package store

import (
	"context"
	"path/filepath"
	"testing"
)

// createTestStore creates a file-backed store with the given tables migrated.
func createTestStore(t *testing.T, tables ...string) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if len(tables) > 0 {
		if err := s.Migrate(context.Background(), tables); err != nil {
			t.Fatalf("Migrate() failed: %v", err)
		}
	}
	return s
}

// mustInsert writes one record in its own committed transaction.
func mustInsert(t *testing.T, b Backend, table, key, payload string) {
	t.Helper()
	ctx := context.Background()
	tx, err := b.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin() failed: %v", err)
	}
	defer tx.Rollback()
	if err := tx.Insert(ctx, table, key, []byte(payload)); err != nil {
		t.Fatalf("Insert(%s, %s) failed: %v", table, key, err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit() failed: %v", err)
	}
}

// scanKeys returns the keys of table in scan order.
func scanKeys(t *testing.T, r Reader, table string) []string {
	t.Helper()
	keys := []string{}
	err := r.Scan(context.Background(), table, func(key string, _ []byte) error {
		keys = append(keys, key)
		return nil
	})
	if err != nil {
		t.Fatalf("Scan(%s) failed: %v", table, err)
	}
	return keys
}
