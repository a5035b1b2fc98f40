package store

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestTxn_InsertAndGet(t *testing.T) {
	s := createTestStore(t, "people")
	ctx := context.Background()

	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin() failed: %v", err)
	}
	defer tx.Rollback()

	if err := tx.Insert(ctx, "people", "ada", []byte("v1")); err != nil {
		t.Fatalf("Insert() failed: %v", err)
	}

	// Visible inside the transaction.
	payload, found, err := tx.Get(ctx, "people", "ada")
	if err != nil || !found || string(payload) != "v1" {
		t.Fatalf("tx.Get() = %q, %v, %v; want v1", payload, found, err)
	}

	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit() failed: %v", err)
	}

	payload, found, err = s.Reader().Get(ctx, "people", "ada")
	if err != nil || !found || string(payload) != "v1" {
		t.Errorf("Reader().Get() = %q, %v, %v; want v1", payload, found, err)
	}
}

func TestTxn_InsertDuplicate(t *testing.T) {
	s := createTestStore(t, "people")
	ctx := context.Background()
	mustInsert(t, s, "people", "ada", "v1")

	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin() failed: %v", err)
	}
	defer tx.Rollback()

	err = tx.Insert(ctx, "people", "ada", []byte("v2"))
	if !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("Insert() error = %v, want ErrDuplicateKey", err)
	}

	// The transaction stays usable after a duplicate.
	if err := tx.Insert(ctx, "people", "bob", []byte("v1")); err != nil {
		t.Fatalf("Insert() after duplicate failed: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit() failed: %v", err)
	}

	payload, _, _ := s.Reader().Get(ctx, "people", "ada")
	if string(payload) != "v1" {
		t.Errorf("duplicate insert overwrote payload: %q", payload)
	}
}

func TestTxn_UpdateAndDeleteMissing(t *testing.T) {
	s := createTestStore(t, "people")
	ctx := context.Background()

	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin() failed: %v", err)
	}
	defer tx.Rollback()

	if err := tx.Update(ctx, "people", "ghost", []byte("x")); !errors.Is(err, ErrNotFound) {
		t.Errorf("Update() error = %v, want ErrNotFound", err)
	}
	if err := tx.Delete(ctx, "people", "ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Delete() error = %v, want ErrNotFound", err)
	}
}

func TestTxn_UpdateSamePayloadCountsAsWritten(t *testing.T) {
	s := createTestStore(t, "people")
	ctx := context.Background()
	mustInsert(t, s, "people", "ada", "v1")

	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin() failed: %v", err)
	}
	defer tx.Rollback()

	if err := tx.Update(ctx, "people", "ada", []byte("v1")); err != nil {
		t.Errorf("Update() with unchanged payload failed: %v", err)
	}
}

func TestTxn_RollbackDiscardsWrites(t *testing.T) {
	s := createTestStore(t, "people")
	ctx := context.Background()
	mustInsert(t, s, "people", "ada", "v1")

	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin() failed: %v", err)
	}
	if err := tx.Insert(ctx, "people", "bob", []byte("v1")); err != nil {
		t.Fatalf("Insert() failed: %v", err)
	}
	if err := tx.Update(ctx, "people", "ada", []byte("v2")); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("Rollback() failed: %v", err)
	}

	keys := scanKeys(t, s.Reader(), "people")
	if strings.Join(keys, ",") != "ada" {
		t.Errorf("keys after rollback = %v, want [ada]", keys)
	}
	payload, _, _ := s.Reader().Get(ctx, "people", "ada")
	if string(payload) != "v1" {
		t.Errorf("payload after rollback = %q, want v1", payload)
	}
}

func TestTxn_FinishedTransaction(t *testing.T) {
	s := createTestStore(t, "people")
	ctx := context.Background()

	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin() failed: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit() failed: %v", err)
	}

	if err := tx.Rollback(); err != nil {
		t.Errorf("Rollback() after Commit() = %v, want nil", err)
	}
	if err := tx.Commit(); !errors.Is(err, ErrClosed) {
		t.Errorf("second Commit() = %v, want ErrClosed", err)
	}
	if err := tx.Insert(ctx, "people", "ada", nil); !errors.Is(err, ErrClosed) {
		t.Errorf("Insert() after Commit() = %v, want ErrClosed", err)
	}
	if _, _, err := tx.Get(ctx, "people", "ada"); !errors.Is(err, ErrClosed) {
		t.Errorf("Get() after Commit() = %v, want ErrClosed", err)
	}
}

func TestReader_ScanOrdersByBinaryKey(t *testing.T) {
	s := createTestStore(t, "people")
	for _, k := range []string{"b", "B", "a", "ä", "A10", "A2"} {
		mustInsert(t, s, "people", k, "{}")
	}

	keys := scanKeys(t, s.Reader(), "people")
	want := "A10,A2,B,a,b,ä"
	if strings.Join(keys, ",") != want {
		t.Errorf("scan order = %v, want %s", keys, want)
	}
}

func TestReader_ScanStopsOnCallbackError(t *testing.T) {
	s := createTestStore(t, "people")
	mustInsert(t, s, "people", "a", "{}")
	mustInsert(t, s, "people", "b", "{}")

	stop := errors.New("stop")
	calls := 0
	err := s.Reader().Scan(context.Background(), "people", func(string, []byte) error {
		calls++
		return stop
	})
	if !errors.Is(err, stop) {
		t.Errorf("Scan() error = %v, want stop", err)
	}
	if calls != 1 {
		t.Errorf("callback ran %d times, want 1", calls)
	}
}

func TestReader_ScanAllowsNestedReads(t *testing.T) {
	s := createTestStore(t, "people")
	mustInsert(t, s, "people", "a", "x")
	ctx := context.Background()
	r := s.Reader()

	err := r.Scan(ctx, "people", func(key string, _ []byte) error {
		_, _, err := r.Get(ctx, "people", key)
		return err
	})
	if err != nil {
		t.Errorf("nested Get() during Scan() failed: %v", err)
	}
}

func TestReader_CountAndMissing(t *testing.T) {
	s := createTestStore(t, "people")
	ctx := context.Background()
	mustInsert(t, s, "people", "a", "{}")
	mustInsert(t, s, "people", "b", "{}")

	n, err := s.Reader().Count(ctx, "people")
	if err != nil || n != 2 {
		t.Errorf("Count() = %d, %v; want 2", n, err)
	}

	_, found, err := s.Reader().Get(ctx, "people", "zzz")
	if err != nil || found {
		t.Errorf("Get(missing) = found %v, err %v; want not found", found, err)
	}
}

func TestReader_RejectsInvalidTable(t *testing.T) {
	s := createTestStore(t)
	_, _, err := s.Reader().Get(context.Background(), "x; DROP TABLE y", "k")
	if !errors.Is(err, ErrInvalidTable) {
		t.Errorf("Get() error = %v, want ErrInvalidTable", err)
	}
}

func TestDialect_Rebind(t *testing.T) {
	q := "UPDATE t SET payload = ? WHERE record_key = ?"
	if got := dialectSQLite.rebind(q); got != q {
		t.Errorf("sqlite rebind = %q, want unchanged", got)
	}
	want := "UPDATE t SET payload = $1 WHERE record_key = $2"
	if got := dialectPostgres.rebind(q); got != want {
		t.Errorf("postgres rebind = %q, want %q", got, want)
	}
}

func TestDialect_TableDDL(t *testing.T) {
	if ddl := dialectPostgres.tableDDL("people"); !strings.Contains(ddl, "BYTEA") {
		t.Errorf("postgres DDL missing BYTEA: %s", ddl)
	}
	if ddl := dialectSQLite.tableDDL("people"); !strings.Contains(ddl, "BLOB") {
		t.Errorf("sqlite DDL missing BLOB: %s", ddl)
	}
}
