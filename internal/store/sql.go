package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

func (d dialect) String() string {
	if d == dialectPostgres {
		return "postgres"
	}
	return "sqlite"
}

// rebind rewrites ? placeholders to $n for Postgres.
func (d dialect) rebind(query string) string {
	if d != dialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// collate returns the binary collation clause used for deterministic scans.
func (d dialect) collate() string {
	if d == dialectPostgres {
		return `COLLATE "C"`
	}
	return "COLLATE BINARY"
}

func (d dialect) tableDDL(table string) string {
	payloadType := "BLOB"
	if d == dialectPostgres {
		payloadType = "BYTEA"
	}
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		record_key TEXT PRIMARY KEY,
		payload %s NOT NULL
	)`, table, payloadType)
}

// querier is the subset of *sql.DB and *sql.Tx used by sqlReader.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type sqlReader struct {
	q       querier
	dialect dialect
}

func (r *sqlReader) Get(ctx context.Context, table, key string) ([]byte, bool, error) {
	if err := ValidateTableName(table); err != nil {
		return nil, false, fmt.Errorf("get %s: %w", table, err)
	}

	query := r.dialect.rebind(fmt.Sprintf(`SELECT payload FROM %s WHERE record_key = ?`, table))
	var payload []byte
	err := r.q.QueryRowContext(ctx, query, key).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s/%s: %w", table, key, err)
	}
	return payload, true, nil
}

// Scan buffers the whole table before calling fn, so fn may issue further
// reads on the same connection.
func (r *sqlReader) Scan(ctx context.Context, table string, fn func(key string, payload []byte) error) error {
	if err := ValidateTableName(table); err != nil {
		return fmt.Errorf("scan %s: %w", table, err)
	}

	type row struct {
		key     string
		payload []byte
	}

	query := fmt.Sprintf(`SELECT record_key, payload FROM %s ORDER BY record_key %s ASC`, table, r.dialect.collate())
	rows, err := r.q.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("scan %s: %w", table, err)
	}

	var buffered []row
	for rows.Next() {
		var rw row
		if err := rows.Scan(&rw.key, &rw.payload); err != nil {
			rows.Close()
			return fmt.Errorf("scan %s: %w", table, err)
		}
		buffered = append(buffered, rw)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("iterate %s: %w", table, err)
	}
	rows.Close()

	for _, rw := range buffered {
		if err := fn(rw.key, rw.payload); err != nil {
			return err
		}
	}
	return nil
}

func (r *sqlReader) Count(ctx context.Context, table string) (int, error) {
	if err := ValidateTableName(table); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	var n int
	if err := r.q.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

type sqlTxn struct {
	sqlReader
	tx   *sql.Tx
	done bool
}

func (t *sqlTxn) Get(ctx context.Context, table, key string) ([]byte, bool, error) {
	if t.done {
		return nil, false, ErrClosed
	}
	return t.sqlReader.Get(ctx, table, key)
}

func (t *sqlTxn) Scan(ctx context.Context, table string, fn func(key string, payload []byte) error) error {
	if t.done {
		return ErrClosed
	}
	return t.sqlReader.Scan(ctx, table, fn)
}

func (t *sqlTxn) Count(ctx context.Context, table string) (int, error) {
	if t.done {
		return 0, ErrClosed
	}
	return t.sqlReader.Count(ctx, table)
}

// Insert uses ON CONFLICT DO NOTHING and reports ErrDuplicateKey when no row
// was written, so a conflict never poisons the surrounding transaction.
func (t *sqlTxn) Insert(ctx context.Context, table, key string, payload []byte) error {
	if t.done {
		return ErrClosed
	}
	if err := ValidateTableName(table); err != nil {
		return fmt.Errorf("insert %s: %w", table, err)
	}

	query := t.dialect.rebind(fmt.Sprintf(`
		INSERT INTO %s (record_key, payload) VALUES (?, ?)
		ON CONFLICT (record_key) DO NOTHING
	`, table))
	res, err := t.tx.ExecContext(ctx, query, key, payload)
	if err != nil {
		return fmt.Errorf("insert %s/%s: %w", table, key, err)
	}
	return expectOneRow(res, fmt.Sprintf("insert %s/%s", table, key), ErrDuplicateKey)
}

func (t *sqlTxn) Update(ctx context.Context, table, key string, payload []byte) error {
	if t.done {
		return ErrClosed
	}
	if err := ValidateTableName(table); err != nil {
		return fmt.Errorf("update %s: %w", table, err)
	}

	query := t.dialect.rebind(fmt.Sprintf(`UPDATE %s SET payload = ? WHERE record_key = ?`, table))
	res, err := t.tx.ExecContext(ctx, query, payload, key)
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", table, key, err)
	}
	return expectOneRow(res, fmt.Sprintf("update %s/%s", table, key), ErrNotFound)
}

func (t *sqlTxn) Delete(ctx context.Context, table, key string) error {
	if t.done {
		return ErrClosed
	}
	if err := ValidateTableName(table); err != nil {
		return fmt.Errorf("delete %s: %w", table, err)
	}

	query := t.dialect.rebind(fmt.Sprintf(`DELETE FROM %s WHERE record_key = ?`, table))
	res, err := t.tx.ExecContext(ctx, query, key)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", table, key, err)
	}
	return expectOneRow(res, fmt.Sprintf("delete %s/%s", table, key), ErrNotFound)
}

func (t *sqlTxn) Commit() error {
	if t.done {
		return ErrClosed
	}
	t.done = true
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (t *sqlTxn) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

func expectOneRow(res sql.Result, op string, none error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, none)
	}
	return nil
}
