package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"path/filepath"
	"sync/atomic"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking (SQLite only, via PRAGMA user_version):
// 0 - empty database
// 1 - txdict_tables registry
const currentSchemaVersion = 1

// memoryDBs numbers in-memory databases so each gets a distinct ID.
var memoryDBs atomic.Int64

// Store is the database/sql Backend. It keeps one record table per
// dictionary and never interprets payloads.
type Store struct {
	db      *sql.DB
	dialect dialect
	id      string
}

var _ Backend = (*Store)(nil)

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and the registry schema automatically.
// The path ":memory:" opens a private in-memory database.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
//
// This function is idempotent - safe to call multiple times.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time. A single connection also
	// keeps an in-memory database alive for the lifetime of the Store.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db, dialect: dialectSQLite, id: sqliteID(path)}, nil
}

func sqliteID(path string) string {
	if path == ":memory:" || path == "" {
		return fmt.Sprintf("sqlite::memory:#%d", memoryDBs.Add(1))
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return "sqlite:" + path
}

// ID identifies the database this Store addresses.
func (s *Store) ID() string {
	return s.id
}

// Close closes the database connection.
// Should be called when the store is no longer needed.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
// Use with caution - prefer using Store methods when available.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Reader returns a reader that runs each call in its own implicit transaction.
func (s *Store) Reader() Reader {
	return &sqlReader{q: s.db, dialect: s.dialect}
}

// Begin opens a writable transaction.
func (s *Store) Begin(ctx context.Context) (Txn, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &sqlTxn{sqlReader: sqlReader{q: tx, dialect: s.dialect}, tx: tx}, nil
}

// Migrate creates the record tables that do not exist yet and records them
// in the txdict_tables registry. All tables are created in one transaction.
func (s *Store) Migrate(ctx context.Context, tables []string) error {
	for _, table := range tables {
		if err := ValidateTableName(table); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("migrate: begin transaction: %w", err)
	}
	defer tx.Rollback()

	var next int64
	row := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(created_seq), 0) FROM txdict_tables`)
	if err := row.Scan(&next); err != nil {
		return fmt.Errorf("migrate: read registry: %w", err)
	}

	for _, table := range tables {
		if _, err := tx.ExecContext(ctx, s.dialect.tableDDL(table)); err != nil {
			return fmt.Errorf("migrate: create table %s: %w", table, err)
		}
		next++
		res, err := tx.ExecContext(ctx, s.dialect.rebind(`
			INSERT INTO txdict_tables (name, created_seq) VALUES (?, ?)
			ON CONFLICT (name) DO NOTHING
		`), table, next)
		if err != nil {
			return fmt.Errorf("migrate: register table %s: %w", table, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			next--
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("migrate: commit: %w", err)
	}
	return nil
}

// Tables returns the registered record tables in creation order.
func (s *Store) Tables(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM txdict_tables ORDER BY created_seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("query tables: %w", err)
	}
	defer rows.Close()

	tables := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tables: %w", err)
	}
	return tables, nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates the registry if it doesn't exist and stamps the
// schema version. This function is idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, currentSchemaVersion)
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
