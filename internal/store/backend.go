package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	// ErrNotFound is returned by Txn.Update and Txn.Delete when no record
	// exists under the key.
	ErrNotFound = errors.New("store: record not found")

	// ErrDuplicateKey is returned by Txn.Insert when a record already exists
	// under the key.
	ErrDuplicateKey = errors.New("store: duplicate key")

	// ErrInvalidTable is returned for table names that are not safe SQL
	// identifiers or that use the reserved "txdict_" prefix.
	ErrInvalidTable = errors.New("store: invalid table name")

	// ErrClosed is returned when a finished transaction is used again.
	ErrClosed = errors.New("store: transaction already finished")
)

// Reader is the read side of a backend. Implementations must be safe for
// concurrent use when obtained from Backend.Reader.
type Reader interface {
	// Get returns the payload stored under key. found is false when absent.
	Get(ctx context.Context, table, key string) (payload []byte, found bool, err error)

	// Scan calls fn for every record in table ordered by key.
	// Returning an error from fn stops the scan and returns that error.
	Scan(ctx context.Context, table string, fn func(key string, payload []byte) error) error

	// Count returns the number of records in table.
	Count(ctx context.Context, table string) (int, error)
}

// Txn is one writable store transaction. A Txn is not safe for concurrent use.
// Rollback after Commit (or a second Rollback) is a no-op, so callers can
// always defer Rollback.
type Txn interface {
	Reader

	Insert(ctx context.Context, table, key string, payload []byte) error
	Update(ctx context.Context, table, key string, payload []byte) error
	Delete(ctx context.Context, table, key string) error

	Commit() error
	Rollback() error
}

// Backend is the Backing Store Adapter consumed by txdict.
type Backend interface {
	// ID identifies the backing-store configuration. Two backends with the
	// same ID address the same durable data.
	ID() string

	// Reader returns a non-transactional reader.
	Reader() Reader

	// Begin opens a writable transaction.
	Begin(ctx context.Context) (Txn, error)

	// Migrate prepares storage for the given tables. It is idempotent.
	Migrate(ctx context.Context, tables []string) error

	Close() error
}

// ReservedPrefix is reserved for tables owned by the store itself.
const ReservedPrefix = "txdict_"

var tableNamePattern = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// ValidateTableName reports whether name can be used as a dictionary table.
func ValidateTableName(name string) error {
	if !tableNamePattern.MatchString(name) {
		return fmt.Errorf("%w: %q must match %s", ErrInvalidTable, name, tableNamePattern)
	}
	if strings.HasPrefix(name, ReservedPrefix) {
		return fmt.Errorf("%w: %q uses reserved prefix %q", ErrInvalidTable, name, ReservedPrefix)
	}
	return nil
}
