package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	"github.com/sethvargo/go-retry"
)

const postgresDriver = "pgx"

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// PostgresOptions tunes OpenPostgres.
type PostgresOptions struct {
	// ConnectRetries bounds the number of ping retries while the server
	// comes up. Zero means no retries.
	ConnectRetries uint64
	// RetryBase is the base delay of the Fibonacci backoff.
	RetryBase time.Duration
}

// DefaultPostgresOptions retries the initial ping five times starting at one second.
func DefaultPostgresOptions() PostgresOptions {
	return PostgresOptions{ConnectRetries: 5, RetryBase: time.Second}
}

// OpenPostgres connects to Postgres through the pgx database/sql driver and
// applies the registry schema. The initial ping is retried with Fibonacci
// backoff per opts.
func OpenPostgres(ctx context.Context, dsn string, opts PostgresOptions) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("open postgres: empty dsn")
	}

	openMu.Lock()
	db, err := sqlOpen(postgresDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	base := opts.RetryBase
	if base <= 0 {
		base = time.Second
	}
	backoff := retry.WithMaxRetries(opts.ConnectRetries, retry.NewFibonacci(base))
	if err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := db.PingContext(ctx); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db, dialect: dialectPostgres, id: postgresID(dsn)}, nil
}

// postgresID hashes the DSN so credentials never appear in IDs or logs.
func postgresID(dsn string) string {
	sum := sha256.Sum256([]byte(dsn))
	return "postgres:" + hex.EncodeToString(sum[:8])
}
