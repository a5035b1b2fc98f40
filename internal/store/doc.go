// Package store provides the durable backing stores behind txdict dictionaries.
//
// Every logical dictionary is persisted as one keyed record table:
//
//	record_key TEXT PRIMARY KEY   -- key encoded by a codec.KeyCodec
//	payload    BLOB NOT NULL      -- record encoded by a codec.Codec
//
// The store never interprets payloads. Mapping records to domain objects,
// change tracking and the flush protocol live in internal/txdict; this package
// only offers keyed find/insert/update/delete inside a transaction, plus
// non-transactional reads for read views.
//
// # Backends
//
//   - Store (this package): database/sql backend for SQLite (mattn/go-sqlite3)
//     and Postgres (jackc/pgx/v5 stdlib driver).
//   - boltstore.Store: embedded bbolt backend.
//
// # SQLite Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// # Deterministic Scans
//
// Scan always returns rows ordered by record_key using binary collation, so
// every backend enumerates a table in the same order.
package store
