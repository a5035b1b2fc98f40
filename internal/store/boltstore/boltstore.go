// Package boltstore is the embedded store.Backend over bbolt.
//
// Each dictionary table is a top-level bucket keyed by the encoded record key.
// bbolt iterates keys in byte order, which matches the binary collation the
// SQL backend uses for scans. Payload slices returned by bbolt are only valid
// inside their transaction, so every read copies them out.
package boltstore

import (
	"bytes"
	"cmp"
	"context"
	"encoding/binary"
	"fmt"
	"path/filepath"
	"slices"
	"time"

	"go.etcd.io/bbolt"

	"github.com/roach88/txdict/internal/store"
)

var registryBucket = []byte(store.ReservedPrefix + "tables")

// Options configures Open.
type Options struct {
	// Timeout bounds waiting for the file lock. Zero means 10 seconds.
	Timeout time.Duration
	// NoSync skips fsync after commit. Only for tests.
	NoSync bool
}

// Store is a bbolt-backed store.Backend.
type Store struct {
	bdb *bbolt.DB
	id  string
}

var _ store.Backend = (*Store)(nil)

// Open creates or opens the bbolt file at path.
func Open(path string, opt Options) (*Store, error) {
	bopt := &bbolt.Options{}
	*bopt = *bbolt.DefaultOptions
	bopt.Timeout = opt.Timeout
	if bopt.Timeout == 0 {
		bopt.Timeout = 10 * time.Second
	}
	if opt.NoSync {
		bopt.NoSync = true
		bopt.NoFreelistSync = true
	}

	bdb, err := bbolt.Open(path, 0666, bopt)
	if err != nil {
		return nil, fmt.Errorf("boltstore: %w", err)
	}

	err = bdb.Update(func(btx *bbolt.Tx) error {
		_, err := btx.CreateBucketIfNotExists(registryBucket)
		return err
	})
	if err != nil {
		bdb.Close()
		return nil, fmt.Errorf("boltstore: create registry: %w", err)
	}

	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return &Store{bdb: bdb, id: "bolt:" + path}, nil
}

// Bolt exposes the underlying database.
func (s *Store) Bolt() *bbolt.DB {
	return s.bdb
}

func (s *Store) ID() string {
	return s.id
}

func (s *Store) Close() error {
	return s.bdb.Close()
}

// Reader returns a reader that opens a read-only bbolt transaction per call.
func (s *Store) Reader() store.Reader {
	return viewReader{bdb: s.bdb}
}

// Begin starts a writable bbolt transaction. bbolt allows one writer at a
// time, so Begin blocks while another write transaction is open.
func (s *Store) Begin(ctx context.Context) (store.Txn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	btx, err := s.bdb.Begin(true)
	if err != nil {
		return nil, fmt.Errorf("boltstore: begin: %w", err)
	}
	return &txn{btx: btx}, nil
}

// Migrate creates a bucket per table and records it in the registry.
func (s *Store) Migrate(ctx context.Context, tables []string) error {
	for _, table := range tables {
		if err := store.ValidateTableName(table); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return s.bdb.Update(func(btx *bbolt.Tx) error {
		reg := btx.Bucket(registryBucket)
		for _, table := range tables {
			if _, err := btx.CreateBucketIfNotExists([]byte(table)); err != nil {
				return fmt.Errorf("migrate: create bucket %s: %w", table, err)
			}
			if reg.Get([]byte(table)) != nil {
				continue
			}
			seq, err := reg.NextSequence()
			if err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			var v [8]byte
			binary.BigEndian.PutUint64(v[:], seq)
			if err := reg.Put([]byte(table), v[:]); err != nil {
				return fmt.Errorf("migrate: register %s: %w", table, err)
			}
		}
		return nil
	})
}

// Tables returns the registered tables in creation order.
func (s *Store) Tables(ctx context.Context) ([]string, error) {
	type entry struct {
		name string
		seq  uint64
	}
	var entries []entry
	err := s.bdb.View(func(btx *bbolt.Tx) error {
		return btx.Bucket(registryBucket).ForEach(func(k, v []byte) error {
			entries = append(entries, entry{name: string(k), seq: binary.BigEndian.Uint64(v)})
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("tables: %w", err)
	}

	slices.SortFunc(entries, func(a, b entry) int { return cmp.Compare(a.seq, b.seq) })
	tables := make([]string, len(entries))
	for i, e := range entries {
		tables[i] = e.name
	}
	return tables, nil
}

func bucket(btx *bbolt.Tx, table string) (*bbolt.Bucket, error) {
	if err := store.ValidateTableName(table); err != nil {
		return nil, err
	}
	b := btx.Bucket([]byte(table))
	if b == nil {
		return nil, fmt.Errorf("boltstore: table %s does not exist", table)
	}
	return b, nil
}

func get(btx *bbolt.Tx, table, key string) ([]byte, bool, error) {
	b, err := bucket(btx, table)
	if err != nil {
		return nil, false, fmt.Errorf("get %s: %w", table, err)
	}
	v := b.Get([]byte(key))
	if v == nil {
		return nil, false, nil
	}
	return bytes.Clone(v), true, nil
}

// scan copies the bucket before invoking fn so fn may not observe bbolt
// memory after the transaction ends.
func scan(btx *bbolt.Tx, table string) ([][2][]byte, error) {
	b, err := bucket(btx, table)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", table, err)
	}
	var rows [][2][]byte
	c := b.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		rows = append(rows, [2][]byte{bytes.Clone(k), bytes.Clone(v)})
	}
	return rows, nil
}

func count(btx *bbolt.Tx, table string) (int, error) {
	b, err := bucket(btx, table)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return b.Stats().KeyN, nil
}

type viewReader struct {
	bdb *bbolt.DB
}

func (r viewReader) Get(ctx context.Context, table, key string) (payload []byte, found bool, err error) {
	err = r.bdb.View(func(btx *bbolt.Tx) error {
		payload, found, err = get(btx, table, key)
		return err
	})
	return payload, found, err
}

func (r viewReader) Scan(ctx context.Context, table string, fn func(key string, payload []byte) error) error {
	var rows [][2][]byte
	err := r.bdb.View(func(btx *bbolt.Tx) error {
		var err error
		rows, err = scan(btx, table)
		return err
	})
	if err != nil {
		return err
	}
	for _, row := range rows {
		if err := fn(string(row[0]), row[1]); err != nil {
			return err
		}
	}
	return nil
}

func (r viewReader) Count(ctx context.Context, table string) (n int, err error) {
	err = r.bdb.View(func(btx *bbolt.Tx) error {
		n, err = count(btx, table)
		return err
	})
	return n, err
}

type txn struct {
	btx  *bbolt.Tx
	done bool
}

func (t *txn) Get(ctx context.Context, table, key string) ([]byte, bool, error) {
	if t.done {
		return nil, false, store.ErrClosed
	}
	return get(t.btx, table, key)
}

func (t *txn) Scan(ctx context.Context, table string, fn func(key string, payload []byte) error) error {
	if t.done {
		return store.ErrClosed
	}
	rows, err := scan(t.btx, table)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if err := fn(string(row[0]), row[1]); err != nil {
			return err
		}
	}
	return nil
}

func (t *txn) Count(ctx context.Context, table string) (int, error) {
	if t.done {
		return 0, store.ErrClosed
	}
	return count(t.btx, table)
}

func (t *txn) Insert(ctx context.Context, table, key string, payload []byte) error {
	if t.done {
		return store.ErrClosed
	}
	b, err := bucket(t.btx, table)
	if err != nil {
		return fmt.Errorf("insert %s: %w", table, err)
	}
	if b.Get([]byte(key)) != nil {
		return fmt.Errorf("insert %s/%s: %w", table, key, store.ErrDuplicateKey)
	}
	if err := b.Put([]byte(key), bytes.Clone(payload)); err != nil {
		return fmt.Errorf("insert %s/%s: %w", table, key, err)
	}
	return nil
}

func (t *txn) Update(ctx context.Context, table, key string, payload []byte) error {
	if t.done {
		return store.ErrClosed
	}
	b, err := bucket(t.btx, table)
	if err != nil {
		return fmt.Errorf("update %s: %w", table, err)
	}
	if b.Get([]byte(key)) == nil {
		return fmt.Errorf("update %s/%s: %w", table, key, store.ErrNotFound)
	}
	if err := b.Put([]byte(key), bytes.Clone(payload)); err != nil {
		return fmt.Errorf("update %s/%s: %w", table, key, err)
	}
	return nil
}

func (t *txn) Delete(ctx context.Context, table, key string) error {
	if t.done {
		return store.ErrClosed
	}
	b, err := bucket(t.btx, table)
	if err != nil {
		return fmt.Errorf("delete %s: %w", table, err)
	}
	if b.Get([]byte(key)) == nil {
		return fmt.Errorf("delete %s/%s: %w", table, key, store.ErrNotFound)
	}
	if err := b.Delete([]byte(key)); err != nil {
		return fmt.Errorf("delete %s/%s: %w", table, key, err)
	}
	return nil
}

func (t *txn) Commit() error {
	if t.done {
		return store.ErrClosed
	}
	t.done = true
	if err := t.btx.Commit(); err != nil {
		return fmt.Errorf("boltstore: commit: %w", err)
	}
	return nil
}

// Rollback is a no-op once the transaction has finished.
func (t *txn) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	if err := t.btx.Rollback(); err != nil && err != bbolt.ErrTxClosed {
		return fmt.Errorf("boltstore: rollback: %w", err)
	}
	return nil
}
