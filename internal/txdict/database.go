package txdict

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/txdict/internal/store"
)

// MigrateFunc prepares storage before first use. It runs while the writer
// lock is held.
type MigrateFunc func(ctx context.Context) error

// Option configures a Database.
type Option func(*Database)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(db *Database) {
		db.logger = l
	}
}

// WithRegisterer registers the database's metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(db *Database) {
		db.reg = reg
	}
}

// WithMigration runs fn after the registered tables have been created, at
// most once per backend in this process. Dictionaries registered later get
// their tables without running fn again.
func WithMigration(fn MigrateFunc) Option {
	return func(db *Database) {
		db.migrate = fn
	}
}

// WithClock sets the clock that stamps committed changes.
func WithClock(c *Clock) Option {
	return func(db *Database) {
		db.clock = c
	}
}

// Database coordinates every dictionary registered on one backend: it owns
// the reader/writer lock, runs schema preparation, flushes write sessions
// and publishes committed changes.
type Database struct {
	mu sync.RWMutex

	backend  store.Backend
	logger   *slog.Logger
	reg      prometheus.Registerer
	metrics  *metrics
	clock    *Clock
	batches  *Clock
	notifier *Notifier
	migrate  MigrateFunc

	regMu sync.Mutex
	dicts map[string]dictCore

	migrated atomic.Bool
	closed   atomic.Bool
}

// Open creates a Database over backend. Storage is prepared lazily on first
// read or flush, or eagerly through Migrate.
func Open(backend store.Backend, opts ...Option) *Database {
	db := &Database{
		backend: backend,
		logger:  slog.Default(),
		clock:   NewClock(),
		batches: NewClock(),
		dicts:   make(map[string]dictCore),
	}
	for _, opt := range opts {
		opt(db)
	}
	db.metrics = newMetrics(db.reg)
	db.notifier = newNotifier(db.logger, db.metrics)
	return db
}

// Backend returns the backing store.
func (db *Database) Backend() store.Backend {
	return db.backend
}

// LastSeq returns the sequence number of the most recent committed change.
func (db *Database) LastSeq() int64 {
	return db.clock.Current()
}

func (db *Database) register(d dictCore) error {
	db.regMu.Lock()
	defer db.regMu.Unlock()

	if _, dup := db.dicts[d.Name()]; dup {
		return newError(ErrCodeInvalid, d.Name(), "", "dictionary already registered")
	}
	db.dicts[d.Name()] = d
	db.migrated.Store(false)
	return nil
}

// Tables returns the names of the registered dictionaries, sorted.
func (db *Database) Tables() []string {
	db.regMu.Lock()
	defer db.regMu.Unlock()

	names := make([]string, 0, len(db.dicts))
	for name := range db.dicts {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// migrations records which backing stores have been prepared in this
// process. tables gates the idempotent table DDL per table set; hooks gates
// the MigrateFunc per backend.
var migrations = struct {
	mu     sync.Mutex
	tables map[string]bool
	hooks  map[string]bool
}{tables: make(map[string]bool), hooks: make(map[string]bool)}

func (db *Database) gateKey(tables []string) string {
	return db.backend.ID() + "|" + strings.Join(tables, ",")
}

// ensureMigrated prepares storage unless that already happened.
func (db *Database) ensureMigrated(ctx context.Context) error {
	if db.migrated.Load() {
		return nil
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.migrateLocked(ctx)
}

// migrateLocked must be called with the writer lock held.
func (db *Database) migrateLocked(ctx context.Context) error {
	if db.migrated.Load() {
		return nil
	}
	tables := db.Tables()
	tableKey := db.gateKey(tables)
	hookKey := db.backend.ID()

	migrations.mu.Lock()
	defer migrations.mu.Unlock()

	runTables := !migrations.tables[tableKey]
	runHook := db.migrate != nil && !migrations.hooks[hookKey]
	if runTables || runHook {
		start := time.Now()
		if runTables {
			if err := db.backend.Migrate(ctx, tables); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			migrations.tables[tableKey] = true
		}
		if runHook {
			if err := db.migrate(ctx); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			migrations.hooks[hookKey] = true
		}
		db.metrics.migrations.Inc()
		db.logger.Info("storage prepared",
			"backend", hookKey,
			"tables", tables,
			"hook", runHook,
			"elapsed", time.Since(start))
	}
	db.migrated.Store(true)
	return nil
}

func (db *Database) checkOpen() error {
	if db.closed.Load() {
		return newError(ErrCodeSessionClosed, "", "", "database is closed")
	}
	return nil
}

// Migrate prepares storage now instead of on first use.
func (db *Database) Migrate(ctx context.Context) error {
	return db.ensureMigrated(ctx)
}

// flush applies batch atomically and publishes the committed changes.
// Cancelling ctx does not abort it.
func (db *Database) flush(ctx context.Context, batch []queued) ([]Result, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	ctx = context.WithoutCancel(ctx)
	subs := db.notifier.snapshot()

	start := time.Now()
	results, out, writes, err := db.flushExclusive(ctx, batch)
	elapsed := time.Since(start)
	if err != nil {
		db.metrics.observeFlush(outcomeRolledBack, elapsed, batch, 0)
		db.logger.Debug("flush rolled back",
			"intents", len(batch),
			"elapsed", elapsed,
			"error", err)
		return nil, err
	}

	db.metrics.observeFlush(outcomeCommitted, elapsed, batch, writes)
	db.logger.Debug("flush committed",
		"batch", out.Seq,
		"intents", len(batch),
		"writes", writes,
		"changes", len(out.Changes),
		"elapsed", elapsed)

	if len(out.Changes) > 0 {
		db.notifier.publish(subs, out)
	}
	return results, nil
}

func (db *Database) flushExclusive(ctx context.Context, batch []queued) ([]Result, Batch, int, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if err := db.migrateLocked(ctx); err != nil {
		return nil, Batch{}, 0, err
	}

	txn, err := db.backend.Begin(ctx)
	if err != nil {
		return nil, Batch{}, 0, fmt.Errorf("begin flush: %w", err)
	}
	defer txn.Rollback()

	tr := newTracker(txn)
	p := newFlushPass(ctx, tr)
	defer p.session.Reset()

	results := make([]Result, 0, len(batch))
	for i, q := range batch {
		r, err := q.execute(p)
		if err != nil {
			return nil, Batch{}, 0, intentError(err, i, q)
		}
		results = append(results, r)
	}

	writes, err := tr.persist(ctx)
	if err != nil {
		return nil, Batch{}, 0, err
	}
	if err := txn.Commit(); err != nil {
		return nil, Batch{}, 0, fmt.Errorf("commit flush: %w", err)
	}

	out := Batch{Seq: db.batches.Next(), Changes: []Change{}}
	for _, r := range results {
		if !r.changed() {
			continue
		}
		out.Changes = append(out.Changes, Change{
			Seq:        db.clock.Next(),
			Dictionary: r.Dictionary,
			Key:        r.Key,
			EncodedKey: r.EncodedKey,
			Kind:       r.Kind,
			Old:        r.Old,
			New:        r.New,
		})
	}
	return results, out, writes, nil
}

// intentError attaches the failing intent's position to err.
func intentError(err error, index int, q queued) error {
	if CodeOf(err) != "" {
		return atIndex(err, index)
	}
	return fmt.Errorf("intent %d (%s %s/%s): %w", index, q.kind(), q.dictName(), q.encodedKey(), err)
}

// Subscribe registers fn for every committed batch.
func (db *Database) Subscribe(fn Subscriber, opts ...SubscribeOption) *Subscription {
	return db.notifier.Subscribe(fn, opts...)
}

// Close stops further flushes and waits for async subscribers to drain.
// The backend is left open.
func (db *Database) Close() error {
	if db.closed.Swap(true) {
		return nil
	}
	db.notifier.Close()
	return nil
}
