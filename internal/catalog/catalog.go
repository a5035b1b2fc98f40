// Package catalog wires a configured backend, codec and notifier into a
// txdict.Database of document dictionaries, and applies batches of
// operations against it.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/txdict/internal/codec"
	"github.com/roach88/txdict/internal/config"
	"github.com/roach88/txdict/internal/filter"
	"github.com/roach88/txdict/internal/notify"
	"github.com/roach88/txdict/internal/store"
	"github.com/roach88/txdict/internal/store/boltstore"
	"github.com/roach88/txdict/internal/txdict"
)

// ErrUnknownDictionary is returned for names that are not configured.
var ErrUnknownDictionary = errors.New("unknown dictionary")

// publishTimeout bounds one push of a batch to the external publisher.
const publishTimeout = 5 * time.Second

// Options are the process-level collaborators of a Catalog.
type Options struct {
	Logger     *slog.Logger
	Registerer prometheus.Registerer
	Keys       KeyGenerator
}

// Catalog is the set of document dictionaries named by the configuration.
type Catalog struct {
	backend   store.Backend
	db        *txdict.Database
	dicts     map[string]*Documents
	names     []string
	publisher notify.Publisher
	keys      KeyGenerator
	logger    *slog.Logger
}

// Open connects the configured backend and registers one dictionary per
// configured name. Storage is prepared lazily; call Migrate to do it now.
func Open(ctx context.Context, cfg config.Config, opts Options) (*Catalog, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Keys == nil {
		opts.Keys = UUIDv7Generator{}
	}

	recordCodec, err := codec.ByName[documentRecord](cfg.Codec)
	if err != nil {
		return nil, err
	}
	backend, err := OpenBackend(ctx, cfg.Backend)
	if err != nil {
		return nil, err
	}

	c := &Catalog{
		backend: backend,
		dicts:   make(map[string]*Documents),
		keys:    opts.Keys,
		logger:  opts.Logger,
	}
	c.db = txdict.Open(backend,
		txdict.WithLogger(opts.Logger),
		txdict.WithRegisterer(opts.Registerer))

	for _, name := range cfg.Dictionaries {
		d, err := txdict.Register(c.db, txdict.Options[string, *Document, documentRecord]{
			Name:    name,
			Keys:    codec.StringKeys{},
			Codec:   recordCodec,
			Mapping: documentMapping(),
			KeyOf:   func(doc *Document) string { return doc.Key },
		})
		if err != nil {
			c.Close()
			return nil, err
		}
		c.dicts[name] = d
		c.names = append(c.names, name)
	}

	if err := c.subscribe(cfg.Notify); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// OpenBackend opens the backing store named by cfg.
func OpenBackend(ctx context.Context, cfg config.Backend) (store.Backend, error) {
	switch cfg.Driver {
	case "sqlite":
		s, err := store.Open(cfg.DSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres":
		s, err := store.OpenPostgres(ctx, cfg.DSN, store.DefaultPostgresOptions())
		if err != nil {
			return nil, err
		}
		return s, nil
	case "bolt":
		s, err := boltstore.Open(cfg.DSN, boltstore.Options{Timeout: time.Second})
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown backend driver %q", cfg.Driver)
	}
}

func (c *Catalog) subscribe(cfg config.Notify) error {
	if cfg.Mode == "" || cfg.Mode == "off" {
		return nil
	}

	var opts []txdict.SubscribeOption
	if cfg.Mode == "async" {
		opts = append(opts, txdict.WithAsync())
	}
	if cfg.Filter != "" {
		f, err := filter.Compile(cfg.Filter)
		if err != nil {
			return err
		}
		opts = append(opts, txdict.WithFilter(f.Predicate(c.logger)))
	}

	if cfg.Redis.Addr == "" {
		c.db.Subscribe(logChanges(c.logger), opts...)
		return nil
	}

	ro := notify.DefaultRedisOptions()
	ro.Address = cfg.Redis.Addr
	ro.Password = cfg.Redis.Password
	ro.DB = cfg.Redis.DB
	if cfg.Redis.Channel != "" {
		ro.Channel = cfg.Redis.Channel
	}
	pub, err := notify.NewRedisPublisher(ro)
	if err != nil {
		return err
	}
	c.publisher = pub
	c.db.Subscribe(notify.Subscriber(pub, publishTimeout, c.logger), opts...)
	c.logger.Info("publishing changes", "redis", ro.Address, "channel", ro.Channel, "mode", cfg.Mode)
	return nil
}

// logChanges logs every delivered change.
func logChanges(logger *slog.Logger) txdict.Subscriber {
	return func(b txdict.Batch) {
		for _, ch := range b.Changes {
			logger.Info("change committed",
				"batch", b.Seq,
				"seq", ch.Seq,
				"dictionary", ch.Dictionary,
				"key", ch.EncodedKey,
				"kind", ch.Kind.String())
		}
	}
}

// Database returns the underlying database.
func (c *Catalog) Database() *txdict.Database {
	return c.db
}

// Names returns the configured dictionary names in configuration order.
func (c *Catalog) Names() []string {
	return append([]string{}, c.names...)
}

// Dictionary returns the dictionary registered under name.
func (c *Catalog) Dictionary(name string) (*Documents, error) {
	d, ok := c.dicts[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDictionary, name)
	}
	return d, nil
}

// Migrate prepares storage for every configured dictionary.
func (c *Catalog) Migrate(ctx context.Context) error {
	return c.db.Migrate(ctx)
}

// Get returns the document under key.
func (c *Catalog) Get(ctx context.Context, dict, key string) (*Document, error) {
	d, err := c.Dictionary(dict)
	if err != nil {
		return nil, err
	}
	var doc *Document
	err = c.db.Read(ctx, func(v *txdict.ReadView) error {
		doc, err = d.Get(v, key)
		return err
	})
	return doc, err
}

// List returns every document of dict ordered by key.
func (c *Catalog) List(ctx context.Context, dict string) ([]*Document, error) {
	d, err := c.Dictionary(dict)
	if err != nil {
		return nil, err
	}
	docs := []*Document{}
	err = c.db.Read(ctx, func(v *txdict.ReadView) error {
		return d.Each(v.Pass(), func(_ string, doc *Document) error {
			docs = append(docs, doc)
			return nil
		})
	})
	return docs, err
}

// Close stops notification and closes the backend.
func (c *Catalog) Close() error {
	var errs []error
	if c.db != nil {
		errs = append(errs, c.db.Close())
	}
	if c.publisher != nil {
		errs = append(errs, c.publisher.Close())
	}
	errs = append(errs, c.backend.Close())
	return errors.Join(errs...)
}
