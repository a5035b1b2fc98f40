// Package config loads txdict service configuration from YAML, applies
// TXDICT_* environment overrides and validates the result against an
// embedded CUE schema.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"

	"github.com/roach88/txdict/internal/store"
)

//go:embed schema.cue
var schemaCUE string

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid config")

// Config is the service configuration.
type Config struct {
	Backend      Backend  `yaml:"backend" json:"backend"`
	Codec        string   `yaml:"codec" json:"codec"`
	Dictionaries []string `yaml:"dictionaries" json:"dictionaries"`
	Notify       Notify   `yaml:"notify" json:"notify"`
	HTTP         HTTP     `yaml:"http" json:"http"`
	Log          Log      `yaml:"log" json:"log"`
}

// Backend selects the backing store.
type Backend struct {
	// Driver is "sqlite", "postgres" or "bolt".
	Driver string `yaml:"driver" json:"driver"`
	// DSN is a file path for sqlite and bolt, a connection string for postgres.
	DSN string `yaml:"dsn" json:"dsn"`
}

// Notify configures change delivery.
type Notify struct {
	// Mode is "off", "sync" or "async".
	Mode string `yaml:"mode" json:"mode"`
	// Filter is an optional CEL expression selecting the changes to push.
	Filter string `yaml:"filter" json:"filter"`
	Redis  Redis  `yaml:"redis" json:"redis"`
}

// Redis configures the Redis publisher. An empty Addr disables it.
type Redis struct {
	Addr     string `yaml:"addr" json:"addr"`
	Channel  string `yaml:"channel" json:"channel"`
	DB       int    `yaml:"db" json:"db"`
	Password string `yaml:"password" json:"password"`
}

// HTTP configures the HTTP API.
type HTTP struct {
	Addr string `yaml:"addr" json:"addr"`
}

// Log configures the process logger.
type Log struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Backend:      Backend{Driver: "sqlite", DSN: "txdict.db"},
		Codec:        "json",
		Dictionaries: []string{},
		Notify: Notify{
			Mode:  "off",
			Redis: Redis{Channel: "txdict:changes"},
		},
		HTTP: HTTP{Addr: ":8080"},
		Log:  Log{Level: "info", Format: "text"},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path loads defaults and environment only.
func Load(path string) (Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Read is Load without validation, for callers that apply further
// overrides before calling Validate.
func Read(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := Parse(data, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes YAML into cfg, rejecting unknown fields.
func Parse(data []byte, cfg *Config) error {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	return nil
}

// ApplyEnv overrides fields from TXDICT_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"TXDICT_BACKEND_DRIVER": &c.Backend.Driver,
		"TXDICT_BACKEND_DSN":    &c.Backend.DSN,
		"TXDICT_CODEC":          &c.Codec,
		"TXDICT_NOTIFY_MODE":    &c.Notify.Mode,
		"TXDICT_NOTIFY_FILTER":  &c.Notify.Filter,
		"TXDICT_REDIS_ADDR":     &c.Notify.Redis.Addr,
		"TXDICT_REDIS_CHANNEL":  &c.Notify.Redis.Channel,
		"TXDICT_REDIS_PASSWORD": &c.Notify.Redis.Password,
		"TXDICT_HTTP_ADDR":      &c.HTTP.Addr,
		"TXDICT_LOG_LEVEL":      &c.Log.Level,
		"TXDICT_LOG_FORMAT":     &c.Log.Format,
	}
	for name, field := range strs {
		if v, ok := lookup(name); ok {
			*field = v
		}
	}

	if v, ok := lookup("TXDICT_DICTIONARIES"); ok {
		c.Dictionaries = splitList(v)
	}
	if v, ok := lookup("TXDICT_REDIS_DB"); ok {
		db, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: TXDICT_REDIS_DB: %v", ErrInvalid, err)
		}
		c.Notify.Redis.DB = db
	}
	return nil
}

func splitList(s string) []string {
	out := []string{}
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks c against the CUE schema and the store's table naming
// rules.
func (c *Config) Validate() error {
	if c.Dictionaries == nil {
		c.Dictionaries = []string{}
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE).LookupPath(cue.ParsePath("#Config"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("load config schema: %w", err)
	}
	v := schema.Unify(ctx.Encode(c))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.TrimSpace(cueerrors.Details(err, nil)))
	}

	seen := make(map[string]bool)
	for _, name := range c.Dictionaries {
		if err := store.ValidateTableName(name); err != nil {
			return fmt.Errorf("%w: dictionary %w", ErrInvalid, err)
		}
		if seen[name] {
			return fmt.Errorf("%w: dictionary %q listed twice", ErrInvalid, name)
		}
		seen[name] = true
	}
	return nil
}

// level maps the configured name to a slog level.
func (l Log) level() slog.Level {
	switch l.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds the process logger writing to w.
func (l Log) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: l.level()}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
