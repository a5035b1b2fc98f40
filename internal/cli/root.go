package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/roach88/txdict/internal/catalog"
	"github.com/roach88/txdict/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	ConfigPath   string
	Driver       string
	DSN          string
	Codec        string
	Dictionaries []string

	// Keys overrides key generation for documents added without a key
	// (for testing). If nil, defaults to catalog.UUIDv7Generator.
	Keys catalog.KeyGenerator
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the txdict CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "txdict",
		Short: "txdict - transactional dictionaries",
		Long:  "Keyed document dictionaries over SQLite, Postgres or bbolt with atomic batched writes.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	// Global flags
	flags := cmd.PersistentFlags()
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	flags.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	flags.StringVarP(&opts.ConfigPath, "config", "c", "", "path to YAML config file")
	flags.StringVar(&opts.Driver, "driver", "", "backend driver (sqlite|postgres|bolt)")
	flags.StringVar(&opts.DSN, "dsn", "", "backend file path or connection string")
	flags.StringVar(&opts.Codec, "codec", "", "record codec (json|msgpack)")
	flags.StringSliceVarP(&opts.Dictionaries, "dict", "d", nil, "dictionary names (repeatable)")

	cmd.AddCommand(NewGetCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewAddCommand(opts))
	cmd.AddCommand(NewPutCommand(opts))
	cmd.AddCommand(NewDeleteCommand(opts))
	cmd.AddCommand(NewApplyCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// loadConfig reads the config file and environment, then applies flags.
func (o *RootOptions) loadConfig() (config.Config, error) {
	cfg, err := config.Read(o.ConfigPath)
	if err != nil {
		return config.Config{}, err
	}
	if o.Driver != "" {
		cfg.Backend.Driver = o.Driver
	}
	if o.DSN != "" {
		cfg.Backend.DSN = o.DSN
	}
	if o.Codec != "" {
		cfg.Codec = o.Codec
	}
	if len(o.Dictionaries) > 0 {
		cfg.Dictionaries = o.Dictionaries
	}
	if o.Verbose {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// session is what a command needs to talk to the configured catalog.
type session struct {
	cfg      config.Config
	catalog  *catalog.Catalog
	logger   *slog.Logger
	registry *prometheus.Registry
	out      *OutputFormatter
}

// openSession loads configuration, installs the process logger and opens
// the catalog. The caller must call close.
func (o *RootOptions) openSession(cmd *cobra.Command) (*session, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}

	logger := cfg.Log.NewLogger(cmd.ErrOrStderr())
	slog.SetDefault(logger)

	reg := prometheus.NewRegistry()
	c, err := catalog.Open(commandContext(cmd), cfg, catalog.Options{
		Logger:     logger,
		Registerer: reg,
		Keys:       o.Keys,
	})
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open catalog", err)
	}
	logger.Debug("catalog opened", "driver", cfg.Backend.Driver, "dictionaries", len(cfg.Dictionaries))

	return &session{
		cfg:      cfg,
		catalog:  c,
		logger:   logger,
		registry: reg,
		out:      o.formatter(cmd.OutOrStdout(), cmd.ErrOrStderr()),
	}, nil
}

func (s *session) close() {
	if err := s.catalog.Close(); err != nil {
		s.logger.Error("error closing catalog", "error", err)
	}
}

func (o *RootOptions) formatter(w, errW io.Writer) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    w,
		ErrWriter: errW,
		Verbose:   o.Verbose,
	}
}

// commandContext returns the command's context, or Background when the
// command was executed without one.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
