package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/txdict/internal/httpapi"
)

// shutdownTimeout bounds draining in-flight requests on shutdown.
const shutdownTimeout = 10 * time.Second

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr string

	// Ready is called with the bound address once the server accepts
	// connections (for testing).
	Ready func(addr string)
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the configured dictionaries over HTTP",
		Long: `Serve the configured dictionaries over HTTP until interrupted.

Routes:
  GET    /health
  GET    /metrics
  GET    /dicts
  GET    /dicts/{dict}
  POST   /dicts/{dict}          add (?try=true for try_add)
  GET    /dicts/{dict}/{key}
  PUT    /dicts/{dict}/{key}    add_or_update
  PATCH  /dicts/{dict}/{key}    merge update (?try=true for try_update)
  DELETE /dicts/{dict}/{key}    remove (?try=true for try_remove)
  POST   /batch                 atomic list of operations

Example:
  txdict serve -c txdict.yaml
  txdict serve --dsn ./data.db -d users -d teams --addr :9090`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (overrides http.addr)")
	return cmd
}

func runServe(cmd *cobra.Command, opts *ServeOptions) error {
	s, err := opts.openSession(cmd)
	if err != nil {
		return err
	}
	defer s.close()

	addr := s.cfg.HTTP.Addr
	if opts.Addr != "" {
		addr = opts.Addr
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := s.catalog.Migrate(ctx); err != nil {
		return WrapExitError(ExitCommandError, "migration failed", err)
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}
	srv := &http.Server{
		Handler: httpapi.NewServer(s.catalog, httpapi.Options{
			Logger:   s.logger,
			Gatherer: s.registry,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.logger.Info("server starting", "addr", ln.Addr().String(), "driver", s.cfg.Backend.Driver)
	fmt.Fprintf(cmd.OutOrStdout(), "Listening on %s\n", ln.Addr())
	if opts.Ready != nil {
		opts.Ready(ln.Addr().String())
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return WrapExitError(ExitFailure, "server error", err)
	}
	s.logger.Info("server stopped gracefully")
	return nil
}
