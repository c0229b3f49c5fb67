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

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
	"github.com/spf13/cobra"

	httpapi "github.com/tbourn/devlift/internal/http"
	"github.com/tbourn/devlift/internal/config"
	"github.com/tbourn/devlift/internal/housekeeping"
	"github.com/tbourn/devlift/internal/observability"
	"github.com/tbourn/devlift/internal/sysutil"
)

const shutdownGrace = 15 * time.Second

func newServeCommand(opts *options, version string) *cobra.Command {
	var noJobs bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the housekeeping jobs",
		Long: `Run the HTTP API.

Examples:
  devlift serve
  PORT=9090 QUOTA_STORE=memory devlift serve --pretty
  devlift serve --no-housekeeping`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts, version, !noJobs)
		},
	}
	cmd.Flags().BoolVar(&noJobs, "no-housekeeping", false, "do not schedule cleanup jobs (another instance runs them)")
	return cmd
}

func runServe(ctx context.Context, opts *options, version string, withJobs bool) error {
	cfg := opts.cfg

	shutdownTracing, err := observability.Setup(ctx, cfg.OTEL, version)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			log.Warn().Err(err).Msg("tracing shutdown")
		}
	}()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Warn().Err(err).Msg("close resources")
		}
	}()

	gin.SetMode(cfg.GinMode)
	engine := gin.New()
	httpapi.RegisterRoutes(engine, a.db, a.httpServices(), cfg)

	srv := newServer(ctx, cfg, engine)

	var runner *housekeeping.Runner
	if withJobs {
		if runner, err = housekeeping.New(ctx, a.jobs()...); err != nil {
			return err
		}
	}

	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		if runner != nil {
			_ = runner.Shutdown()
		}
		return fmt.Errorf("listen %s: %w", srv.Addr, err)
	}

	jobsCtx, stopJobs := context.WithCancel(ctx)
	defer stopJobs()
	var wg conc.WaitGroup
	if runner != nil {
		wg.Go(func() {
			if err := runner.Start(jobsCtx); err != nil {
				log.Error().Err(err).Msg("housekeeping stopped")
			}
		})
	}

	log.Info().
		Str("addr", ln.Addr().String()).
		Str("host", sysutil.Hostname()).
		Str("version", version).
		Str("quota_store", cfg.Quota.Store).
		Msg("devlift listening")
	serveErr := serveHTTP(ctx, srv, ln, shutdownGrace)

	stopJobs()
	wg.Wait()
	return serveErr
}

// newServer builds the API server. Request contexts carry ctx's values but
// not its cancellation: a stop signal must not abort in-flight generations
// that Shutdown is still draining.
func newServer(ctx context.Context, cfg config.Config, h http.Handler) *http.Server {
	base := context.WithoutCancel(ctx)
	return &http.Server{
		Addr:              net.JoinHostPort("", cfg.Port),
		Handler:           h,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      max(cfg.WriteTimeout, cfg.Generation.Timeout+5*time.Second),
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
		BaseContext:       func(net.Listener) context.Context { return base },
	}
}

// serveHTTP serves on ln until ctx is done or the server fails, then waits up
// to grace for in-flight requests to finish.
func serveHTTP(ctx context.Context, srv *http.Server, ln net.Listener, grace time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown requested")
	case serveErr = <-errCh:
	}

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), grace)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	<-errCh
	return serveErr
}
