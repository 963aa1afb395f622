package cli

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vnykmshr/goboot/internal/config"
	"github.com/vnykmshr/goboot/pkg/boot"
	"github.com/vnykmshr/goboot/pkg/cluster"
	"github.com/vnykmshr/goboot/pkg/metrics"
	"github.com/vnykmshr/goboot/pkg/scaling/targetstore"
)

// shutdownTimeout bounds the teardown after the run context ends.
const shutdownTimeout = 30 * time.Second

func newRunCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "run [mount-point...]",
		Short: "Boot the application and supervise its workers",
		Long: `Mounts every configured directory, starts the configured mount points and
those given as arguments, then scales the worker pool to worker.forks.

The control process serves Prometheus metrics when metrics.enabled is set and
follows the shared target in Redis when redis.addr is set. Workers run the
same command with GOBOOT_WORKER_ID set. SIGINT or SIGTERM shuts everything
down.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, args, cmd.ErrOrStderr())
		},
	}
}

func run(ctx context.Context, cfg *config.Config, extra []string, out io.Writer) error {
	logger := newLogger(cfg, out)

	execCfg := cluster.ExecConfig{
		Command:     cfg.Worker.Command,
		GracePeriod: cfg.Worker.GracePeriod,
		Logger:      &logger,
	}
	if len(cfg.Worker.Args) > 0 {
		execCfg.Args = cfg.Worker.Args
	}
	exec, err := cluster.NewExec(execCfg)
	if err != nil {
		return err
	}

	var (
		reg *metrics.Registry
		srv *http.Server
	)
	if cfg.Metrics.Enabled && exec.IsControl() {
		reg, srv, err = serveMetrics(cfg.Metrics, &logger)
		if err != nil {
			return err
		}
	}

	registry, err := boot.NewRegistrySafe(boot.Config{
		Cluster: exec,
		Logger:  &logger,
		Metrics: reg,
		Context: ctx,
	})
	if err != nil {
		if srv != nil {
			_ = srv.Close()
		}
		return err
	}

	var store *targetstore.RedisStore
	teardown := func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		errs := []error{registry.Close(shutdownCtx)}
		if store != nil {
			errs = append(errs, store.Close())
		}
		errs = append(errs, exec.Shutdown(shutdownCtx))
		if srv != nil {
			errs = append(errs, srv.Shutdown(shutdownCtx))
		}
		return errors.Join(errs...)
	}

	app := registry.App(cfg.App.Name).SetOptions(cfg.Options())
	for _, point := range cfg.MountPoints() {
		app.MountDir(point, cfg.App.Mounts[point])
	}
	if cfg.App.Preload {
		app.Preload("")
	}
	for _, path := range append(append([]string(nil), cfg.App.Run...), extra...) {
		app.Run(path)
	}

	target, err := cfg.Target()
	if err != nil {
		return errors.Join(err, teardown())
	}
	var controlErr error
	app.Control(func(a *boot.App) {
		a.Scale(target)
		if cfg.Worker.Reconcile != "" {
			a.Reconcile(cfg.Worker.Reconcile)
		}
		if !cfg.Redis.Enabled() {
			return
		}
		store, controlErr = newRedisStore(cfg, &logger)
		if controlErr == nil {
			controlErr = a.FollowTargets(ctx, store)
		}
	})
	if controlErr != nil {
		return errors.Join(controlErr, teardown())
	}

	if err := app.Wait(ctx); err != nil && ctx.Err() == nil {
		return errors.Join(err, teardown())
	}
	logger.Info().
		Str("app", app.Name()).
		Str("role", app.Role().String()).
		Int("target", app.Target()).
		Msg("booted")

	<-ctx.Done()
	logger.Info().Msg("shutting down")
	return teardown()
}

// serveMetrics exposes a dedicated Prometheus registry, with Go runtime and
// process collectors, on cfg.Addr.
func serveMetrics(cfg config.MetricsConfig, logger *zerolog.Logger) (*metrics.Registry, *http.Server, error) {
	prom := prometheus.NewRegistry()
	prom.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	reg := metrics.FromConfig(metrics.Config{
		Enabled:   true,
		Registry:  prom,
		Namespace: cfg.Namespace,
	})

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, nil, err
	}
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(prom, promhttp.HandlerOpts{Registry: prom}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info().Str("addr", ln.Addr().String()).Str("path", cfg.Path).Msg("serving metrics")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics server failed")
		}
	}()
	return reg, srv, nil
}
