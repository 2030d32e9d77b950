package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

// shutdownTimeout is the maximum time to wait for the metrics server to
// drain during shutdown.
const shutdownTimeout = 5 * time.Second

// errScenariosFailed makes a conformance failure exit nonzero without a
// second error dump; the per-scenario results were already logged.
var errScenariosFailed = errors.New("conformance scenarios failed")

// scenario is one self-contained conformance check.
type scenario struct {
	Name string
	Run  func(ctx context.Context) error
}

// runScenarios executes every scenario in order under a signal-aware
// context, serving the optional metrics endpoint for the duration of the
// run. Scenarios keep running after a failure so one report covers the
// whole suite.
func runScenarios(scenarios []scenario) error {
	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	done := make(chan struct{})
	if cfg.Metrics.Addr != "" {
		startMetricsServer(gCtx, g, done)
	}

	failed := 0
	for _, sc := range scenarios {
		if err := gCtx.Err(); err != nil {
			close(done)
			_ = g.Wait()
			return fmt.Errorf("scenario run interrupted: %w", err)
		}

		slogAttrs := []any{slog.String("scenario", sc.Name)}
		logger.Info("scenario starting", slogAttrs...)

		if err := sc.Run(gCtx); err != nil {
			failed++
			logger.Error("scenario failed",
				slog.String("scenario", sc.Name),
				slog.String("error", err.Error()))
			continue
		}

		logger.Info("scenario passed", slogAttrs...)
	}

	close(done)
	if err := g.Wait(); err != nil {
		logger.Warn("metrics server error", slog.String("error", err.Error()))
	}

	logger.Info("scenario run complete",
		slog.Int("total", len(scenarios)),
		slog.Int("failed", failed))

	if failed > 0 {
		return fmt.Errorf("%d of %d: %w", failed, len(scenarios), errScenariosFailed)
	}
	return nil
}

// startMetricsServer serves the Prometheus registry until the run ends or
// the context is cancelled.
func startMetricsServer(ctx context.Context, g *errgroup.Group, done <-chan struct{}) {
	mux := http.NewServeMux()
	mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              cfg.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g.Go(func() error {
		logger.Info("metrics server listening",
			slog.String("addr", cfg.Metrics.Addr),
			slog.String("path", cfg.Metrics.Path))

		lc := net.ListenConfig{}
		ln, err := lc.Listen(ctx, "tcp", cfg.Metrics.Addr)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", cfg.Metrics.Addr, err)
		}

		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve metrics: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		select {
		case <-ctx.Done():
		case <-done:
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}
