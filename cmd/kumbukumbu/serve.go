package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jkaninda/kumbukumbu/internal/observability"
	"github.com/jkaninda/kumbukumbu/internal/opsapi"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve health, readiness and metrics endpoints",
	Long: `Run the operations HTTP server: /healthz (liveness), /readyz (dependency
checks, including the database) and /metrics (Prometheus, when metrics are
enabled). No entity data is served over HTTP.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides ops.listen_addr)")
}

func runServe(_ *cobra.Command, _ []string) error {
	sc, err := setup()
	if err != nil {
		return err
	}
	defer sc.Cleanup()
	cfg := sc.Config

	addr := cfg.Ops.Addr()
	if serveAddr != "" {
		addr = serveAddr
	}

	health := sc.Obs.HealthOrNil()
	if health == nil {
		// Readiness always covers the database, even with observability off.
		health = observability.NewHealthChecker(sc.Logger)
		health.AddCheck("database", sc.Store.Ping)
	}

	opsCfg := opsapi.Config{
		ListenAddr:    addr,
		ReadTimeout:   cfg.Ops.ReadTimeout(),
		WriteTimeout:  cfg.Ops.WriteTimeout(),
		HealthChecker: health,
		Metrics:       sc.Obs.MetricsOrNil(),
	}
	if m := sc.Obs.MetricsOrNil(); m != nil {
		opsCfg.MetricsRegistry = m.Registry
		opsCfg.MetricsPath = cfg.Observability.Metrics.Path
	}
	if ts := sc.Obs.TracerOrNil(); ts != nil {
		opsCfg.Tracer = ts.Tracer()
	}
	server := opsapi.New(opsCfg, sc.Logger)

	// Signal-aware context.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errs := make(chan error, 1)
	go func() {
		errs <- server.Start(ctx)
	}()

	select {
	case <-ctx.Done():
		sc.Logger.Info("shutdown signal received")
	case err := <-errs:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			sc.Logger.Error("ops server exited with error", slog.String("error", err.Error()))
			return err
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Ops.ShutdownTimeout())
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		sc.Logger.Error("stopping ops server", slog.String("error", err.Error()))
		return err
	}
	return nil
}
