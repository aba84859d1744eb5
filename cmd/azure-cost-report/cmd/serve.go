package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/zgpcy/azure-cost-report/internal/collector"
	"github.com/zgpcy/azure-cost-report/internal/server"
	"github.com/zgpcy/azure-cost-report/internal/sink"
	"github.com/zgpcy/azure-cost-report/internal/version"
)

// DefaultShutdownTimeout is the maximum time to wait for graceful shutdown
const DefaultShutdownTimeout = 30 * time.Second

// serveCmd keeps the report fresh and serves it over HTTP
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Refresh the report periodically and serve it with Prometheus metrics",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}

	log.Info("Azure cost report server starting",
		"version", version.Version,
		"config_path", cfgFile,
		"static_subscriptions", len(cfg.Subscriptions),
		"auth_method", cfg.Auth.Method,
		"refresh_interval_seconds", cfg.RefreshInterval,
		"http_port", cfg.HTTPPort,
		"currency", cfg.Currency)

	coll := collector.NewReportCollector(newRunner(cfg, log), cfg, log)

	registry := prometheus.NewRegistry()
	if err := registry.Register(coll); err != nil {
		return fmt.Errorf("failed to register collector: %w", err)
	}
	// Go runtime and process metrics are best effort
	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		log.Warn("Failed to register Go collector", "error", err)
	}
	if err := registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		log.Warn("Failed to register process collector", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := server.NewServer(cfg, coll, sink.NewXLSXSink(cfg, log), registry, log)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- srv.Start()
	}()

	// The first run blocks for as long as the subscriptions take, so the
	// server is already answering /health while it happens.
	go coll.StartBackgroundRefresh(ctx)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		log.Info("Received shutdown signal, starting graceful shutdown", "signal", sig.String())
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("error during server shutdown: %w", err)
		}
		log.Info("Server stopped gracefully")
	}
	return nil
}
