package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"searchstats/internal/app/bootstrap"
	"searchstats/internal/platform/server"
	"searchstats/internal/platform/telemetry"
	"searchstats/internal/usecase/jobs"
)

const statsInterval = time.Minute

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		slog.Error("worker error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	rt, err := bootstrap.Init("worker")
	if err != nil {
		return err
	}
	defer rt.Flush()
	if rt.SentryEnabled {
		defer telemetry.Recover()
	}
	cfg := rt.Config
	log := rt.Logger

	var registry *prometheus.Registry
	var registerer prometheus.Registerer
	if cfg.App.EnableMetrics {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		registerer = registry
	}

	svc, err := bootstrap.NewServices(ctx, rt, registerer)
	if err != nil {
		return err
	}
	defer svc.Close()

	queue, err := rt.ConnectQueue()
	if err != nil {
		return err
	}
	defer func() {
		if err := queue.Close(); err != nil {
			log.Error("failed to close job queue", "error", err)
		}
	}()

	if registry != nil && cfg.App.WorkerMetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		metricsSrv := server.New(server.Config{
			Address:         cfg.App.WorkerMetricsAddr,
			ReadTimeout:     cfg.Server.ReadTimeout,
			WriteTimeout:    cfg.Server.WriteTimeout,
			IdleTimeout:     cfg.Server.IdleTimeout,
			ShutdownTimeout: cfg.Server.ShutdownTimeout,
		}, mux, log)
		go func() {
			if err := metricsSrv.Run(ctx); err != nil {
				log.Error("metrics server failed", "address", cfg.App.WorkerMetricsAddr, "error", err)
			}
		}()
	}

	go func() {
		ticker := time.NewTicker(statsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				svc.LogStats()
			}
		}
	}()

	var handler jobs.Handler = svc.Chain(queue)
	log.Info("worker started", "stream", cfg.NATS.Stream, "concurrency", cfg.Ingest.Concurrency)
	if err := queue.Consume(ctx, handler); err != nil {
		return err
	}
	log.Info("worker stopped")
	return nil
}
