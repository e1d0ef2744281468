package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"searchstats/internal/app/bootstrap"
	"searchstats/internal/infra/handler"
	"searchstats/internal/platform/metrics"
	"searchstats/internal/platform/server"
	"searchstats/internal/platform/telemetry"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		slog.Error("application error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	rt, err := bootstrap.Init("app")
	if err != nil {
		return err
	}
	defer rt.Flush()
	if rt.SentryEnabled {
		defer telemetry.Recover()
	}
	cfg := rt.Config
	log := rt.Logger

	var (
		httpMetrics *metrics.HTTPMetrics
		registerer  prometheus.Registerer
	)
	if cfg.App.EnableMetrics {
		httpMetrics = metrics.NewHTTPMetrics()
		registerer = httpMetrics.Registry()
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

	health := &handler.HealthHandler{DB: svc.DB, Queue: queue}
	if svc.Redis != nil {
		health.Cache = svc.Redis
	}

	middlewares := []func(http.Handler) http.Handler{
		server.RequestLogger(log),
		server.Recoverer(log),
		server.SecurityHeaders(),
	}
	if len(cfg.App.CORSAllowedOrigins) > 0 {
		middlewares = append(middlewares, server.CORS(cfg.App.CORSAllowedOrigins))
	}
	if httpMetrics != nil {
		middlewares = append(middlewares, httpMetrics.Middleware)
	}

	commandAuth := server.APIKeyAuth(cfg.App.CommandAPIKey, log)
	if cfg.App.RateLimitEnabled && svc.Redis != nil {
		limit := server.RateLimit(server.RateLimitConfig{
			Cache:  svc.Redis,
			Limit:  cfg.App.RateLimitMaxRequests,
			Window: cfg.App.RateLimitWindow,
			Logger: log,
			Prefix: "searchstats:ratelimit:commands",
		})
		auth := commandAuth
		commandAuth = func(next http.Handler) http.Handler { return limit(auth(next)) }
	}

	routerCfg := handler.RouterConfig{
		SearchQueryHandler: handler.NewSearchQueryHandler(svc.SearchQueries, svc.Stats),
		CommandHandler:     handler.NewCommandHandler(svc.Chain(queue), log),
		HealthHandler:      health,
		APIBasePath:        cfg.App.APIBasePath,
		Middlewares:        middlewares,
		CommandAuth:        commandAuth,
	}
	if httpMetrics != nil {
		routerCfg.PrometheusHandler = httpMetrics.Handler()
	}

	srv := server.New(server.Config{
		Address:         cfg.Server.Address(),
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, handler.NewRouter(routerCfg), log)

	return srv.Run(ctx)
}
