// Package bootstrap assembles the shared runtime and services of every binary.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"searchstats/internal/domain/jobrun"
	"searchstats/internal/infra/external/wildberries"
	"searchstats/internal/infra/jetstream"
	"searchstats/internal/infra/memory"
	infraPostgres "searchstats/internal/infra/postgres"
	infraRedis "searchstats/internal/infra/redis"
	"searchstats/internal/pkg/batchutil"
	"searchstats/internal/pkg/timeutil"
	"searchstats/internal/platform/cache"
	"searchstats/internal/platform/config"
	"searchstats/internal/platform/database"
	"searchstats/internal/platform/logger"
	"searchstats/internal/platform/metrics"
	"searchstats/internal/platform/telemetry"
	usecaseDailyStat "searchstats/internal/usecase/dailystat"
	"searchstats/internal/usecase/ingest"
	"searchstats/internal/usecase/jobs"
	usecaseSearchQuery "searchstats/internal/usecase/searchquery"
)

// Runtime is the process-wide setup: configuration, time zone, Sentry and logging.
type Runtime struct {
	Config        *config.Config
	Logger        *slog.Logger
	Component     string
	SentryEnabled bool
}

// Init loads configuration and installs the default logger for component.
// Callers should `defer telemetry.Recover()` when SentryEnabled is set.
func Init(component string) (*Runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := timeutil.SetLocation(cfg.App.TimeZone); err != nil {
		return nil, fmt.Errorf("load timezone: %w", err)
	}

	sentryEnabled, err := telemetry.InitSentry(cfg.Sentry, component)
	if err != nil {
		return nil, fmt.Errorf("init sentry: %w", err)
	}

	log := logger.New(logger.Config{
		Level:     logger.Level(cfg.App.LogLevel),
		Format:    logger.Format(cfg.App.LogFormat),
		Component: component,
	})
	if sentryEnabled {
		log = logger.WrapWithSentry(log)
	}
	logger.SetDefault(log)

	return &Runtime{
		Config:        cfg,
		Logger:        log,
		Component:     component,
		SentryEnabled: sentryEnabled,
	}, nil
}

// Flush sends buffered Sentry events.
func (r *Runtime) Flush() {
	if r.SentryEnabled {
		telemetry.Flush(2 * time.Second)
	}
}

// ConnectQueue dials the JetStream job queue.
func (r *Runtime) ConnectQueue() (*jetstream.Queue, error) {
	cfg := r.Config
	queue, err := jetstream.Connect(jetstream.Config{
		URL:             cfg.NATS.URL,
		Stream:          cfg.NATS.Stream,
		SubjectPrefix:   cfg.NATS.SubjectPrefix,
		JobTimeout:      cfg.Jobs.Timeout,
		DuplicateWindow: cfg.NATS.DuplicateWindow,
		MemoryStorage:   cfg.NATS.MemoryStorage,
	}, r.Logger)
	if err != nil {
		return nil, fmt.Errorf("connect job queue: %w", err)
	}
	return queue, nil
}

// QueryCache is the search query cache as seen by maintenance commands.
type QueryCache interface {
	usecaseSearchQuery.Cache
	Purge(ctx context.Context) (int64, error)
}

// Services holds the connected stores and the use cases built on them.
type Services struct {
	DB            *database.DB
	Redis         *cache.Cache
	QueryCache    QueryCache
	SearchQueries *usecaseSearchQuery.Service
	Stats         *usecaseDailyStat.Service
	Pipeline      *ingest.Pipeline
	Metrics       *metrics.PipelineMetrics
	Locker        *batchutil.Locker
	Runs          *infraRedis.JobRunStore

	rt *Runtime
}

// NewServices connects Postgres and, when enabled, Redis. Pipeline metrics
// are registered on reg when it is not nil.
func NewServices(ctx context.Context, rt *Runtime, reg prometheus.Registerer) (*Services, error) {
	cfg := rt.Config
	log := rt.Logger

	db, err := database.New(ctx, database.Config{
		ConnectionString: cfg.Database.ConnectionString(),
		MaxConns:         cfg.Database.MaxConns,
		MinConns:         cfg.Database.MinConns,
		MaxConnLifetime:  cfg.Database.MaxConnLifetime,
		MaxConnIdleTime:  cfg.Database.MaxConnIdleTime,
		ConnectTimeout:   cfg.Database.ConnectTimeout,
		ApplicationName:  "searchstats-" + rt.Component,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	s := &Services{DB: db, rt: rt}

	if cfg.Redis.Enabled {
		redisClient, err := cache.New(cache.Config{
			Address:      cfg.Redis.Address(),
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			MaxRetries:   cfg.Redis.MaxRetries,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
		}, log)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		s.Redis = redisClient
		s.Runs = infraRedis.NewJobRunStore(redisClient, cfg.Jobs.RunTTL)
	}

	switch cfg.App.CacheBackend {
	case config.CacheBackendRedis:
		s.QueryCache = infraRedis.NewSearchQueryCache(s.Redis, cfg.App.CacheTTL)
	case config.CacheBackendMemory:
		s.QueryCache = memory.NewSearchQueryCache(cfg.App.CacheTTL)
	}

	var queryCache usecaseSearchQuery.Cache
	if s.QueryCache != nil {
		queryCache = s.QueryCache
	}
	s.SearchQueries = usecaseSearchQuery.NewService(infraPostgres.NewSearchQueryRepository(db.Pool), queryCache, log)
	s.Stats = usecaseDailyStat.NewService(
		infraPostgres.NewDailyStatRepository(db.Pool),
		infraPostgres.NewDailyTotalRepository(db.Pool),
		log,
	)
	s.Metrics = metrics.NewPipelineMetrics(reg)
	s.Pipeline = ingest.NewPipeline(s.SearchQueries, s.Stats, ingest.Config{
		BatchSize:   cfg.Ingest.BatchSize,
		Concurrency: cfg.Ingest.Concurrency,
	}, s.Metrics, log)
	s.Locker = batchutil.NewLocker(db.Pool)

	log.Info("services ready",
		"cache_backend", cfg.App.CacheBackend,
		"redis", cfg.Redis.Enabled,
		"ingest_concurrency", cfg.Ingest.Concurrency,
	)
	return s, nil
}

// Policies maps the configured attempts and delays onto stage retry policies.
func Policies(cfg config.JobsConfig) map[jobrun.Stage]jobs.RetryPolicy {
	policy := func(attempts uint) jobs.RetryPolicy {
		return jobs.RetryPolicy{MaxAttempts: attempts, Delay: cfg.RetryDelay, MaxDelay: cfg.RetryMaxDelay}
	}
	return map[jobrun.Stage]jobs.RetryPolicy{
		jobrun.StageAcquire:   policy(cfg.AcquireMaxAttempts),
		jobrun.StageIngest:    policy(cfg.IngestMaxAttempts),
		jobrun.StageAggregate: policy(cfg.AggregateMaxAttempts),
	}
}

// Chain builds the job chain that enqueues follow-up stages on queue.
func (s *Services) Chain(queue jobs.Queue) *jobs.Chain {
	cfg := s.rt.Config
	source := wildberries.NewClient(wildberries.ClientConfig{
		HTTPClient:       &http.Client{Timeout: cfg.Report.Timeout},
		Endpoint:         cfg.Report.Endpoint,
		AuthorizeV3:      cfg.Report.AuthorizeV3,
		WBXValidationKey: cfg.Report.WBXValidationKey,
		UserAgent:        cfg.Report.UserAgent,
	})

	deps := jobs.Deps{
		Source:   source,
		Pipeline: s.Pipeline,
		Stats:    s.Stats,
		Locker:   s.Locker,
		Metrics:  s.Metrics,
		Logger:   s.rt.Logger,
	}
	if s.Runs != nil {
		deps.Tracker = s.Runs
	}
	return jobs.NewChain(deps, queue, jobs.Config{
		ReportDir: cfg.Report.Dir,
		Policies:  Policies(cfg.Jobs),
	})
}

// LogStats logs pool statistics of the connected stores.
func (s *Services) LogStats() {
	s.DB.LogStats()
	if s.Redis != nil {
		s.Redis.LogStats()
	}
}

// Close releases the store connections.
func (s *Services) Close() {
	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			s.rt.Logger.Error("failed to close redis", "error", err)
		}
	}
	s.DB.Close()
}
