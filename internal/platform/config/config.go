package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// DefaultAPIBasePath is the fallback base path for the HTTP API.
const DefaultAPIBasePath = "/api/v1"

// Cache backends for resolved search queries.
const (
	CacheBackendRedis  = "redis"
	CacheBackendMemory = "memory"
	CacheBackendNone   = "none"
)

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration
	Database DatabaseConfig

	// Redis configuration
	Redis RedisConfig

	// NATS JetStream configuration
	NATS NATSConfig

	// Application configuration
	App AppConfig

	// Report ingestion configuration
	Ingest IngestConfig

	// Job chain configuration
	Jobs JobsConfig

	// Report source configuration
	Report ReportConfig

	// Sentry configuration
	Sentry SentryConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `env:"SERVER_HOST" envDefault:"0.0.0.0"`
	Port            int           `env:"SERVER_PORT" envDefault:"8080"`
	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"10s"`
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"30s"`
	IdleTimeout     time.Duration `env:"SERVER_IDLE_TIMEOUT" envDefault:"60s"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

// Address returns the server address in host:port format
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host            string        `env:"POSTGRES_HOST" envDefault:"localhost"`
	Port            int           `env:"POSTGRES_PORT" envDefault:"5432"`
	User            string        `env:"POSTGRES_USER" envDefault:"searchstats"`
	Password        string        `env:"POSTGRES_PASSWORD" envDefault:"searchstats"`
	Database        string        `env:"POSTGRES_DB" envDefault:"searchstats"`
	SSLMode         string        `env:"POSTGRES_SSLMODE" envDefault:"disable"`
	MaxConns        int32         `env:"POSTGRES_MAX_CONNS" envDefault:"25"`
	MinConns        int32         `env:"POSTGRES_MIN_CONNS" envDefault:"5"`
	MaxConnLifetime time.Duration `env:"POSTGRES_MAX_CONN_LIFETIME" envDefault:"1h"`
	MaxConnIdleTime time.Duration `env:"POSTGRES_MAX_CONN_IDLE_TIME" envDefault:"30m"`
	ConnectTimeout  time.Duration `env:"POSTGRES_CONNECT_TIMEOUT" envDefault:"10s"`
}

// ConnectionString returns the PostgreSQL connection string in URL format
func (d DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"postgresql://%s:%s@%s:%d/%s?sslmode=%s&connect_timeout=%d",
		d.User, d.Password, d.Host, d.Port, d.Database, d.SSLMode,
		int(d.ConnectTimeout.Seconds()),
	)
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Enabled      bool          `env:"REDIS_ENABLED" envDefault:"true"`
	Host         string        `env:"REDIS_HOST" envDefault:"localhost"`
	Port         int           `env:"REDIS_PORT" envDefault:"6379"`
	Password     string        `env:"REDIS_PASSWORD" envDefault:""`
	DB           int           `env:"REDIS_DB" envDefault:"0"`
	MaxRetries   int           `env:"REDIS_MAX_RETRIES" envDefault:"3"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"5"`
}

// Address returns the Redis address in host:port format
func (r RedisConfig) Address() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// NATSConfig holds the job queue connection and stream layout.
type NATSConfig struct {
	URL             string        `env:"NATS_URL" envDefault:"nats://127.0.0.1:4222"`
	Stream          string        `env:"NATS_STREAM" envDefault:"SEARCHSTATS_JOBS"`
	SubjectPrefix   string        `env:"NATS_SUBJECT_PREFIX" envDefault:"searchstats.jobs"`
	DuplicateWindow time.Duration `env:"NATS_DUPLICATE_WINDOW" envDefault:"10m"`
	MemoryStorage   bool          `env:"NATS_MEMORY_STORAGE" envDefault:"false"`
}

// AppConfig holds application-specific configuration
type AppConfig struct {
	LogLevel      string `env:"APP_LOG_LEVEL" envDefault:"info"`
	LogFormat     string `env:"APP_LOG_FORMAT" envDefault:"text"` // text or json
	TimeZone      string `env:"APP_TIMEZONE" envDefault:"Europe/Moscow"`
	EnableMetrics bool   `env:"APP_ENABLE_METRICS" envDefault:"true"`
	APIBasePath   string `env:"APP_API_BASE_PATH" envDefault:"/api/v1"`
	// CORSAllowedOrigins enables CORS on the API when non-empty.
	CORSAllowedOrigins []string `env:"APP_CORS_ALLOWED_ORIGINS" envSeparator:","`
	// CommandAPIKey protects command endpoints when set.
	CommandAPIKey string `env:"APP_COMMAND_API_KEY" envDefault:""`

	CacheBackend string `env:"APP_CACHE_BACKEND" envDefault:"redis"` // redis, memory or none
	// CacheTTL of zero keeps resolved search queries until evicted.
	CacheTTL time.Duration `env:"APP_SEARCH_QUERY_CACHE_TTL" envDefault:"0"`

	RateLimitEnabled     bool          `env:"APP_RATE_LIMIT_ENABLED" envDefault:"false"`
	RateLimitWindow      time.Duration `env:"APP_RATE_LIMIT_WINDOW" envDefault:"1m"`
	RateLimitMaxRequests int           `env:"APP_RATE_LIMIT_MAX_REQUESTS" envDefault:"10"`

	WorkerMetricsAddr string `env:"WORKER_METRICS_ADDR" envDefault:":9091"`
}

// IngestConfig tunes the ingestion pipeline.
type IngestConfig struct {
	BatchSize   int `env:"INGEST_BATCH_SIZE" envDefault:"1000"`
	Concurrency int `env:"INGEST_CONCURRENCY" envDefault:"8"`
}

// JobsConfig holds stage retry budgets and run bookkeeping.
type JobsConfig struct {
	Timeout              time.Duration `env:"JOB_TIMEOUT" envDefault:"30m"`
	RunTTL               time.Duration `env:"JOB_RUN_TTL" envDefault:"168h"`
	AcquireMaxAttempts   uint          `env:"JOB_ACQUIRE_MAX_ATTEMPTS" envDefault:"14"`
	IngestMaxAttempts    uint          `env:"JOB_INGEST_MAX_ATTEMPTS" envDefault:"3"`
	AggregateMaxAttempts uint          `env:"JOB_AGGREGATE_MAX_ATTEMPTS" envDefault:"14"`
	RetryDelay           time.Duration `env:"JOB_RETRY_DELAY" envDefault:"10s"`
	RetryMaxDelay        time.Duration `env:"JOB_RETRY_MAX_DELAY" envDefault:"30m"`
}

// ReportConfig holds report source credentials and the local report directory.
type ReportConfig struct {
	Dir              string        `env:"REPORT_DIR" envDefault:"./data/reports"`
	Endpoint         string        `env:"REPORT_ENDPOINT" envDefault:""`
	AuthorizeV3      string        `env:"WB_AUTHORIZE_V3" envDefault:""`
	WBXValidationKey string        `env:"WB_VALIDATION_KEY" envDefault:""`
	UserAgent        string        `env:"REPORT_USER_AGENT" envDefault:""`
	Timeout          time.Duration `env:"REPORT_TIMEOUT" envDefault:"2m"`
}

// SentryConfig holds Sentry configuration
type SentryConfig struct {
	DSN         string `env:"SENTRY_DSN" envDefault:""`
	Environment string `env:"SENTRY_ENVIRONMENT" envDefault:""`
	Release     string `env:"SENTRY_RELEASE" envDefault:""`
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{}

	// Parse environment variables into config struct
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate performs validation on the configuration
func (c *Config) Validate() error {
	// Validate server configuration
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	// Validate database configuration
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("database user is required")
	}
	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}
	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("database max connections (%d) must be >= min connections (%d)",
			c.Database.MaxConns, c.Database.MinConns)
	}

	// Validate Redis configuration
	if c.Redis.Enabled {
		if c.Redis.Host == "" {
			return fmt.Errorf("redis host is required")
		}
		if c.Redis.DB < 0 || c.Redis.DB > 15 {
			return fmt.Errorf("invalid redis database: %d (must be 0-15)", c.Redis.DB)
		}
	}

	// Validate app configuration
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.App.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)",
			c.App.LogLevel)
	}

	validLogFormats := map[string]bool{
		"text": true,
		"json": true,
	}
	if !validLogFormats[c.App.LogFormat] {
		return fmt.Errorf("invalid log format: %s (must be text or json)",
			c.App.LogFormat)
	}

	switch c.App.CacheBackend {
	case CacheBackendRedis:
		if !c.Redis.Enabled {
			return fmt.Errorf("cache backend redis requires REDIS_ENABLED")
		}
	case CacheBackendMemory, CacheBackendNone:
	default:
		return fmt.Errorf("invalid cache backend: %s (must be redis, memory, or none)", c.App.CacheBackend)
	}
	if c.App.CacheTTL < 0 {
		return fmt.Errorf("search query cache ttl must not be negative")
	}

	if c.App.RateLimitEnabled {
		if !c.Redis.Enabled {
			return fmt.Errorf("rate limiting requires REDIS_ENABLED")
		}
		if c.App.RateLimitWindow <= 0 {
			return fmt.Errorf("rate limit window must be positive")
		}
		if c.App.RateLimitMaxRequests <= 0 {
			return fmt.Errorf("rate limit max requests must be positive")
		}
	}

	// Validate pipeline configuration
	if c.Ingest.BatchSize <= 0 {
		return fmt.Errorf("ingest batch size must be positive")
	}
	if c.Ingest.Concurrency <= 0 {
		return fmt.Errorf("ingest concurrency must be positive")
	}
	if c.Jobs.Timeout <= 0 {
		return fmt.Errorf("job timeout must be positive")
	}
	if c.Jobs.RetryDelay <= 0 || c.Jobs.RetryMaxDelay < c.Jobs.RetryDelay {
		return fmt.Errorf("job retry delays must be positive with max >= delay")
	}
	if c.NATS.URL == "" {
		return fmt.Errorf("nats url is required")
	}
	if c.Report.Dir == "" {
		return fmt.Errorf("report dir is required")
	}

	return nil
}
