package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds Redis cache configuration
type Config struct {
	Address      string
	Password     string // #nosec G117
	DB           int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
	MinIdleConns int
}

// Cache wraps redis.Client with additional functionality
type Cache struct {
	client *redis.Client
	logger *slog.Logger
}

// New creates a new Redis cache client
func New(cfg Config, logger *slog.Logger) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("redis connection established",
		"address", cfg.Address,
		"db", cfg.DB,
	)

	return &Cache{
		client: client,
		logger: logger,
	}, nil
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	if err := c.client.Close(); err != nil {
		return fmt.Errorf("failed to close Redis connection: %w", err)
	}
	c.logger.Info("redis connection closed")
	return nil
}

// HealthCheck performs a health check on Redis
func (c *Cache) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	return c.client.Ping(ctx).Err()
}

// GetBytes retrieves a raw value from cache.
func (c *Cache) GetBytes(ctx context.Context, key string) ([]byte, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, ErrCacheMiss
	}
	if err != nil {
		c.logger.Error("failed to get cache bytes", "key", key, "error", err)
		return nil, fmt.Errorf("failed to get cache bytes: %w", err)
	}
	return val, nil
}

// Set sets a value in cache with TTL
func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		if isContextDoneError(err) {
			c.logger.Debug("cache set aborted by context", "key", key, "error", err)
			return fmt.Errorf("failed to set cache: %w", err)
		}
		c.logger.Error("failed to set cache", "key", key, "error", err)
		return fmt.Errorf("failed to set cache: %w", err)
	}
	return nil
}

// Entry is one key/value pair written by SetMulti.
type Entry struct {
	Key   string
	Value interface{}
}

// SetMulti writes all entries in a single MULTI/EXEC transaction so readers
// never observe a partial set. A zero ttl keeps the keys without expiry.
func (c *Cache) SetMulti(ctx context.Context, entries []Entry, ttl time.Duration) error {
	if len(entries) == 0 {
		return nil
	}
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, e := range entries {
			pipe.Set(ctx, e.Key, e.Value, ttl)
		}
		return nil
	})
	if err != nil {
		if isContextDoneError(err) {
			c.logger.Debug("cache set multi aborted by context", "keys", len(entries), "error", err)
			return fmt.Errorf("failed to set cache entries: %w", err)
		}
		c.logger.Error("failed to set cache entries", "keys", len(entries), "error", err)
		return fmt.Errorf("failed to set cache entries: %w", err)
	}
	return nil
}

// MGetBytes retrieves raw values for keys. Missing keys yield nil at their position.
func (c *Cache) MGetBytes(ctx context.Context, keys ...string) ([][]byte, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	vals, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		c.logger.Error("failed to mget cache", "keys", len(keys), "error", err)
		return nil, fmt.Errorf("failed to mget cache: %w", err)
	}
	result := make([][]byte, len(vals))
	for i, v := range vals {
		switch val := v.(type) {
		case string:
			result[i] = []byte(val)
		case []byte:
			result[i] = val
		}
	}
	return result, nil
}

func isContextDoneError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Delete deletes a value from cache
func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.logger.Error("failed to delete cache", "keys", keys, "error", err)
		return fmt.Errorf("failed to delete cache: %w", err)
	}
	return nil
}

// DeleteByPattern deletes keys that match the pattern using SCAN.
func (c *Cache) DeleteByPattern(ctx context.Context, pattern string, batchSize int64) (int64, error) {
	if batchSize <= 0 {
		batchSize = 500
	}
	var cursor uint64
	var deleted int64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, batchSize).Result()
		if err != nil {
			c.logger.Error("failed to scan keys", "pattern", pattern, "error", err)
			return deleted, fmt.Errorf("failed to scan keys: %w", err)
		}
		if len(keys) > 0 {
			n, err := c.client.Del(ctx, keys...).Result()
			if err != nil {
				c.logger.Error("failed to delete keys", "pattern", pattern, "error", err)
				return deleted, fmt.Errorf("failed to delete keys: %w", err)
			}
			deleted += n
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return deleted, nil
}

var incrementWithTTLScript = redis.NewScript(`
local v = redis.call('INCR', KEYS[1])
if v == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return v
`)

// IncrementWithTTL increments a counter and sets TTL when the key is created.
func (c *Cache) IncrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if ttl <= 0 {
		return 0, fmt.Errorf("ttl must be positive")
	}
	val, err := incrementWithTTLScript.Run(ctx, c.client, []string{key}, ttl.Milliseconds()).Int64()
	if err != nil {
		c.logger.Error("failed to increment cache with ttl", "key", key, "error", err)
		return 0, fmt.Errorf("failed to increment cache with ttl: %w", err)
	}
	return val, nil
}

// Stats returns Redis pool statistics
func (c *Cache) Stats() *redis.PoolStats {
	return c.client.PoolStats()
}

// LogStats logs current Redis pool statistics
func (c *Cache) LogStats() {
	stats := c.Stats()
	c.logger.Debug("redis pool stats",
		"hits", stats.Hits,
		"misses", stats.Misses,
		"timeouts", stats.Timeouts,
		"total_conns", stats.TotalConns,
		"idle_conns", stats.IdleConns,
		"stale_conns", stats.StaleConns,
	)
}
