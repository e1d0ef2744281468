package cache

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()

	srv := miniredis.RunT(t)
	c, err := New(Config{
		Address:      srv.Addr(),
		DialTimeout:  time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
		PoolSize:     4,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, srv
}

func TestNew_InvalidConfig(t *testing.T) {
	logger := slog.Default()

	// Invalid address should cause connection failure
	cfg := Config{
		Address:      "invalid:9999",
		Password:     "",
		DB:           0,
		MaxRetries:   1,
		DialTimeout:  1 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
		PoolSize:     5,
		MinIdleConns: 1,
	}

	cache, err := New(cfg, logger)
	require.Error(t, err)
	assert.Nil(t, cache)
}

func TestCache_GetSetDelete(t *testing.T) {
	c, srv := newTestCache(t)
	ctx := context.Background()

	_, err := c.GetBytes(ctx, "missing")
	require.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, c.Set(ctx, "k", "v", time.Minute))
	got, err := c.GetBytes(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)
	assert.Equal(t, time.Minute, srv.TTL("k"))

	require.NoError(t, c.Delete(ctx, "k"))
	assert.False(t, srv.Exists("k"))
}

func TestCache_SetMultiAndMGet(t *testing.T) {
	c, srv := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.SetMulti(ctx, nil, 0))
	require.NoError(t, c.SetMulti(ctx, []Entry{
		{Key: "a", Value: []byte("1")},
		{Key: "b", Value: []byte("2")},
	}, 0))
	assert.Zero(t, srv.TTL("a"))

	vals, err := c.MGetBytes(ctx, "a", "missing", "b")
	require.NoError(t, err)
	require.Len(t, vals, 3)
	assert.Equal(t, []byte("1"), vals[0])
	assert.Nil(t, vals[1])
	assert.Equal(t, []byte("2"), vals[2])

	vals, err = c.MGetBytes(ctx)
	require.NoError(t, err)
	assert.Nil(t, vals)
}

func TestCache_DeleteByPattern(t *testing.T) {
	c, srv := newTestCache(t)
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		require.NoError(t, srv.Set(fmt.Sprintf("sq:value:%d", i), "x"))
	}
	require.NoError(t, srv.Set("jobrun:1", "x"))

	deleted, err := c.DeleteByPattern(ctx, "sq:*", 3)
	require.NoError(t, err)
	assert.Equal(t, int64(7), deleted)
	assert.True(t, srv.Exists("jobrun:1"))
}

func TestCache_IncrementWithTTL(t *testing.T) {
	c, srv := newTestCache(t)
	ctx := context.Background()

	_, err := c.IncrementWithTTL(ctx, "rl", 0)
	require.Error(t, err)

	n, err := c.IncrementWithTTL(ctx, "rl", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = c.IncrementWithTTL(ctx, "rl", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, time.Minute, srv.TTL("rl"))
}

func TestCache_HealthCheck(t *testing.T) {
	c, srv := newTestCache(t)

	require.NoError(t, c.HealthCheck(context.Background()))
	srv.SetError("LOADING redis is loading the dataset")
	require.Error(t, c.HealthCheck(context.Background()))
}
