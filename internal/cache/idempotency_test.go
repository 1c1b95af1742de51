package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, ttl time.Duration) (*IdempotencyCache, *miniredis.Miniredis) {
	t.Helper()
	srv, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		srv.Close()
	})
	return NewIdempotencyCache(client, ttl), srv
}

func TestIdempotencyRoundTrip(t *testing.T) {
	c, _ := newTestCache(t, time.Minute)
	ctx := context.Background()

	_, ok := c.Get(ctx, "generate:abc", "key-1")
	require.False(t, ok)

	entry := Entry{Status: 200, ContentType: "application/json", Body: []byte(`{"job_id":"j1"}`)}
	require.NoError(t, c.Set(ctx, "generate:abc", "key-1", entry))

	got, ok := c.Get(ctx, "generate:abc", "key-1")
	require.True(t, ok)
	require.Equal(t, entry, got)

	// scopes are isolated
	_, ok = c.Get(ctx, "process:abc", "key-1")
	require.False(t, ok)
}

func TestIdempotencyFirstWriteWins(t *testing.T) {
	c, _ := newTestCache(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "s", "k", Entry{Status: 200, Body: []byte("first")}))
	require.NoError(t, c.Set(ctx, "s", "k", Entry{Status: 200, Body: []byte("second")}))

	got, ok := c.Get(ctx, "s", "k")
	require.True(t, ok)
	require.Equal(t, []byte("first"), got.Body)
}

func TestIdempotencyExpires(t *testing.T) {
	c, srv := newTestCache(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "s", "k", Entry{Status: 200, Body: []byte("x")}))
	srv.FastForward(2 * time.Minute)

	_, ok := c.Get(ctx, "s", "k")
	require.False(t, ok)
}

func TestNilCache(t *testing.T) {
	var c *IdempotencyCache
	require.Nil(t, NewIdempotencyCache(nil, time.Minute))
	_, ok := c.Get(context.Background(), "s", "k")
	require.False(t, ok)
	require.NoError(t, c.Set(context.Background(), "s", "k", Entry{Body: []byte("x")}))
}
