package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventPageKey(t *testing.T) {
	assert.Equal(t, "replay:events:sess-1:1200:0", EventPageKey("sess-1", 1200, 0))
	assert.Equal(t, "replay:session:sess-1", SessionKey("sess-1"))

	// Паттерн инвалидации покрывает оба вида ключей
	assert.Equal(t, "replay:*:sess-1*", sessionKeyPattern("sess-1"))
}

func TestMemoryCache_GetSetDelete(t *testing.T) {
	c := NewMemoryReplayCache()
	defer c.Close()
	ctx := context.Background()

	_, err := c.Get(ctx, "missing")
	assert.True(t, IsCacheMiss(err))

	require.NoError(t, c.Set(ctx, "k1", []byte("v1"), 0))
	val, err := c.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), val)

	exists, err := c.Exists(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, c.Delete(ctx, "k1"))
	_, err = c.Get(ctx, "k1")
	assert.True(t, IsCacheMiss(err))
}

func TestMemoryCache_TTLExpiry(t *testing.T) {
	c := NewMemoryReplayCache()
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k1", []byte("v1"), 10*time.Millisecond))

	_, err := c.Get(ctx, "k1")
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		_, err := c.Get(ctx, "k1")
		return IsCacheMiss(err)
	}, time.Second, 5*time.Millisecond)
}

func TestMemoryCache_InvalidateSession(t *testing.T) {
	c := NewMemoryReplayCache()
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, EventPageKey("sess-1", 1200, 0), []byte("p0"), 0))
	require.NoError(t, c.Set(ctx, EventPageKey("sess-1", 1200, 1200), []byte("p1"), 0))
	require.NoError(t, c.Set(ctx, SessionKey("sess-1"), []byte("meta"), 0))
	require.NoError(t, c.Set(ctx, EventPageKey("sess-2", 1200, 0), []byte("other"), 0))

	require.NoError(t, c.InvalidateSession(ctx, "sess-1"))

	// Все ключи sess-1 сброшены, чужая сессия не тронута
	for _, key := range []string{
		EventPageKey("sess-1", 1200, 0),
		EventPageKey("sess-1", 1200, 1200),
		SessionKey("sess-1"),
	} {
		_, err := c.Get(ctx, key)
		assert.True(t, IsCacheMiss(err), key)
	}

	val, err := c.Get(ctx, EventPageKey("sess-2", 1200, 0))
	require.NoError(t, err)
	assert.Equal(t, []byte("other"), val)
}

func TestMemoryCache_Metrics(t *testing.T) {
	c := NewMemoryReplayCache()
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k1", []byte("v1"), 0))
	_, _ = c.Get(ctx, "k1")
	_, _ = c.Get(ctx, "k1")
	_, _ = c.Get(ctx, "missing")

	m := c.GetMetrics()
	assert.Equal(t, int64(3), m.TotalRequests)
	assert.Equal(t, int64(2), m.CacheHits)
	assert.Equal(t, int64(1), m.CacheMisses)
	assert.InDelta(t, 2.0/3.0, m.HitRatio, 1e-9)
}
