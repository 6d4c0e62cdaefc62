package respcache

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiox-platform/notigen/internal/kvstore"
	"github.com/aiox-platform/notigen/internal/llm"
)

func newRedisCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return New(kvstore.NewRedisStore(client), time.Hour, true), mr
}

func TestKey_Format(t *testing.T) {
	key := Key("sys", "user", llm.Params{Temperature: 0.7, MaxTokens: 1000})
	assert.True(t, strings.HasPrefix(key, "resp:"))
	assert.True(t, strings.HasSuffix(key, ":t0.7:m1000"))
	// "resp:" + 64 hex chars + suffix
	assert.Len(t, key, len("resp:")+64+len(":t0.7:m1000"))
}

func TestKey_SeparatesPromptBoundary(t *testing.T) {
	p := llm.Params{Temperature: 0.7, MaxTokens: 1000}
	assert.NotEqual(t, Key("ab", "c", p), Key("a", "bc", p))
	assert.Equal(t, Key("a", "b", p), Key("a", "b", p))
}

func TestKey_DependsOnParams(t *testing.T) {
	a := Key("s", "u", llm.Params{Temperature: 0.7, MaxTokens: 1000})
	b := Key("s", "u", llm.Params{Temperature: 0.2, MaxTokens: 1000})
	c := Key("s", "u", llm.Params{Temperature: 0.7, MaxTokens: 500})
	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestCache_SetThenGet(t *testing.T) {
	cache, _ := newRedisCache(t)
	ctx := context.Background()
	key := Key("sys", "order shipped", llm.Params{Temperature: 0.7, MaxTokens: 1000})

	_, ok := cache.Get(ctx, key)
	assert.False(t, ok)

	err := cache.Set(ctx, key, CachedResponse{
		Response:   "Your order is on its way.",
		TokensUsed: llm.Usage{InputTokens: 900, OutputTokens: 40, TotalTokens: 940},
		Cost:       0.0002,
		Model:      "gpt-4o-mini",
		LatencyMs:  850,
	})
	require.NoError(t, err)

	got, ok := cache.Get(ctx, key)
	require.True(t, ok)
	assert.Equal(t, key, got.Key)
	assert.Equal(t, "Your order is on its way.", got.Response)
	assert.Equal(t, 940, got.TokensUsed.TotalTokens)
	assert.Equal(t, "gpt-4o-mini", got.Model)
	assert.Equal(t, int64(850), got.LatencyMs)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestCache_EntriesExpire(t *testing.T) {
	cache, mr := newRedisCache(t)
	ctx := context.Background()
	require.NoError(t, cache.Set(ctx, "resp:x", CachedResponse{Response: "hi"}))

	mr.FastForward(2 * time.Hour)
	_, ok := cache.Get(ctx, "resp:x")
	assert.False(t, ok)
}

func TestCache_CorruptEntryIsMiss(t *testing.T) {
	cache, mr := newRedisCache(t)
	require.NoError(t, mr.Set("resp:bad", "{not json"))

	_, ok := cache.Get(context.Background(), "resp:bad")
	assert.False(t, ok)
}

func TestCache_StoreDownIsMiss(t *testing.T) {
	cache, mr := newRedisCache(t)
	ctx := context.Background()
	mr.Close()

	assert.False(t, cache.IsAvailable(ctx))
	_, ok := cache.Get(ctx, "resp:any")
	assert.False(t, ok)
}

func TestCache_Availability(t *testing.T) {
	ctx := context.Background()
	mem := kvstore.NewMemoryStore()

	assert.True(t, New(mem, 0, true).IsAvailable(ctx))
	assert.False(t, New(mem, 0, false).IsAvailable(ctx))
	assert.False(t, New(nil, 0, true).IsAvailable(ctx))

	var nilCache *Cache
	assert.False(t, nilCache.IsAvailable(ctx))
	_, ok := nilCache.Get(ctx, "k")
	assert.False(t, ok)
}

func TestCache_DisabledIgnoresWrites(t *testing.T) {
	mem := kvstore.NewMemoryStore()
	cache := New(mem, time.Hour, false)
	require.NoError(t, cache.Set(context.Background(), "resp:k", CachedResponse{Response: "x"}))
	assert.Zero(t, mem.Len())
}
