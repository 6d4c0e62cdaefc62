// Package respcache caches completed generations keyed by prompt and
// sampling parameters.
package respcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/aiox-platform/notigen/internal/kvstore"
	"github.com/aiox-platform/notigen/internal/llm"
	"github.com/aiox-platform/notigen/internal/metrics"
)

const (
	keyPrefix  = "resp:"
	DefaultTTL = 24 * time.Hour
)

// CachedResponse is a completion as it was first produced. Cost is the
// original cost; a hit adds no further cost.
type CachedResponse struct {
	Key        string    `json:"key"`
	Response   string    `json:"response"`
	TokensUsed llm.Usage `json:"tokens_used"`
	Cost       float64   `json:"cost"`
	Model      string    `json:"model"`
	LatencyMs  int64     `json:"latency_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

type Cache struct {
	store   kvstore.Store
	ttl     time.Duration
	enabled bool
}

// New returns a cache over store. A nil store or enabled=false yields a cache
// that is never available.
func New(store kvstore.Store, ttl time.Duration, enabled bool) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{store: store, ttl: ttl, enabled: enabled}
}

// Key derives the cache key for a prompt pair and its sampling parameters.
func Key(systemPrompt, userPrompt string, params llm.Params) string {
	h := sha256.New()
	h.Write([]byte(systemPrompt))
	h.Write([]byte{0})
	h.Write([]byte(userPrompt))
	return keyPrefix + hex.EncodeToString(h.Sum(nil)) +
		":t" + strconv.FormatFloat(params.Temperature, 'f', -1, 64) +
		":m" + strconv.Itoa(params.MaxTokens)
}

func (c *Cache) IsAvailable(ctx context.Context) bool {
	if c == nil || !c.enabled || c.store == nil {
		return false
	}
	return c.store.Ping(ctx) == nil
}

// Get returns the cached response for key. Store and decode failures are
// logged and reported as a miss.
func (c *Cache) Get(ctx context.Context, key string) (*CachedResponse, bool) {
	if c == nil || !c.enabled || c.store == nil {
		return nil, false
	}

	data, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, kvstore.ErrNotFound) {
			slog.Warn("response cache read failed", "key", key, "error", err)
		}
		metrics.CacheResult("response", false)
		return nil, false
	}

	var resp CachedResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		slog.Warn("response cache entry corrupt", "key", key, "error", err)
		metrics.CacheResult("response", false)
		return nil, false
	}
	metrics.CacheResult("response", true)
	return &resp, true
}

func (c *Cache) Set(ctx context.Context, key string, resp CachedResponse) error {
	if c == nil || !c.enabled || c.store == nil {
		return nil
	}
	resp.Key = key
	if resp.CreatedAt.IsZero() {
		resp.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return c.store.Set(ctx, key, data, c.ttl)
}
