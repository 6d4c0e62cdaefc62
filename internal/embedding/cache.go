// Package embedding turns text into vectors through a Provider and keeps the
// results in a shared key-value cache.
package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/aiox-platform/notigen/internal/kvstore"
	"github.com/aiox-platform/notigen/internal/metrics"
	"github.com/aiox-platform/notigen/internal/retry"
)

const (
	DefaultTTL       = 7 * 24 * time.Hour
	DefaultBatchSize = 100
)

// DefaultRetryPolicy is three attempts starting at one second with ±10% jitter.
func DefaultRetryPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 3, BaseDelay: time.Second, Multiplier: 2, Jitter: 0.1}
}

type CacheOptions struct {
	TTL       time.Duration
	BatchSize int
	Retry     retry.Policy
}

// Cache fronts a Provider with a content-addressed vector cache. A nil store
// disables caching and every call goes to the provider.
type Cache struct {
	provider  Provider
	store     kvstore.Store
	ttl       time.Duration
	batchSize int
	policy    retry.Policy

	hits   atomic.Int64
	misses atomic.Int64
}

func NewCache(provider Provider, store kvstore.Store, opts CacheOptions) *Cache {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = DefaultRetryPolicy()
	}
	return &Cache{
		provider:  provider,
		store:     store,
		ttl:       opts.TTL,
		batchSize: opts.BatchSize,
		policy:    opts.Retry,
	}
}

// Model returns the embedding model name of the underlying provider.
func (c *Cache) Model() string { return c.provider.Model() }

// HashText is the content hash used in cache keys.
func HashText(model, text string) string {
	sum := sha256.Sum256([]byte(model + "\x00" + text))
	return hex.EncodeToString(sum[:])
}

func cacheKey(model, hash string) string {
	return "emb:" + model + ":" + hash
}

// Embed returns the vector for text, from cache when possible.
func (c *Cache) Embed(ctx context.Context, text string) (*Vector, error) {
	model := c.provider.Model()
	hash := HashText(model, text)

	if v, ok := c.lookup(ctx, model, hash); ok {
		return v, nil
	}

	var values []float32
	_, err := retry.Do(ctx, c.retryPolicy("embed"), func(ctx context.Context, _ int) error {
		var err error
		values, err = c.provider.Embed(ctx, text)
		return err
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}

	v := c.newVector(model, hash, values)
	c.save(ctx, v)
	return &v, nil
}

// EmbedBatch embeds texts, sending only cache misses to the provider in
// chunks of the configured batch size. Output order matches input order.
func (c *Cache) EmbedBatch(ctx context.Context, texts []string) (*BatchResult, error) {
	start := time.Now()
	model := c.provider.Model()
	res := &BatchResult{Vectors: make([]Vector, len(texts))}

	var missIdx []int
	for i, text := range texts {
		hash := HashText(model, text)
		if v, ok := c.lookup(ctx, model, hash); ok {
			res.Vectors[i] = *v
			res.CacheHits++
			continue
		}
		res.Vectors[i] = Vector{TextHash: hash, Model: model}
		missIdx = append(missIdx, i)
	}
	res.CacheMisses = len(missIdx)

	for lo := 0; lo < len(missIdx); lo += c.batchSize {
		hi := min(lo+c.batchSize, len(missIdx))
		chunk := missIdx[lo:hi]
		batch := make([]string, len(chunk))
		for j, idx := range chunk {
			batch[j] = texts[idx]
		}

		var values [][]float32
		_, err := retry.Do(ctx, c.retryPolicy("embed_batch"), func(ctx context.Context, _ int) error {
			var err error
			values, err = c.provider.EmbedBatch(ctx, batch)
			return err
		}, nil)
		if err != nil {
			return nil, fmt.Errorf("embedding batch of %d texts: %w", len(batch), err)
		}
		if len(values) != len(batch) {
			return nil, fmt.Errorf("provider returned %d vectors for batch of %d", len(values), len(batch))
		}

		for j, idx := range chunk {
			v := c.newVector(model, res.Vectors[idx].TextHash, values[j])
			res.Vectors[idx] = v
			c.save(ctx, v)
		}
	}

	res.ProcessingTime = time.Since(start)
	return res, nil
}

// Stats reports hit and miss counters.
func (c *Cache) Stats() Stats {
	s := Stats{Hits: c.hits.Load(), Misses: c.misses.Load()}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRatio = float64(s.Hits) / float64(total)
	}
	return s
}

func (c *Cache) ResetStats() {
	c.hits.Store(0)
	c.misses.Store(0)
}

func (c *Cache) newVector(model, hash string, values []float32) Vector {
	return Vector{
		TextHash:   hash,
		Model:      model,
		Dimensions: len(values),
		Values:     values,
		CreatedAt:  time.Now().UTC(),
	}
}

func (c *Cache) lookup(ctx context.Context, model, hash string) (*Vector, bool) {
	if c.store == nil {
		c.recordMiss()
		return nil, false
	}
	data, err := c.store.Get(ctx, cacheKey(model, hash))
	if err != nil {
		if !errors.Is(err, kvstore.ErrNotFound) {
			slog.Warn("embedding cache read failed", "error", err)
		}
		c.recordMiss()
		return nil, false
	}

	var v Vector
	if err := json.Unmarshal(data, &v); err != nil {
		slog.Warn("discarding malformed cached embedding", "hash", hash, "error", err)
		c.recordMiss()
		return nil, false
	}
	v.Cached = true
	c.hits.Add(1)
	metrics.CacheResult("embedding", true)
	return &v, true
}

func (c *Cache) recordMiss() {
	c.misses.Add(1)
	metrics.CacheResult("embedding", false)
}

func (c *Cache) save(ctx context.Context, v Vector) {
	if c.store == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		slog.Warn("marshaling embedding for cache", "error", err)
		return
	}
	if err := c.store.Set(ctx, cacheKey(v.Model, v.TextHash), data, c.ttl); err != nil {
		slog.Warn("embedding cache write failed", "error", err)
	}
}

func (c *Cache) retryPolicy(op string) retry.Policy {
	p := c.policy
	p.OnRetry = func(attempt int, err error, delay time.Duration) {
		slog.Warn("embedding provider call failed, retrying",
			"op", op, "attempt", attempt, "delay", delay, "error", err)
	}
	return p
}
