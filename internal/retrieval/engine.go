// Package retrieval implements semantic search over the template index with
// result caching, hybrid keyword boosting, query expansion, re-ranking and
// multi-query merging.
package retrieval

import (
	"cmp"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/aiox-platform/notigen/internal/embedding"
	"github.com/aiox-platform/notigen/internal/kvstore"
	"github.com/aiox-platform/notigen/internal/metrics"
	"github.com/aiox-platform/notigen/internal/vectorindex"
)

var tracer = otel.Tracer("github.com/aiox-platform/notigen/internal/retrieval")

const (
	DefaultTopK            = 5
	DefaultCacheTTL        = time.Hour
	DefaultCacheMaxResults = 50
)

// Embedder turns query text into a vector. *embedding.Cache satisfies it.
type Embedder interface {
	Embed(ctx context.Context, text string) (*embedding.Vector, error)
}

type Options struct {
	CacheTTL        time.Duration
	CacheMaxResults int
	Normalization   Normalization
}

// Engine runs searches against a vector index. A nil store disables the
// result cache.
type Engine struct {
	embedder Embedder
	index    vectorindex.Index
	store    kvstore.Store
	opts     Options

	mu    sync.Mutex
	stats Stats
}

func NewEngine(embedder Embedder, index vectorindex.Index, store kvstore.Store, opts Options) *Engine {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = DefaultCacheTTL
	}
	if opts.CacheMaxResults <= 0 {
		opts.CacheMaxResults = DefaultCacheMaxResults
	}
	if opts.Normalization == "" {
		opts.Normalization = NormalizeFixed
	}
	return &Engine{embedder: embedder, index: index, store: store, opts: opts}
}

// Search embeds the query, consults the result cache, and on a miss queries
// the index and normalizes scores.
func (e *Engine) Search(ctx context.Context, q Query) (*Response, error) {
	ctx, span := tracer.Start(ctx, "retrieval.Search")
	defer span.End()

	start := time.Now()
	if q.TopK <= 0 {
		q.TopK = DefaultTopK
	}
	span.SetAttributes(
		attribute.Int("retrieval.top_k", q.TopK),
		attribute.Float64("retrieval.score_threshold", q.ScoreThreshold),
	)

	if q.Text == "" {
		e.recordError()
		return nil, errors.New("search query text is empty")
	}

	vec, err := e.embedder.Embed(ctx, q.Text)
	if err != nil {
		e.recordError()
		span.RecordError(err)
		span.SetStatus(codes.Error, "embedding failed")
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	key := resultCacheKey(q)
	if cached, ok := e.cachedResults(ctx, key); ok {
		if len(cached) > q.TopK {
			cached = cached[:q.TopK]
		}
		elapsed := time.Since(start)
		e.recordSearch(elapsed)
		span.SetAttributes(attribute.Bool("retrieval.cached", true))
		return &Response{
			Results: cached,
			Metadata: Metadata{
				Cached:          true,
				EmbeddingCached: vec.Cached,
				SearchTimeMs:    elapsed.Milliseconds(),
				TotalResults:    len(cached),
			},
		}, nil
	}

	hits, err := e.index.Search(ctx, vec.Values, q.TopK, q.ScoreThreshold, q.Filter)
	if err != nil {
		e.recordError()
		span.RecordError(err)
		span.SetStatus(codes.Error, "index search failed")
		return nil, fmt.Errorf("searching index: %w", err)
	}

	results := Normalize(hits, e.opts.Normalization)
	e.storeResults(ctx, key, results)

	elapsed := time.Since(start)
	e.recordSearch(elapsed)
	span.SetAttributes(attribute.Int("retrieval.results", len(results)))

	return &Response{
		Results: results,
		Metadata: Metadata{
			EmbeddingCached: vec.Cached,
			SearchTimeMs:    elapsed.Milliseconds(),
			TotalResults:    len(results),
		},
	}, nil
}

// Normalize maps index hits to results with scores in [0,1], best first.
func Normalize(hits []vectorindex.Hit, mode Normalization) []Result {
	results := make([]Result, len(hits))
	for i, h := range hits {
		results[i] = Result{ID: h.ID, Score: h.Score, Payload: h.Payload}
	}

	switch mode {
	case NormalizeMinMax:
		if len(results) > 0 {
			lo, hi := results[0].Score, results[0].Score
			for _, r := range results[1:] {
				lo = min(lo, r.Score)
				hi = max(hi, r.Score)
			}
			for i := range results {
				if hi == lo {
					results[i].Score = 1
				} else {
					results[i].Score = (results[i].Score - lo) / (hi - lo)
				}
			}
		}
	default:
		for i := range results {
			results[i].Score = min(1, max(0, results[i].Score))
		}
	}

	sortResults(results)
	return results
}

// sortResults orders by score descending, then id for determinism.
func sortResults(results []Result) {
	slices.SortStableFunc(results, func(a, b Result) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

func resultCacheKey(q Query) string {
	sum := sha256.Sum256([]byte(q.Text + "\x00" + q.Filter.Canonical()))
	return "ret:" + hex.EncodeToString(sum[:]) +
		":" + strconv.Itoa(q.TopK) +
		":" + strconv.FormatFloat(q.ScoreThreshold, 'g', -1, 64)
}

func (e *Engine) cachedResults(ctx context.Context, key string) ([]Result, bool) {
	if e.store == nil {
		return nil, false
	}
	data, err := e.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			e.recordCache(false)
		} else {
			slog.Warn("retrieval cache read failed", "error", err)
			e.recordCacheError()
		}
		return nil, false
	}

	var results []Result
	if err := json.Unmarshal(data, &results); err != nil {
		slog.Warn("discarding malformed cached results", "key", key, "error", err)
		e.recordCacheError()
		return nil, false
	}
	e.recordCache(true)
	return results, true
}

func (e *Engine) storeResults(ctx context.Context, key string, results []Result) {
	if e.store == nil {
		return
	}
	if len(results) > e.opts.CacheMaxResults {
		results = results[:e.opts.CacheMaxResults]
	}
	data, err := json.Marshal(results)
	if err != nil {
		slog.Warn("marshaling results for cache", "error", err)
		e.recordCacheError()
		return
	}
	if err := e.store.Set(ctx, key, data, e.opts.CacheTTL); err != nil {
		slog.Warn("retrieval cache write failed", "error", err)
		e.recordCacheError()
	}
}

// Stats returns a snapshot of engine counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

func (e *Engine) ResetStats() {
	e.mu.Lock()
	e.stats = Stats{}
	e.mu.Unlock()
}

func (e *Engine) recordSearch(elapsed time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stats.TotalSearches++
	ms := float64(elapsed.Microseconds()) / 1000
	e.stats.AvgSearchTimeMs += (ms - e.stats.AvgSearchTimeMs) / float64(e.stats.TotalSearches)
}

func (e *Engine) recordError() {
	e.mu.Lock()
	e.stats.Errors++
	e.mu.Unlock()
}

func (e *Engine) recordCache(hit bool) {
	e.mu.Lock()
	if hit {
		e.stats.CacheHits++
	} else {
		e.stats.CacheMisses++
	}
	e.mu.Unlock()
	metrics.CacheResult("retrieval", hit)
}

func (e *Engine) recordCacheError() {
	e.mu.Lock()
	e.stats.CacheErrors++
	e.mu.Unlock()
}
