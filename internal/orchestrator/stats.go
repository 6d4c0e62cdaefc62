package orchestrator

import "sync"

// Stats aggregates generation activity since start or the last reset.
type Stats struct {
	TotalGenerations int64   `json:"total_generations"`
	StreamedCount    int64   `json:"streamed"`
	TotalTokensUsed  int64   `json:"total_tokens_used"`
	TotalCost        float64 `json:"total_cost"`
	CacheHits        int64   `json:"cache_hits"`
	Failures         int64   `json:"failures"`
	AvgLatencyMs     float64 `json:"avg_latency_ms"`
}

type statsRecorder struct {
	mu    sync.Mutex
	stats Stats
}

func (r *statsRecorder) success(streamed bool, tokens int, cost float64, cacheHit bool, latencyMs int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stats.TotalGenerations++
	if streamed {
		r.stats.StreamedCount++
	}
	r.stats.TotalTokensUsed += int64(tokens)
	r.stats.TotalCost += cost
	if cacheHit {
		r.stats.CacheHits++
	}
	r.stats.AvgLatencyMs += (float64(latencyMs) - r.stats.AvgLatencyMs) / float64(r.stats.TotalGenerations)
}

func (r *statsRecorder) failure() {
	r.mu.Lock()
	r.stats.Failures++
	r.mu.Unlock()
}

func (r *statsRecorder) snapshot() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

func (r *statsRecorder) reset() {
	r.mu.Lock()
	r.stats = Stats{}
	r.mu.Unlock()
}
