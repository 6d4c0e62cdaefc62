package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notigen_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notigen_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	GenerationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notigen_generations_total",
			Help: "Total number of generation requests by outcome.",
		},
		[]string{"mode", "outcome"},
	)

	GenerationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notigen_generation_duration_seconds",
			Help:    "Generation pipeline duration in seconds by stage.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"stage"},
	)

	TokensUsedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notigen_llm_tokens_total",
			Help: "Tokens consumed by completions.",
		},
		[]string{"kind"},
	)

	CostTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "notigen_llm_cost_total",
			Help: "Accumulated completion cost in provider currency.",
		},
	)

	CacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notigen_cache_lookups_total",
			Help: "Cache lookups by cache and result.",
		},
		[]string{"cache", "result"},
	)

	LLMAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notigen_llm_attempts_total",
			Help: "Completion attempts by outcome class.",
		},
		[]string{"class"},
	)

	ConversationPrunesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "notigen_conversation_prunes_total",
			Help: "Turns dropped from conversations to honour limits.",
		},
	)

	TemplatesIndexedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notigen_templates_indexed_total",
			Help: "Templates written to the vector index by source.",
		},
		[]string{"source"},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		GenerationsTotal,
		GenerationDuration,
		TokensUsedTotal,
		CostTotal,
		CacheLookupsTotal,
		LLMAttemptsTotal,
		ConversationPrunesTotal,
		TemplatesIndexedTotal,
	)
}

// CacheResult records one cache lookup.
func CacheResult(cache string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	CacheLookupsTotal.WithLabelValues(cache, result).Inc()
}
