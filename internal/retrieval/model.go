package retrieval

import "github.com/aiox-platform/notigen/internal/vectorindex"

// Query describes one semantic search.
type Query struct {
	Text           string             `json:"text" validate:"required"`
	TopK           int                `json:"top_k" validate:"gte=0,lte=100"`
	ScoreThreshold float64            `json:"score_threshold" validate:"gte=0,lte=1"`
	Filter         vectorindex.Filter `json:"filter"`
}

// Result is a retrieved template with a score in [0,1].
type Result struct {
	ID      string              `json:"id"`
	Score   float64             `json:"score"`
	Payload vectorindex.Payload `json:"payload"`
}

type Metadata struct {
	Cached          bool     `json:"cached"`
	EmbeddingCached bool     `json:"embedding_cached"`
	SearchTimeMs    int64    `json:"search_time_ms"`
	TotalResults    int      `json:"total_results"`
	Expanded        bool     `json:"expanded,omitempty"`
	ExpansionTerms  []string `json:"expansion_terms,omitempty"`
	Reranked        bool     `json:"reranked,omitempty"`
	Hybrid          bool     `json:"hybrid,omitempty"`
	Queries         int      `json:"queries,omitempty"`
}

type Response struct {
	Results  []Result `json:"results"`
	Metadata Metadata `json:"metadata"`
}

// Stats summarizes engine activity since start or the last reset.
type Stats struct {
	TotalSearches   int64   `json:"total_searches"`
	CacheHits       int64   `json:"cache_hits"`
	CacheMisses     int64   `json:"cache_misses"`
	CacheErrors     int64   `json:"cache_errors"`
	Errors          int64   `json:"errors"`
	AvgSearchTimeMs float64 `json:"avg_search_time_ms"`
}

// Normalization selects how index similarities are mapped to [0,1].
type Normalization string

const (
	// NormalizeFixed clamps cosine similarity into [0,1] so scores stay
	// comparable across queries.
	NormalizeFixed Normalization = "fixed"
	// NormalizeMinMax rescales each result set so its best hit scores 1 and
	// its worst scores 0.
	NormalizeMinMax Normalization = "minmax"
)

// MergeStrategy combines scores of a document found by several queries.
type MergeStrategy string

const (
	MergeMax MergeStrategy = "max"
	MergeAvg MergeStrategy = "avg"
	MergeSum MergeStrategy = "sum"
)
