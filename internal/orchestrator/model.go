package orchestrator

import (
	"github.com/aiox-platform/notigen/internal/assembly"
	"github.com/aiox-platform/notigen/internal/llm"
	"github.com/aiox-platform/notigen/internal/retrieval"
	"github.com/aiox-platform/notigen/internal/vectorindex"
)

// Options tune one generation. Zero values and nil pointers fall back to the
// orchestrator defaults.
type Options struct {
	TopK             int                `json:"top_k,omitempty" validate:"omitempty,min=1,max=50"`
	ScoreThreshold   *float64           `json:"score_threshold,omitempty" validate:"omitempty,min=0,max=1"`
	Filter           vectorindex.Filter `json:"filter,omitempty"`
	MinScore         *float64           `json:"min_score,omitempty" validate:"omitempty,min=0,max=1"`
	DiversityWeight  *float64           `json:"diversity_weight,omitempty" validate:"omitempty,min=0,max=1"`
	ContextMaxTokens int                `json:"context_max_tokens,omitempty" validate:"omitempty,min=100,max=128000"`
	SystemPrompt     string             `json:"system_prompt,omitempty" validate:"max=8000"`
	Temperature      *float64           `json:"temperature,omitempty" validate:"omitempty,min=0,max=2"`
	MaxTokens        int                `json:"max_tokens,omitempty" validate:"omitempty,min=1,max=16384"`
	UseCache         *bool              `json:"use_cache,omitempty"`
}

// Defaults are the server-wide settings Options are merged over.
type Defaults struct {
	TopK           int
	ScoreThreshold float64
	Assembly       assembly.Options
	Params         llm.Params
	UseCache       bool
}

type resolved struct {
	query    retrieval.Query
	assembly assembly.Options
	params   llm.Params
	useCache bool
}

func (d Defaults) resolve(text string, o Options) resolved {
	r := resolved{
		query: retrieval.Query{
			Text:           text,
			TopK:           d.TopK,
			ScoreThreshold: d.ScoreThreshold,
			Filter:         o.Filter,
		},
		assembly: d.Assembly,
		params:   d.Params,
		useCache: d.UseCache,
	}
	if o.TopK > 0 {
		r.query.TopK = o.TopK
	}
	if o.ScoreThreshold != nil {
		r.query.ScoreThreshold = *o.ScoreThreshold
	}
	if o.MinScore != nil {
		r.assembly.MinScore = *o.MinScore
	}
	if o.DiversityWeight != nil {
		r.assembly.DiversityWeight = *o.DiversityWeight
	}
	if o.ContextMaxTokens > 0 {
		r.assembly.MaxTokens = o.ContextMaxTokens
	}
	if o.SystemPrompt != "" {
		r.assembly.SystemPrompt = o.SystemPrompt
	}
	if o.Temperature != nil {
		r.params.Temperature = *o.Temperature
	}
	if o.MaxTokens > 0 {
		r.params.MaxTokens = o.MaxTokens
	}
	if o.UseCache != nil {
		r.useCache = *o.UseCache
	}
	return r
}

// SourceCitation points at a template that shaped the generated content.
// Rank is the 1-based position in the assembled context.
type SourceCitation struct {
	ID       string  `json:"id"`
	Rank     int     `json:"rank"`
	Score    float64 `json:"score"`
	Excerpt  string  `json:"excerpt"`
	Channel  string  `json:"channel,omitempty"`
	Category string  `json:"category,omitempty"`
}

type Timings struct {
	RetrievalMs  int64 `json:"retrieval_ms"`
	AssemblyMs   int64 `json:"assembly_ms"`
	GenerationMs int64 `json:"generation_ms"`
	TotalMs      int64 `json:"total_ms"`
}

type ResultMetadata struct {
	Timings  Timings   `json:"timings"`
	Tokens   llm.Usage `json:"tokens"`
	Cost     float64   `json:"cost"`
	Model    string    `json:"model"`
	CacheHit bool      `json:"cache_hit"`
	// OriginalCost and CachedLatencyMs describe the completion a cache hit
	// replays; Cost stays zero for the hit itself.
	OriginalCost    float64            `json:"original_cost,omitempty"`
	CachedLatencyMs int64              `json:"cached_latency_ms,omitempty"`
	RetryCount      int                `json:"retry_count"`
	FinishReason    string             `json:"finish_reason,omitempty"`
	Retrieval       retrieval.Metadata `json:"retrieval"`
	Context         assembly.Metadata  `json:"context"`
	ConversationID  string             `json:"conversation_id,omitempty"`
}

// Result is the outcome of one generation.
type Result struct {
	Content  string           `json:"content"`
	Sources  []SourceCitation `json:"sources"`
	Metadata ResultMetadata   `json:"metadata"`
}

const excerptLength = 200

func citations(selected []retrieval.Result) []SourceCitation {
	out := make([]SourceCitation, 0, len(selected))
	for i, r := range selected {
		out = append(out, SourceCitation{
			ID:       r.ID,
			Rank:     i + 1,
			Score:    r.Score,
			Excerpt:  excerpt(r.Payload.Content),
			Channel:  r.Payload.Channel,
			Category: r.Payload.Category,
		})
	}
	return out
}

func excerpt(s string) string {
	runes := []rune(s)
	if len(runes) <= excerptLength {
		return s
	}
	return string(runes[:excerptLength])
}

func sourceIDs(sources []SourceCitation) []string {
	ids := make([]string, len(sources))
	for i, s := range sources {
		ids[i] = s.ID
	}
	return ids
}
