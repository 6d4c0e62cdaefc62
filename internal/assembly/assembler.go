// Package assembly turns retrieved templates into a single prompt: it filters
// by relevance, removes near-duplicates, re-ranks for diversity and fits the
// result into a token budget.
package assembly

import (
	"cmp"
	"math"
	"slices"
	"unicode/utf8"

	"github.com/aiox-platform/notigen/internal/retrieval"
)

const (
	DefaultMinScore            = 0.5
	DefaultSimilarityThreshold = 0.95
	DefaultDiversityWeight     = 0.3
	DefaultMaxTokens           = 8000
	DefaultPromptReserve       = 1000
	DefaultCompletionReserve   = 1000

	tokensPerChar      = 0.25
	formattingOverhead = 10
	compressionWeight  = 0.7
)

// Options tunes one assembly. DiversityWeight is λ in the MMR objective;
// zero is a meaningful value and yields plain score order.
type Options struct {
	MinScore            float64
	SimilarityThreshold float64
	DiversityWeight     float64
	MaxTokens           int
	PromptReserve       int
	CompletionReserve   int
	SystemPrompt        string
}

func DefaultOptions() Options {
	return Options{
		MinScore:            DefaultMinScore,
		SimilarityThreshold: DefaultSimilarityThreshold,
		DiversityWeight:     DefaultDiversityWeight,
		MaxTokens:           DefaultMaxTokens,
		PromptReserve:       DefaultPromptReserve,
		CompletionReserve:   DefaultCompletionReserve,
	}
}

type Metadata struct {
	TotalResults        int     `json:"total_results"`
	RelevantResults     int     `json:"relevant_results"`
	DeduplicatedResults int     `json:"deduplicated_results"`
	SelectedResults     int     `json:"selected_results"`
	EstimatedTokens     int     `json:"estimated_tokens"`
	MaxTokens           int     `json:"max_tokens"`
	PromptReserve       int     `json:"prompt_reserve"`
	CompletionReserve   int     `json:"completion_reserve"`
	TokenUtilization    float64 `json:"token_utilization"`
}

// Context is the assembled prompt and the templates it was built from, in
// final rank order.
type Context struct {
	Prompt       string             `json:"prompt"`
	SystemPrompt string             `json:"system_prompt"`
	UserPrompt   string             `json:"user_prompt"`
	Selected     []retrieval.Result `json:"selected"`
	Metadata     Metadata           `json:"metadata"`
}

// Assemble runs the relevance, dedup, diversity and budget stages over
// results and renders the prompt for query.
func Assemble(results []retrieval.Result, query string, opts Options) *Context {
	if opts.SimilarityThreshold <= 0 {
		opts.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxTokens
	}

	relevant := FilterRelevant(results, opts.MinScore)
	deduped := Deduplicate(relevant, opts.SimilarityThreshold)
	ranked := MMR(deduped, opts.DiversityWeight)
	selected, tokens := FitBudget(ranked, opts.MaxTokens)

	system := EffectiveSystemPrompt(opts.SystemPrompt)
	user := BuildUserPrompt(selected, query)
	return &Context{
		Prompt:       BuildPrompt(opts.SystemPrompt, selected, query),
		SystemPrompt: system,
		UserPrompt:   user,
		Selected:     selected,
		Metadata: Metadata{
			TotalResults:        len(results),
			RelevantResults:     len(relevant),
			DeduplicatedResults: len(deduped),
			SelectedResults:     len(selected),
			EstimatedTokens:     tokens,
			MaxTokens:           opts.MaxTokens,
			PromptReserve:       opts.PromptReserve,
			CompletionReserve:   opts.CompletionReserve,
			TokenUtilization:    float64(tokens) / float64(opts.MaxTokens),
		},
	}
}

// FilterRelevant drops results scoring below minScore.
func FilterRelevant(results []retrieval.Result, minScore float64) []retrieval.Result {
	out := make([]retrieval.Result, 0, len(results))
	for _, r := range results {
		if r.Score >= minScore {
			out = append(out, r)
		}
	}
	return out
}

// Deduplicate keeps the first occurrence of each id and drops any result whose
// content similarity to an already kept result reaches threshold.
func Deduplicate(results []retrieval.Result, threshold float64) []retrieval.Result {
	out := make([]retrieval.Result, 0, len(results))
	kept := make([]tokenSet, 0, len(results))
	seen := make(map[string]struct{}, len(results))

	for _, r := range results {
		if _, dup := seen[r.ID]; dup {
			continue
		}
		tokens := tokenize(r.Payload.Content)
		duplicate := false
		for _, k := range kept {
			if jaccard(tokens, k) >= threshold {
				duplicate = true
				break
			}
		}
		if duplicate {
			continue
		}
		seen[r.ID] = struct{}{}
		kept = append(kept, tokens)
		out = append(out, r)
	}
	return out
}

// MMR orders results by maximal marginal relevance: starting from the best
// scoring result, each next pick maximizes
// (1-λ)·score - λ·(max similarity to anything already picked).
func MMR(results []retrieval.Result, lambda float64) []retrieval.Result {
	if len(results) == 0 {
		return nil
	}

	candidates := slices.Clone(results)
	slices.SortStableFunc(candidates, func(a, b retrieval.Result) int {
		return cmp.Compare(b.Score, a.Score)
	})
	tokens := make([]tokenSet, len(candidates))
	for i, c := range candidates {
		tokens[i] = tokenize(c.Payload.Content)
	}

	// maxSim[i] tracks candidate i's highest similarity to the selected set.
	maxSim := make([]float64, len(candidates))
	picked := make([]bool, len(candidates))
	out := make([]retrieval.Result, 0, len(candidates))

	next := 0
	for {
		picked[next] = true
		out = append(out, candidates[next])
		if len(out) == len(candidates) {
			return out
		}

		best, bestScore := -1, math.Inf(-1)
		for i := range candidates {
			if picked[i] {
				continue
			}
			maxSim[i] = max(maxSim[i], jaccard(tokens[i], tokens[next]))
			score := (1-lambda)*candidates[i].Score - lambda*maxSim[i]
			if score > bestScore {
				best, bestScore = i, score
			}
		}
		next = best
	}
}

// EstimateTokens approximates the prompt cost of one template.
func EstimateTokens(content string) int {
	return int(math.Ceil(float64(utf8.RuneCountInString(content))*tokensPerChar)) + formattingOverhead
}

// FitBudget accepts results in order until the next one would push the
// estimated total past maxTokens.
func FitBudget(results []retrieval.Result, maxTokens int) ([]retrieval.Result, int) {
	out := make([]retrieval.Result, 0, len(results))
	total := 0
	for _, r := range results {
		cost := EstimateTokens(r.Payload.Content)
		if total+cost > maxTokens {
			break
		}
		total += cost
		out = append(out, r)
	}
	return out, total
}
