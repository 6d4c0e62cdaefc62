package assembly

import (
	"math"

	"github.com/aiox-platform/notigen/internal/retrieval"
)

// CalculateDiversity is one minus the mean pairwise similarity of the results.
// Fewer than two results count as fully diverse.
func CalculateDiversity(results []retrieval.Result) float64 {
	if len(results) < 2 {
		return 1
	}
	tokens := make([]tokenSet, len(results))
	for i, r := range results {
		tokens[i] = tokenize(r.Payload.Content)
	}
	sum, pairs := 0.0, 0
	for i := range tokens {
		for j := i + 1; j < len(tokens); j++ {
			sum += jaccard(tokens[i], tokens[j])
			pairs++
		}
	}
	return 1 - sum/float64(pairs)
}

// Coverage counts the distinct facet values present in a result set.
type Coverage struct {
	Channels   int `json:"channels"`
	Categories int `json:"categories"`
	Tones      int `json:"tones"`
	Languages  int `json:"languages"`
	Tags       int `json:"tags"`
}

func CalculateCoverage(results []retrieval.Result) Coverage {
	channels := map[string]struct{}{}
	categories := map[string]struct{}{}
	tones := map[string]struct{}{}
	languages := map[string]struct{}{}
	tags := map[string]struct{}{}

	add := func(set map[string]struct{}, v string) {
		if v != "" {
			set[v] = struct{}{}
		}
	}
	for _, r := range results {
		add(channels, r.Payload.Channel)
		add(categories, r.Payload.Category)
		add(tones, r.Payload.Tone)
		add(languages, r.Payload.Language)
		for _, t := range r.Payload.Tags {
			add(tags, t)
		}
	}
	return Coverage{
		Channels:   len(channels),
		Categories: len(categories),
		Tones:      len(tones),
		Languages:  len(languages),
		Tags:       len(tags),
	}
}

// Compress re-ranks with a strong diversity weight and keeps
// ceil(n × (1 - targetReduction)) results.
func Compress(results []retrieval.Result, targetReduction float64) []retrieval.Result {
	targetReduction = min(1, max(0, targetReduction))
	keep := int(math.Ceil(float64(len(results)) * (1 - targetReduction)))
	ranked := MMR(results, compressionWeight)
	if keep < len(ranked) {
		ranked = ranked[:keep]
	}
	return ranked
}
