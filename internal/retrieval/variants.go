package retrieval

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aiox-platform/notigen/internal/vectorindex"
)

const (
	DefaultKeywordBoost = 1.2

	rerankCandidateFactor = 3
	rerankOriginalWeight  = 0.6
	rerankCustomWeight    = 0.4
)

type HybridOptions struct {
	Boost      float64
	RequireAll bool
}

// HybridSearch boosts each result by Boost^matches, where matches counts the
// keywords found in the content or tags, and re-sorts. Boosted scores are
// capped at 1.
func (e *Engine) HybridSearch(ctx context.Context, q Query, keywords []string, opts HybridOptions) (*Response, error) {
	if opts.Boost <= 0 {
		opts.Boost = DefaultKeywordBoost
	}

	resp, err := e.Search(ctx, q)
	if err != nil {
		return nil, err
	}

	lowered := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			lowered = append(lowered, k)
		}
	}

	boosted := make([]Result, 0, len(resp.Results))
	for _, r := range resp.Results {
		matches := keywordMatches(r, lowered)
		if opts.RequireAll && matches < len(lowered) {
			continue
		}
		r.Score = math.Min(1, r.Score*math.Pow(opts.Boost, float64(matches)))
		boosted = append(boosted, r)
	}
	sortResults(boosted)

	resp.Results = boosted
	resp.Metadata.Hybrid = true
	resp.Metadata.TotalResults = len(boosted)
	return resp, nil
}

func keywordMatches(r Result, keywords []string) int {
	content := strings.ToLower(r.Payload.Content)
	n := 0
	for _, k := range keywords {
		if strings.Contains(content, k) {
			n++
			continue
		}
		for _, tag := range r.Payload.Tags {
			if strings.Contains(strings.ToLower(tag), k) {
				n++
				break
			}
		}
	}
	return n
}

// SearchWithExpansion appends expansion terms to the query text before
// searching and reports the terms used.
func (e *Engine) SearchWithExpansion(ctx context.Context, q Query, terms []string) (*Response, error) {
	var used []string
	for _, t := range terms {
		if t = strings.TrimSpace(t); t != "" {
			used = append(used, t)
		}
	}
	if len(used) > 0 {
		q.Text = q.Text + " " + strings.Join(used, " ")
	}

	resp, err := e.Search(ctx, q)
	if err != nil {
		return nil, err
	}
	resp.Metadata.Expanded = len(used) > 0
	resp.Metadata.ExpansionTerms = used
	return resp, nil
}

// ScoreFunc assigns a caller-defined relevance in [0,1] to a result.
type ScoreFunc func(Result) float64

// SearchWithReranking fetches three times TopK candidates, blends
// 0.6×original with 0.4×custom score, and keeps the best TopK.
func (e *Engine) SearchWithReranking(ctx context.Context, q Query, score ScoreFunc) (*Response, error) {
	if score == nil {
		return nil, errors.New("reranking requires a score function")
	}
	topK := q.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}
	q.TopK = topK * rerankCandidateFactor

	resp, err := e.Search(ctx, q)
	if err != nil {
		return nil, err
	}

	reranked := make([]Result, len(resp.Results))
	for i, r := range resp.Results {
		r.Score = rerankOriginalWeight*r.Score + rerankCustomWeight*score(r)
		reranked[i] = r
	}
	sortResults(reranked)
	if len(reranked) > topK {
		reranked = reranked[:topK]
	}

	resp.Results = reranked
	resp.Metadata.Reranked = true
	resp.Metadata.TotalResults = len(reranked)
	return resp, nil
}

type MultiQueryOptions struct {
	TopK           int
	ScoreThreshold float64
	Filter         vectorindex.Filter
	Strategy       MergeStrategy
}

// MultiQuerySearch runs each query concurrently and merges results by id.
// Merging walks the responses in query order, so the outcome does not depend
// on which search finishes first.
func (e *Engine) MultiQuerySearch(ctx context.Context, queries []string, opts MultiQueryOptions) (*Response, error) {
	if len(queries) == 0 {
		return nil, errors.New("multi-query search needs at least one query")
	}
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	start := time.Now()

	responses := make([]*Response, len(queries))
	g, gctx := errgroup.WithContext(ctx)
	for i, text := range queries {
		g.Go(func() error {
			resp, err := e.Search(gctx, Query{
				Text:           text,
				TopK:           opts.TopK,
				ScoreThreshold: opts.ScoreThreshold,
				Filter:         opts.Filter,
			})
			if err != nil {
				return fmt.Errorf("query %d: %w", i, err)
			}
			responses[i] = resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := mergeResults(responses, opts.Strategy)
	if len(merged) > opts.TopK {
		merged = merged[:opts.TopK]
	}

	allCached := true
	for _, r := range responses {
		allCached = allCached && r.Metadata.Cached
	}
	return &Response{
		Results: merged,
		Metadata: Metadata{
			Cached:       allCached,
			SearchTimeMs: time.Since(start).Milliseconds(),
			TotalResults: len(merged),
			Queries:      len(queries),
		},
	}, nil
}

// mergeResults combines per-query results. For avg each further match is
// folded in as (current + next) / 2; sum is capped at 1.
func mergeResults(responses []*Response, strategy MergeStrategy) []Result {
	byID := make(map[string]*Result)
	var order []string
	for _, resp := range responses {
		for _, r := range resp.Results {
			cur, ok := byID[r.ID]
			if !ok {
				copied := r
				byID[r.ID] = &copied
				order = append(order, r.ID)
				continue
			}
			switch strategy {
			case MergeAvg:
				cur.Score = (cur.Score + r.Score) / 2
			case MergeSum:
				cur.Score = math.Min(1, cur.Score+r.Score)
			default:
				cur.Score = math.Max(cur.Score, r.Score)
			}
		}
	}

	out := make([]Result, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	sortResults(out)
	return out
}

// FindSimilar searches with the content of an indexed document as the query.
func (e *Engine) FindSimilar(ctx context.Context, id string, topK int, threshold float64, excludeSelf bool) (*Response, error) {
	doc, err := e.index.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading document %s: %w", id, err)
	}
	if topK <= 0 {
		topK = DefaultTopK
	}

	fetch := topK
	if excludeSelf {
		fetch++
	}
	resp, err := e.Search(ctx, Query{Text: doc.Payload.Content, TopK: fetch, ScoreThreshold: threshold})
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(resp.Results))
	for _, r := range resp.Results {
		if excludeSelf && r.ID == id {
			continue
		}
		results = append(results, r)
	}
	if len(results) > topK {
		results = results[:topK]
	}
	resp.Results = results
	resp.Metadata.TotalResults = len(results)
	return resp, nil
}
