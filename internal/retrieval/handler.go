package retrieval

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/aiox-platform/notigen/internal/api"
	"github.com/aiox-platform/notigen/internal/vectorindex"
)

// SearchRequest selects one search variant: Queries runs a multi-query
// search, Keywords a hybrid search, Expand an expanded search and Prefer a
// reranked search. Plain semantic search is used otherwise.
type SearchRequest struct {
	Query
	Keywords   []string           `json:"keywords,omitempty"`
	Boost      float64            `json:"boost,omitempty" validate:"gte=0"`
	RequireAll bool               `json:"require_all,omitempty"`
	Expand     []string           `json:"expand,omitempty"`
	Prefer     vectorindex.Filter `json:"prefer,omitempty"`
	Queries    []string           `json:"queries,omitempty" validate:"max=10"`
	Strategy   MergeStrategy      `json:"strategy,omitempty" validate:"omitempty,oneof=max avg sum"`
}

// Handler exposes template search over HTTP.
type Handler struct {
	engine   *Engine
	validate *validator.Validate
}

func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine, validate: validator.New()}
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	if len(req.Queries) > 0 && req.Text == "" {
		req.Text = req.Queries[0]
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	var (
		resp *Response
		err  error
	)
	ctx := r.Context()
	switch {
	case len(req.Queries) > 0:
		resp, err = h.engine.MultiQuerySearch(ctx, req.Queries, MultiQueryOptions{
			TopK:           req.TopK,
			ScoreThreshold: req.ScoreThreshold,
			Filter:         req.Filter,
			Strategy:       req.Strategy,
		})
	case len(req.Keywords) > 0:
		resp, err = h.engine.HybridSearch(ctx, req.Query, req.Keywords, HybridOptions{Boost: req.Boost, RequireAll: req.RequireAll})
	case len(req.Expand) > 0:
		resp, err = h.engine.SearchWithExpansion(ctx, req.Query, req.Expand)
	case !req.Prefer.IsZero():
		resp, err = h.engine.SearchWithReranking(ctx, req.Query, PreferenceScore(req.Prefer))
	default:
		resp, err = h.engine.Search(ctx, req.Query)
	}
	if err != nil {
		slog.Error("template search failed", "error", err)
		api.HandleError(w, api.ErrServiceUnavailable)
		return
	}
	api.JSON(w, http.StatusOK, resp)
}

// Similar lists templates close to an indexed template.
func (h *Handler) Similar(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	topK, _ := strconv.Atoi(q.Get("top_k"))
	threshold, _ := strconv.ParseFloat(q.Get("score_threshold"), 64)

	resp, err := h.engine.FindSimilar(r.Context(), chi.URLParam(r, "templateID"), topK, threshold, q.Get("include_self") != "true")
	if err != nil {
		if errors.Is(err, vectorindex.ErrDocumentNotFound) {
			api.HandleError(w, api.NewNotFoundError("template not found"))
			return
		}
		slog.Error("similar template search failed", "error", err)
		api.HandleError(w, api.ErrServiceUnavailable)
		return
	}
	api.JSON(w, http.StatusOK, resp)
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	api.JSON(w, http.StatusOK, h.engine.Stats())
}

// PreferenceScore scores a result by the share of non-empty preference
// fields it matches. Each preferred tag counts as one field.
func PreferenceScore(prefer vectorindex.Filter) ScoreFunc {
	return func(r Result) float64 {
		total, hits := 0, 0
		check := func(want, got string) {
			if want == "" {
				return
			}
			total++
			if strings.EqualFold(want, got) {
				hits++
			}
		}
		check(prefer.Channel, r.Payload.Channel)
		check(prefer.Category, r.Payload.Category)
		check(prefer.Tone, r.Payload.Tone)
		check(prefer.Language, r.Payload.Language)
		for _, tag := range prefer.Tags {
			total++
			for _, have := range r.Payload.Tags {
				if strings.EqualFold(tag, have) {
					hits++
					break
				}
			}
		}
		if total == 0 {
			return 0
		}
		return float64(hits) / float64(total)
	}
}
