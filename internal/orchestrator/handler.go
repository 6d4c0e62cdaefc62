package orchestrator

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/aiox-platform/notigen/internal/api"
	"github.com/aiox-platform/notigen/internal/llm"
	"github.com/aiox-platform/notigen/internal/memory"
	"github.com/aiox-platform/notigen/internal/retrieval"
)

// GenerateRequest is the body of the generate endpoints.
type GenerateRequest struct {
	Query   string  `json:"query" validate:"required"`
	Options Options `json:"options"`
}

// RetrievalStats exposes the retrieval engine counters. *retrieval.Engine
// satisfies it.
type RetrievalStats interface {
	Stats() retrieval.Stats
	ResetStats()
}

// Handler handles generation HTTP endpoints.
type Handler struct {
	orch      *Orchestrator
	retrieval RetrievalStats
	validate  *validator.Validate
}

// NewHandler creates a new generation handler. retrievalStats may be nil.
func NewHandler(orch *Orchestrator, retrievalStats RetrievalStats) *Handler {
	return &Handler{
		orch:      orch,
		retrieval: retrievalStats,
		validate:  validator.New(),
	}
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request) (*GenerateRequest, bool) {
	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return nil, false
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return nil, false
	}
	return &req, true
}

// Generate runs one generation and returns the full result.
func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}

	res, err := h.orch.Generate(r.Context(), req.Query, req.Options)
	if err != nil {
		api.HandleError(w, toAppError(err))
		return
	}
	api.JSON(w, http.StatusOK, res)
}

// GenerateStream streams generation events as server-sent events.
func (h *Handler) GenerateStream(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		api.HandleError(w, api.NewBadRequestError("streaming unsupported"))
		return
	}

	stream, err := h.orch.GenerateStream(r.Context(), req.Query, req.Options)
	if err != nil {
		api.HandleError(w, toAppError(err))
		return
	}
	defer stream.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	for ev := range stream.Events() {
		data, err := json.Marshal(ev.Data)
		if err != nil {
			slog.Error("encoding stream event", "type", ev.Type, "error", err)
			return
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
			return
		}
		flusher.Flush()
	}
}

// GenerateInConversation generates within an existing conversation.
func (h *Handler) GenerateInConversation(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}

	res, err := h.orch.GenerateInConversation(r.Context(), chi.URLParam(r, "conversationID"), req.Query, req.Options)
	if err != nil {
		api.HandleError(w, toAppError(err))
		return
	}
	api.JSON(w, http.StatusOK, res)
}

// Stats returns generation and retrieval counters.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"generation": h.orch.Stats()}
	if h.retrieval != nil {
		body["retrieval"] = h.retrieval.Stats()
	}
	api.JSON(w, http.StatusOK, body)
}

// ResetStats zeroes generation and retrieval counters.
func (h *Handler) ResetStats(w http.ResponseWriter, r *http.Request) {
	h.orch.ResetStats()
	if h.retrieval != nil {
		h.retrieval.ResetStats()
	}
	api.JSONMessage(w, http.StatusOK, "stats reset")
}

func toAppError(err error) error {
	var invErr *llm.InvocationError
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return api.NewValidationError(err.Error())
	case errors.Is(err, memory.ErrConversationNotFound):
		return api.NewNotFoundError("conversation not found")
	case errors.Is(err, ErrConversationsDisabled):
		return api.ErrServiceUnavailable
	case errors.As(err, &invErr):
		return api.NewUpstreamError(string(invErr.Type), invErr.Message)
	default:
		slog.Error("generation failed", "error", err)
		return api.ErrInternalServer
	}
}
