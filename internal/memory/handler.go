package memory

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/aiox-platform/notigen/internal/api"
)

// Handler handles conversation HTTP endpoints.
type Handler struct {
	mem      *Memory
	validate *validator.Validate
}

// NewHandler creates a new conversation handler.
func NewHandler(mem *Memory) *Handler {
	return &Handler{
		mem:      mem,
		validate: validator.New(),
	}
}

// Create starts a conversation for a user.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}

	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	id, err := h.mem.Create(r.Context(), req.UserID, Metadata{Title: req.Title, Tags: req.Tags})
	if err != nil {
		slog.Error("creating conversation", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSON(w, http.StatusCreated, map[string]string{"conversation_id": id})
}

// Get returns a conversation with its turns.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	hist, err := h.mem.Get(r.Context(), chi.URLParam(r, "conversationID"))
	if err != nil {
		h.handleError(w, "getting conversation", err)
		return
	}
	api.JSON(w, http.StatusOK, hist)
}

// Context returns the recent-turn transcript for a conversation.
func (h *Handler) Context(w http.ResponseWriter, r *http.Request) {
	n := DefaultRecentTurns
	if v := r.URL.Query().Get("turns"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 && parsed <= 50 {
			n = parsed
		}
	}

	transcript, err := h.mem.GetRecentContext(r.Context(), chi.URLParam(r, "conversationID"), n)
	if err != nil {
		h.handleError(w, "getting conversation context", err)
		return
	}
	api.JSON(w, http.StatusOK, map[string]string{"context": transcript})
}

// List returns a user's conversations, most recently active first.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		api.HandleError(w, api.NewValidationError("user_id is required"))
		return
	}

	convs, err := h.mem.List(r.Context(), userID)
	if err != nil {
		slog.Error("listing conversations", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}
	api.JSONList(w, http.StatusOK, convs, len(convs))
}

// Delete deletes a single conversation.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.mem.Delete(r.Context(), chi.URLParam(r, "conversationID")); err != nil {
		h.handleError(w, "deleting conversation", err)
		return
	}
	api.JSONMessage(w, http.StatusOK, "conversation deleted successfully")
}

// Clear deletes all conversations of a user.
func (h *Handler) Clear(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		api.HandleError(w, api.NewValidationError("user_id is required"))
		return
	}

	n, err := h.mem.ClearUser(r.Context(), userID)
	if err != nil {
		slog.Error("clearing conversations", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}
	api.JSON(w, http.StatusOK, map[string]int{"deleted": n})
}

func (h *Handler) handleError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, ErrConversationNotFound) {
		api.HandleError(w, api.NewNotFoundError("conversation not found"))
		return
	}
	slog.Error(op, "error", err)
	api.HandleError(w, api.ErrInternalServer)
}
