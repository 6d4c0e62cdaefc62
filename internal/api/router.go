package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	mw "github.com/aiox-platform/notigen/internal/middleware"
)

// HandlerSet holds handler functions injected from main.go to avoid import cycles.
type HandlerSet struct {
	// Generation handlers
	Generate               http.HandlerFunc
	GenerateStream         http.HandlerFunc
	GenerateInConversation http.HandlerFunc
	Stats                  http.HandlerFunc
	ResetStats             http.HandlerFunc

	// Retrieval handlers
	Search          http.HandlerFunc
	SimilarTemplate http.HandlerFunc
	RetrievalStats  http.HandlerFunc

	// Conversation handlers; nil when conversation memory is disabled.
	CreateConversation  http.HandlerFunc
	ListConversations   http.HandlerFunc
	ClearConversations  http.HandlerFunc
	GetConversation     http.HandlerFunc
	ConversationContext http.HandlerFunc
	DeleteConversation  http.HandlerFunc
}

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	CORSAllowedOrigins []string
	// Required checks turn readiness red; Optional checks only show up in
	// the body.
	Required map[string]HealthCheck
	Optional map[string]HealthCheck
}

func NewRouter(cfg RouterConfig, h HandlerSet) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.RequestID)
	r.Use(mw.SecurityHeaders)
	r.Use(mw.Logging)
	r.Use(mw.Recovery)
	r.Use(mw.Metrics)
	r.Use(cors.Handler(mw.CORS(cfg.CORSAllowedOrigins)))

	// Liveness probe, always 200
	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		JSON(w, http.StatusOK, map[string]string{"status": "alive"})
	})

	readinessHandler := func(w http.ResponseWriter, r *http.Request) {
		health := map[string]string{"status": "healthy"}
		status := http.StatusOK

		for name, check := range cfg.Required {
			if err := check(r.Context()); err != nil {
				health[name] = "unhealthy"
				health["status"] = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			health[name] = "healthy"
		}
		for name, check := range cfg.Optional {
			if check == nil {
				health[name] = "not configured"
				continue
			}
			if err := check(r.Context()); err != nil {
				health[name] = "unhealthy"
				continue
			}
			health[name] = "healthy"
		}

		JSON(w, status, health)
	}

	r.Get("/health/ready", readinessHandler)
	r.Get("/health", readinessHandler)

	// Prometheus metrics
	r.Handle("/metrics", promhttp.Handler())

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/generate", h.Generate)
		r.Post("/generate/stream", h.GenerateStream)

		r.Get("/stats", h.Stats)
		r.Delete("/stats", h.ResetStats)

		r.Post("/search", h.Search)
		r.Get("/search/stats", h.RetrievalStats)
		r.Get("/templates/{templateID}/similar", h.SimilarTemplate)

		if h.CreateConversation == nil {
			return
		}
		r.Route("/conversations", func(r chi.Router) {
			r.Post("/", h.CreateConversation)
			r.Get("/", h.ListConversations)
			r.Delete("/", h.ClearConversations)

			r.Route("/{conversationID}", func(r chi.Router) {
				r.Get("/", h.GetConversation)
				r.Delete("/", h.DeleteConversation)
				r.Get("/context", h.ConversationContext)
				r.Post("/generate", h.GenerateInConversation)
			})
		})
	})

	return r
}
