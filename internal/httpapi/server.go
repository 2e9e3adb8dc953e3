// Package httpapi exposes the bot's operational HTTP surface: health,
// readiness and Prometheus metrics.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/steelph0enix/unllamabot/internal/observability"
)

// HealthChecker reports whether the llama.cpp server is reachable and has a
// model loaded.
type HealthChecker interface {
	Health(ctx context.Context) error
}

type Server struct {
	llama HealthChecker
	model string
}

func New(llama HealthChecker, model string) *Server {
	return &Server{llama: llama, model: model}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"model":  s.model,
	})
}

// handleReady also checks the backend so orchestrators can hold traffic
// until llama.cpp has a model loaded.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := s.llama.Health(ctx); err != nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
		"model":  s.model,
	})
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
