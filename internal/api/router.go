// Package api exposes the HTTP surface: webhook ingestion, the live update
// stream, and read endpoints over stored events and alerts.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/user/ghmonitor/internal/github"
	"github.com/user/ghmonitor/internal/ingest"
	"github.com/user/ghmonitor/internal/storage"
	"github.com/user/ghmonitor/internal/stream"
	"github.com/user/ghmonitor/pkg/logger"
)

// Server bundles the collaborators the HTTP surface needs.
type Server struct {
	events       *storage.EventStore
	alerts       *storage.AlertStore
	repositories *storage.RepositoryStore
	hub          *stream.Hub
	diffs        *github.Client
	webhook      *ingest.Handler
}

// NewServer creates the API server.
func NewServer(
	events *storage.EventStore,
	alerts *storage.AlertStore,
	repositories *storage.RepositoryStore,
	hub *stream.Hub,
	diffs *github.Client,
	webhook *ingest.Handler,
) *Server {
	return &Server{
		events:       events,
		alerts:       alerts,
		repositories: repositories,
		hub:          hub,
		diffs:        diffs,
		webhook:      webhook,
	}
}

// Router builds the chi router with the full route table.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	r.Route("/api", func(r chi.Router) {
		// The stream must not inherit a request timeout; everything else
		// gets the standard one.
		r.Get("/events/stream", stream.SSEHandler(s.hub))

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))

			r.Post("/webhooks/github", s.webhook.ServeHTTP)

			r.Get("/events", s.listEvents)
			r.Get("/events/{id}/diff", s.eventDiff)

			r.Get("/alerts", s.listAlerts)
			r.Post("/alerts/{id}/resolve", s.resolveAlert)

			r.Get("/repositories", s.listRepositories)
			r.Post("/repositories", s.registerRepository)
		})
	})

	return r
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error().Err(err).Msg("Failed to encode response")
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
