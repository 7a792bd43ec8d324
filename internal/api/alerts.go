package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/user/ghmonitor/internal/storage"
	"github.com/user/ghmonitor/internal/stream"
)

// listAlerts serves the paged alert listing, optionally narrowed to a
// repository.
func (s *Server) listAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	alerts, err := s.alerts.List(q.Get("repository_id"), intParam(q.Get("limit"), 20), intParam(q.Get("offset"), 0))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to query alerts")
		return
	}
	respondJSON(w, http.StatusOK, alerts)
}

// resolveAlert transitions an alert to RESOLVED and broadcasts the
// resolution on the same channel as new alerts.
func (s *Server) resolveAlert(w http.ResponseWriter, r *http.Request) {
	alert, err := s.alerts.Resolve(chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, storage.ErrAlertNotFound) {
			respondError(w, http.StatusNotFound, "alert not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to resolve alert")
		return
	}

	s.hub.Publish(stream.TopicAlertUpdate, alert)
	respondJSON(w, http.StatusOK, alert)
}
