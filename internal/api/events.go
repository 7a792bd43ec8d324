package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/user/ghmonitor/internal/ingest"
	"github.com/user/ghmonitor/internal/storage"
)

// listEvents serves the filtered, paged event listing. Recognized query
// parameters: repository_id, type, start, end (RFC 3339), limit, offset.
func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := storage.EventFilter{
		RepositoryID: q.Get("repository_id"),
		Limit:        intParam(q.Get("limit"), 20),
		Offset:       intParam(q.Get("offset"), 0),
	}

	if t := q.Get("type"); t != "" {
		eventType := storage.EventType(t)
		if !eventType.Valid() {
			respondError(w, http.StatusBadRequest, "invalid event type: "+t)
			return
		}
		filter.Type = eventType
	}

	if start := q.Get("start"); start != "" {
		ts, err := time.Parse(time.RFC3339, start)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid start timestamp")
			return
		}
		filter.Start = &ts
	}
	if end := q.Get("end"); end != "" {
		ts, err := time.Parse(time.RFC3339, end)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid end timestamp")
			return
		}
		filter.End = &ts
	}

	events, err := s.events.Query(filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to query events")
		return
	}

	dtos := make([]*ingest.EventDTO, 0, len(events))
	for i := range events {
		dtos = append(dtos, ingest.NewEventDTO(&events[i], ingest.Enrich(&events[i])))
	}
	respondJSON(w, http.StatusOK, dtos)
}

// eventDiff resolves the file-level diff for one stored event against the
// origin service, using the retained raw payload.
func (s *Server) eventDiff(w http.ResponseWriter, r *http.Request) {
	event, err := s.events.ByID(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load event")
		return
	}
	if event == nil {
		respondError(w, http.StatusNotFound, "event not found")
		return
	}

	repo, err := s.repositories.ByID(event.RepositoryID)
	if err != nil || repo == nil {
		respondError(w, http.StatusInternalServerError, "failed to load repository")
		return
	}

	diffs, err := s.diffs.EventDiff(r.Context(), repo, event)
	if err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, diffs)
}

func intParam(value string, fallback int) int {
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
