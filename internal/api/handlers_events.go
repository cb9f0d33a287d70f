package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// handleEvents handles GET /api/v1/events. The window defaults to the
// next 24 hours; ?from and ?to override it with RFC3339 timestamps.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	from := time.Now()
	to := from.Add(24 * time.Hour)

	if v := r.URL.Query().Get("from"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid from timestamp: %v", err))
			return
		}
		from = parsed
	}
	if v := r.URL.Query().Get("to"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid to timestamp: %v", err))
			return
		}
		to = parsed
	}

	events, err := s.db.GetEvents(from, to)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list events: %v", err))
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"count":  len(events),
	})
}

// handleEvent handles GET /api/v1/events/{id} and
// POST /api/v1/events/{id}/process.
func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	eventID := s.extractID(r.URL.Path, "/api/v1/events")
	if eventID == "" {
		s.respondError(w, http.StatusBadRequest, "event ID required")
		return
	}

	if strings.HasSuffix(r.URL.Path, "/process") {
		if r.Method != http.MethodPost {
			s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if err := s.guardian.ForceProcessEvent(r.Context(), eventID); err != nil {
			s.respondError(w, http.StatusInternalServerError, fmt.Sprintf("failed to process event: %v", err))
			return
		}
		s.respondJSON(w, http.StatusOK, map[string]string{"status": "processed"})
		return
	}

	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	event, err := s.db.GetEvent(eventID)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, fmt.Sprintf("failed to get event: %v", err))
		return
	}
	if event == nil {
		s.respondError(w, http.StatusNotFound, fmt.Sprintf("event %s not found", eventID))
		return
	}

	s.respondJSON(w, http.StatusOK, event)
}
