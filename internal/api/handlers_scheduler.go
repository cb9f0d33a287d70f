package api

import (
	"fmt"
	"net/http"
)

// handleSchedulerStatus handles GET /api/v1/scheduler/status.
func (s *Server) handleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"running":      s.scheduler.Running(),
		"run_interval": s.guardian.RunInterval().String(),
	})
}

// handleSchedulerStart handles POST /api/v1/scheduler/start.
func (s *Server) handleSchedulerStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	s.scheduler.Start()
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"running": true})
}

// handleSchedulerStop handles POST /api/v1/scheduler/stop.
func (s *Server) handleSchedulerStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	s.scheduler.Stop()
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"running": false})
}

// handleSchedulerRunOnce handles POST /api/v1/scheduler/run-once. The
// cycle runs synchronously; slow collaborators make this slow.
func (s *Server) handleSchedulerRunOnce(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if err := s.scheduler.RunOnce(r.Context()); err != nil {
		s.respondError(w, http.StatusInternalServerError, fmt.Sprintf("cycle failed: %v", err))
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "completed"})
}

// handleConfig handles GET and PUT /api/v1/config. PUT applies the
// hot-reloadable guardian tunables; everything else needs a restart.
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.respondJSON(w, http.StatusOK, s.guardian.Tunables())

	case http.MethodPut:
		current := s.guardian.Tunables()
		updated := current
		if err := s.parseJSON(r, &updated); err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if updated.RunInterval <= 0 || updated.BatchSize <= 0 || updated.LookforwardPeriod <= 0 {
			s.respondError(w, http.StatusBadRequest, "run_interval, batch_size and lookforward_period must be positive")
			return
		}
		// ConcurrencyLimit is fixed at startup.
		updated.ConcurrencyLimit = current.ConcurrencyLimit
		s.guardian.UpdateTunables(updated)
		s.respondJSON(w, http.StatusOK, s.guardian.Tunables())

	default:
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}
