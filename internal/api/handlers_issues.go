package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/jordanhubbard/ranguard/internal/database"
	"github.com/jordanhubbard/ranguard/internal/models"
)

// handleIssues handles GET /api/v1/issues. ?open=true restricts the
// listing to issues still being worked.
func (s *Server) handleIssues(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var issues []*models.Issue
	var err error
	if r.URL.Query().Get("open") == "true" {
		issues, err = s.db.GetOpenIssues()
	} else {
		issues, err = s.db.GetIssues()
	}
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list issues: %v", err))
		return
	}
	database.SortIssues(issues)

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"issues": issues,
		"count":  len(issues),
	})
}

// handleIssue handles GET /api/v1/issues/{id} and the POST actions
// /approve, /reject and /process.
func (s *Server) handleIssue(w http.ResponseWriter, r *http.Request) {
	issueID := s.extractID(r.URL.Path, "/api/v1/issues")
	if issueID == "" {
		s.respondError(w, http.StatusBadRequest, "issue ID required")
		return
	}

	switch {
	case strings.HasSuffix(r.URL.Path, "/approve"):
		s.handleIssueDecision(w, r, issueID, s.guardian.Approve, "approved")
	case strings.HasSuffix(r.URL.Path, "/reject"):
		s.handleIssueDecision(w, r, issueID, s.guardian.Reject, "rejected")
	case strings.HasSuffix(r.URL.Path, "/process"):
		if r.Method != http.MethodPost {
			s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if err := s.guardian.ForceProcessIssue(r.Context(), issueID); err != nil {
			s.respondError(w, http.StatusBadRequest, fmt.Sprintf("failed to process issue: %v", err))
			return
		}
		s.respondJSON(w, http.StatusOK, map[string]string{"status": "processed"})
	default:
		s.handleGetIssue(w, r, issueID)
	}
}

func (s *Server) handleGetIssue(w http.ResponseWriter, r *http.Request, issueID string) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	issue, err := s.db.GetIssue(issueID)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, fmt.Sprintf("failed to get issue: %v", err))
		return
	}
	if issue == nil {
		s.respondError(w, http.StatusNotFound, fmt.Sprintf("issue %s not found", issueID))
		return
	}

	s.respondJSON(w, http.StatusOK, issue)
}

// handleIssueDecision records a human verdict on an issue that is
// awaiting approval. A 409 means the issue was not in a state that
// accepts the verdict.
func (s *Server) handleIssueDecision(w http.ResponseWriter, r *http.Request, issueID string, decide func(string) error, verdict string) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if err := decide(issueID); err != nil {
		s.respondError(w, http.StatusConflict, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]string{
		"issue_id": issueID,
		"status":   verdict,
	})
}
