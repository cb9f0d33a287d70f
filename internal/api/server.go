// Package api exposes the admin HTTP surface: scheduler control,
// event and issue inspection, approvals, configuration, and logs.
package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jordanhubbard/ranguard/internal/auth"
	"github.com/jordanhubbard/ranguard/internal/config"
	"github.com/jordanhubbard/ranguard/internal/guardian"
	"github.com/jordanhubbard/ranguard/internal/logging"
)

// Server is the HTTP admin API server.
type Server struct {
	guardian   *guardian.Guardian
	scheduler  *guardian.Scheduler
	db         guardian.Gateway
	logManager *logging.Manager
	config     *config.Config

	authManager  *auth.Manager
	authHandlers *auth.Handlers
}

// NewServer creates an API server. authManager may be nil when auth is
// disabled.
func NewServer(g *guardian.Guardian, s *guardian.Scheduler, db guardian.Gateway,
	logManager *logging.Manager, authManager *auth.Manager, cfg *config.Config) *Server {

	srv := &Server{
		guardian:    g,
		scheduler:   s,
		db:          db,
		logManager:  logManager,
		config:      cfg,
		authManager: authManager,
	}
	if authManager != nil {
		srv.authHandlers = auth.NewHandlers(authManager)
	}
	return srv
}

// SetupRoutes configures HTTP routes.
func (s *Server) SetupRoutes() http.Handler {
	mux := http.NewServeMux()

	// Health check and metrics
	mux.HandleFunc("/api/v1/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())

	// Auth
	if s.authHandlers != nil {
		mux.HandleFunc("/auth/login", s.authHandlers.HandleLogin)
		mux.HandleFunc("/auth/refresh", s.authHandlers.HandleRefreshToken)
		mux.HandleFunc("/auth/me", s.authHandlers.HandleGetCurrentUser)
		mux.HandleFunc("/auth/change-password", s.authHandlers.HandleChangePassword)
		mux.HandleFunc("/auth/api-keys", s.authHandlers.HandleAPIKeys)
		mux.HandleFunc("/auth/api-keys/", s.authHandlers.HandleAPIKeys)
		mux.HandleFunc("/auth/users", s.authHandlers.HandleUsers)
	}

	// Scheduler
	mux.HandleFunc("/api/v1/scheduler/status", s.handleSchedulerStatus)
	mux.HandleFunc("/api/v1/scheduler/start", s.handleSchedulerStart)
	mux.HandleFunc("/api/v1/scheduler/stop", s.handleSchedulerStop)
	mux.HandleFunc("/api/v1/scheduler/run-once", s.handleSchedulerRunOnce)

	// Events
	mux.HandleFunc("/api/v1/events", s.handleEvents)
	mux.HandleFunc("/api/v1/events/", s.handleEvent)

	// Issues
	mux.HandleFunc("/api/v1/issues", s.handleIssues)
	mux.HandleFunc("/api/v1/issues/", s.handleIssue)

	// Configuration
	mux.HandleFunc("/api/v1/config", s.handleConfig)

	// Logs
	mux.HandleFunc("/api/v1/logs/recent", s.handleLogsRecent)
	mux.HandleFunc("/api/v1/logs/stream", s.handleLogsStream)
	mux.HandleFunc("/api/v1/logs/ws", s.handleLogsWebSocket)

	handler := s.loggingMiddleware(mux)
	handler = s.corsMiddleware(handler)
	handler = s.authMiddleware(handler)
	return handler
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":            "ok",
		"scheduler_running": s.scheduler.Running(),
	})
}

// Middleware

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		next.ServeHTTP(w, r)
		if r.URL.Path != "/api/v1/health" && r.URL.Path != "/metrics" {
			log.Printf("[API] %s %s (%s)", r.Method, r.URL.Path, time.Since(started))
		}
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// authMiddleware requires a valid token on everything except health,
// metrics, and login. With no auth manager configured the API is open.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	if s.authManager == nil {
		return next
	}

	protected := s.authManager.Middleware(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/health" ||
			r.URL.Path == "/metrics" ||
			r.URL.Path == "/auth/login" {
			next.ServeHTTP(w, r)
			return
		}
		protected.ServeHTTP(w, r)
	})
}

// Helpers

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

func (s *Server) parseJSON(r *http.Request, v interface{}) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// extractID pulls the ID segment out of a subtree path, e.g.
// /api/v1/issues/abc/approve -> abc.
func (s *Server) extractID(path, prefix string) string {
	id := strings.TrimPrefix(path, prefix)
	id = strings.TrimPrefix(id, "/")
	id = strings.TrimSuffix(id, "/")
	if i := strings.Index(id, "/"); i >= 0 {
		return id[:i]
	}
	return id
}
