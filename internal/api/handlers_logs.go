package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jordanhubbard/ranguard/internal/logging"
)

// handleLogsRecent handles GET /api/v1/logs/recent. Supports limit,
// level, source, issue_id and since (RFC3339) query parameters; since
// and issue_id hit the persistent store, the rest serve from the ring
// buffer.
func (s *Server) handleLogsRecent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	level := r.URL.Query().Get("level")
	source := r.URL.Query().Get("source")
	issueID := r.URL.Query().Get("issue_id")

	var logs []logging.LogEntry
	if v := r.URL.Query().Get("since"); v != "" || issueID != "" {
		since := time.Time{}
		if v != "" {
			parsed, err := time.Parse(time.RFC3339, v)
			if err != nil {
				s.respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid since timestamp: %v", err))
				return
			}
			since = parsed
		}
		var err error
		logs, err = s.logManager.Query(limit, level, source, issueID, since)
		if err != nil {
			s.respondError(w, http.StatusInternalServerError, fmt.Sprintf("failed to query logs: %v", err))
			return
		}
	} else {
		logs = s.logManager.GetRecent(limit, level, source)
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"logs":  logs,
		"count": len(logs),
	})
}

// handleLogsStream handles GET /api/v1/logs/stream as Server-Sent
// Events. The connection replays recent entries and then follows the
// live feed until the client disconnects.
func (s *Server) handleLogsStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	level := r.URL.Query().Get("level")
	source := r.URL.Query().Get("source")

	logChan := make(chan logging.LogEntry, 100)
	subID := s.logManager.Subscribe(func(entry logging.LogEntry) {
		if level != "" && entry.Level != level {
			return
		}
		if source != "" && entry.Source != source {
			return
		}
		select {
		case logChan <- entry:
		default:
			// Slow client, drop.
		}
	})
	defer s.logManager.Unsubscribe(subID)

	for _, entry := range s.logManager.GetRecent(50, level, source) {
		writeSSE(w, entry)
	}
	flusher.Flush()

	keepalive := time.NewTicker(30 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case entry := <-logChan:
			writeSSE(w, entry)
			flusher.Flush()
		case <-keepalive.C:
			fmt.Fprintf(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, entry logging.LogEntry) {
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: log\ndata: %s\n\n", data)
}

var logsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleLogsWebSocket handles GET /api/v1/logs/ws, the websocket
// variant of the log stream.
func (s *Server) handleLogsWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := logsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[API] Websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	level := r.URL.Query().Get("level")
	source := r.URL.Query().Get("source")

	logChan := make(chan logging.LogEntry, 100)
	subID := s.logManager.Subscribe(func(entry logging.LogEntry) {
		if level != "" && entry.Level != level {
			return
		}
		if source != "" && entry.Source != source {
			return
		}
		select {
		case logChan <- entry:
		default:
			// Slow client, drop.
		}
	})
	defer s.logManager.Unsubscribe(subID)

	closed := make(chan struct{})
	go func() {
		// Reader goroutine notices the peer going away.
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for _, entry := range s.logManager.GetRecent(50, level, source) {
		if err := conn.WriteJSON(entry); err != nil {
			return
		}
	}

	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			return
		case entry := <-logChan:
			if err := conn.WriteJSON(entry); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}
}
