package logging

import (
	"container/ring"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultBufferSize is the number of log entries kept in memory
	DefaultBufferSize = 10000

	// LogLevelDebug represents debug-level logs
	LogLevelDebug = "debug"
	// LogLevelInfo represents info-level logs
	LogLevelInfo = "info"
	// LogLevelWarn represents warning-level logs
	LogLevelWarn = "warn"
	// LogLevelError represents error-level logs
	LogLevelError = "error"
)

// LogEntry represents a single structured log entry
type LogEntry struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Source    string                 `json:"source"`
	Message   string                 `json:"message"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Manager handles log collection, buffering, persistence and fan-out
// to live subscribers (SSE and websocket clients).
type Manager struct {
	mu       sync.RWMutex
	buffer   *ring.Ring
	size     int
	db       *sql.DB
	handlers map[string]func(LogEntry)
}

// NewManager creates a new logging manager. db may be nil, in which
// case entries live only in the ring buffer.
func NewManager(db *sql.DB, bufferSize int) *Manager {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	m := &Manager{
		buffer:   ring.New(bufferSize),
		size:     bufferSize,
		db:       db,
		handlers: make(map[string]func(LogEntry)),
	}

	if err := m.initSchema(); err != nil {
		log.Printf("Warning: Failed to initialize logging schema: %v", err)
	}

	return m
}

// rebindQuery converts ? placeholders to $N for PostgreSQL.
func rebindQuery(query string) string {
	n := 1
	var out strings.Builder
	for _, ch := range query {
		if ch == '?' {
			fmt.Fprintf(&out, "$%d", n)
			n++
		} else {
			out.WriteRune(ch)
		}
	}
	return out.String()
}

// initSchema creates the logs table if it doesn't exist
func (m *Manager) initSchema() error {
	if m.db == nil {
		return nil
	}

	_, err := m.db.Exec(`
		CREATE TABLE IF NOT EXISTS logs (
			id TEXT PRIMARY KEY,
			timestamp TIMESTAMP NOT NULL,
			level TEXT NOT NULL,
			source TEXT NOT NULL,
			message TEXT NOT NULL,
			metadata_json TEXT,
			issue_id TEXT,
			event_id TEXT,
			node_id TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create logs table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_logs_timestamp ON logs(timestamp DESC)",
		"CREATE INDEX IF NOT EXISTS idx_logs_level ON logs(level)",
		"CREATE INDEX IF NOT EXISTS idx_logs_issue_id ON logs(issue_id)",
		"CREATE INDEX IF NOT EXISTS idx_logs_event_id ON logs(event_id)",
	}
	for _, indexSQL := range indexes {
		if _, err := m.db.Exec(indexSQL); err != nil {
			log.Printf("Warning: Failed to create log index: %v", err)
		}
	}

	return nil
}

// Log adds a log entry to the buffer, notifies subscribers and
// optionally persists it.
func (m *Manager) Log(level, source, message string, metadata map[string]interface{}) {
	entry := LogEntry{
		ID:        uuid.New().String(),
		Timestamp: time.Now(),
		Level:     level,
		Source:    source,
		Message:   message,
		Metadata:  metadata,
	}

	m.mu.Lock()
	m.buffer.Value = entry
	m.buffer = m.buffer.Next()
	handlers := make([]func(LogEntry), 0, len(m.handlers))
	for _, h := range m.handlers {
		handlers = append(handlers, h)
	}
	m.mu.Unlock()

	for _, handler := range handlers {
		go handler(entry)
	}

	go m.persistLog(entry)
}

// Infof logs a formatted info entry.
func (m *Manager) Infof(source, format string, args ...interface{}) {
	m.Log(LogLevelInfo, source, fmt.Sprintf(format, args...), nil)
}

// Warnf logs a formatted warning entry.
func (m *Manager) Warnf(source, format string, args ...interface{}) {
	m.Log(LogLevelWarn, source, fmt.Sprintf(format, args...), nil)
}

// Errorf logs a formatted error entry.
func (m *Manager) Errorf(source, format string, args ...interface{}) {
	m.Log(LogLevelError, source, fmt.Sprintf(format, args...), nil)
}

// Subscribe registers a handler invoked for every new entry. The
// returned ID is passed to Unsubscribe when the client disconnects.
func (m *Manager) Subscribe(handler func(LogEntry)) string {
	id := uuid.New().String()
	m.mu.Lock()
	m.handlers[id] = handler
	m.mu.Unlock()
	return id
}

// Unsubscribe removes a previously registered handler.
func (m *Manager) Unsubscribe(id string) {
	m.mu.Lock()
	delete(m.handlers, id)
	m.mu.Unlock()
}

// persistLog saves a log entry to the database
func (m *Manager) persistLog(entry LogEntry) {
	if m.db == nil {
		return
	}

	var metadataJSON *string
	if len(entry.Metadata) > 0 {
		if data, err := json.Marshal(entry.Metadata); err == nil {
			jsonStr := string(data)
			metadataJSON = &jsonStr
		}
	}

	// Extract common entity IDs from metadata for indexed lookup.
	var issueID, eventID, nodeID *string
	if entry.Metadata != nil {
		if val, ok := entry.Metadata["issue_id"].(string); ok && val != "" {
			issueID = &val
		}
		if val, ok := entry.Metadata["event_id"].(string); ok && val != "" {
			eventID = &val
		}
		if val, ok := entry.Metadata["node_id"].(string); ok && val != "" {
			nodeID = &val
		}
	}

	_, err := m.db.Exec(rebindQuery(`
		INSERT INTO logs (id, timestamp, level, source, message, metadata_json, issue_id, event_id, node_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), entry.ID, entry.Timestamp, entry.Level, entry.Source, entry.Message, metadataJSON, issueID, eventID, nodeID)

	if err != nil {
		log.Printf("Failed to persist log entry: %v", err)
	}
}

// GetRecent returns the most recent entries from the buffer, newest
// first, optionally filtered by level and source.
func (m *Manager) GetRecent(limit int, levelFilter, sourceFilter string) []LogEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > m.size {
		limit = 100
	}

	logs := make([]LogEntry, 0, limit)

	m.buffer.Do(func(v interface{}) {
		if v == nil {
			return
		}
		entry, ok := v.(LogEntry)
		if !ok {
			return
		}
		if levelFilter != "" && entry.Level != levelFilter {
			return
		}
		if sourceFilter != "" && entry.Source != sourceFilter {
			return
		}
		logs = append(logs, entry)
	})

	if len(logs) > limit {
		logs = logs[len(logs)-limit:]
	}

	// Newest first.
	for i := 0; i < len(logs)/2; i++ {
		logs[i], logs[len(logs)-1-i] = logs[len(logs)-1-i], logs[i]
	}

	return logs
}

// Query returns persisted entries matching the filters, newest first.
// Falls back to the in-memory buffer when persistence is disabled.
func (m *Manager) Query(limit int, levelFilter, sourceFilter, issueID string, since time.Time) ([]LogEntry, error) {
	if m.db == nil {
		return m.GetRecent(limit, levelFilter, sourceFilter), nil
	}
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT id, timestamp, level, source, message, metadata_json FROM logs WHERE 1=1`
	args := make([]interface{}, 0)

	if !since.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, since)
	}
	if levelFilter != "" {
		query += " AND level = ?"
		args = append(args, levelFilter)
	}
	if sourceFilter != "" {
		query += " AND source = ?"
		args = append(args, sourceFilter)
	}
	if issueID != "" {
		query += " AND issue_id = ?"
		args = append(args, issueID)
	}
	query += " ORDER BY timestamp DESC LIMIT ?"
	args = append(args, limit)

	rows, err := m.db.Query(rebindQuery(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query logs: %w", err)
	}
	defer rows.Close()

	var entries []LogEntry
	for rows.Next() {
		var entry LogEntry
		var metadataJSON sql.NullString
		if err := rows.Scan(&entry.ID, &entry.Timestamp, &entry.Level, &entry.Source, &entry.Message, &metadataJSON); err != nil {
			return nil, fmt.Errorf("failed to scan log entry: %w", err)
		}
		if metadataJSON.Valid && metadataJSON.String != "" {
			_ = json.Unmarshal([]byte(metadataJSON.String), &entry.Metadata)
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}
