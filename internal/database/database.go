package database

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
)

// Database wraps the PostgreSQL connection used by the guardian.
type Database struct {
	db *sql.DB
}

// rebind converts ? placeholders to $1, $2, ... for PostgreSQL.
// This is used throughout the database package for parameterized queries.
func rebind(query string) string {
	n := 1
	out := strings.Builder{}
	for _, ch := range query {
		if ch == '?' {
			out.WriteString(fmt.Sprintf("$%d", n))
			n++
		} else {
			out.WriteRune(ch)
		}
	}
	return out.String()
}

// New creates a PostgreSQL database connection and initializes the schema.
func New(dsn string) (*Database, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	d := &Database{db: db}

	if err := d.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return d, nil
}

// initSchema creates the tables the guardian reads and writes.
func (d *Database) initSchema() error {
	schema := `
	-- Real-world events that may stress the radio network
	CREATE TABLE IF NOT EXISTS events (
		event_id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		latitude DOUBLE PRECISION NOT NULL,
		longitude DOUBLE PRECISION NOT NULL,
		start_date TIMESTAMP NOT NULL,
		end_date TIMESTAMP NOT NULL,
		size TEXT NOT NULL DEFAULT '',
		event_type TEXT NOT NULL DEFAULT '',
		venue TEXT NOT NULL DEFAULT '',
		issue_id TEXT,
		processed_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_events_start_date ON events(start_date);
	CREATE INDEX IF NOT EXISTS idx_events_issue_id ON events(issue_id);

	-- Issues tracking remediation of at-risk events
	CREATE TABLE IF NOT EXISTS issues (
		issue_id TEXT PRIMARY KEY,
		event_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'new',
		summary TEXT NOT NULL DEFAULT '',
		recommendation TEXT NOT NULL DEFAULT '',
		node_ids JSONB,
		event_risk JSONB,
		tasks JSONB,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_issues_status ON issues(status);
	CREATE INDEX IF NOT EXISTS idx_issues_event_id ON issues(event_id);

	-- Radio network nodes
	CREATE TABLE IF NOT EXISTS nodes (
		node_id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		latitude DOUBLE PRECISION NOT NULL,
		longitude DOUBLE PRECISION NOT NULL,
		site TEXT NOT NULL DEFAULT '',
		technology TEXT NOT NULL DEFAULT '',
		capacity INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	-- Per-node performance samples
	CREATE TABLE IF NOT EXISTS performance_samples (
		id SERIAL PRIMARY KEY,
		node_id TEXT NOT NULL,
		sampled_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		max_rrc_conn_users INTEGER NOT NULL DEFAULT 0,
		rrc_setup_success DOUBLE PRECISION NOT NULL DEFAULT 0,
		downlink_throughput DOUBLE PRECISION NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_perf_node_time ON performance_samples(node_id, sampled_at);

	-- Active and historical alarms raised by nodes
	CREATE TABLE IF NOT EXISTS alarms (
		alarm_id TEXT PRIMARY KEY,
		node_id TEXT NOT NULL,
		severity TEXT NOT NULL,
		message TEXT NOT NULL DEFAULT '',
		raised_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		cleared_at TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_alarms_node ON alarms(node_id, raised_at);
	`

	if _, err := d.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

// DB exposes the underlying connection for components that persist
// their own tables, such as the log manager.
func (d *Database) DB() *sql.DB {
	return d.db
}

// Close closes the database connection.
func (d *Database) Close() error {
	return d.db.Close()
}

func sqlNullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
