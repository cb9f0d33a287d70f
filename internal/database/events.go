package database

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jordanhubbard/ranguard/internal/models"
)

const eventColumns = `event_id, name, latitude, longitude, start_date, end_date, size, event_type, venue, issue_id, processed_at`

// GetEvents returns events whose start date falls inside the given window,
// soonest first.
func (d *Database) GetEvents(from, to time.Time) ([]*models.Event, error) {
	rows, err := d.db.Query(rebind(`
		SELECT `+eventColumns+`
		FROM events
		WHERE start_date >= ? AND start_date <= ?
		ORDER BY start_date ASC
	`), from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []*models.Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// GetEvent retrieves a single event by ID. Returns nil when the event
// does not exist.
func (d *Database) GetEvent(eventID string) (*models.Event, error) {
	row := d.db.QueryRow(rebind(`
		SELECT `+eventColumns+`
		FROM events WHERE event_id = ?
	`), eventID)

	event, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return event, err
}

// CreateEvent inserts an event, updating its descriptive fields when the
// event already exists.
func (d *Database) CreateEvent(event *models.Event) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}

	_, err := d.db.Exec(rebind(`
		INSERT INTO events (event_id, name, latitude, longitude, start_date, end_date, size, event_type, venue)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (event_id) DO UPDATE SET
			name = excluded.name,
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			size = excluded.size,
			event_type = excluded.event_type,
			venue = excluded.venue,
			updated_at = CURRENT_TIMESTAMP
	`),
		event.EventID,
		event.Name,
		event.Location.Latitude,
		event.Location.Longitude,
		event.StartDate,
		event.EndDate,
		event.Size,
		event.EventType,
		event.Venue,
	)
	if err != nil {
		return fmt.Errorf("failed to create event: %w", err)
	}
	return nil
}

// EventUpdate carries the event fields the guardian is allowed to change.
// Nil fields are left untouched.
type EventUpdate struct {
	IssueID     *string
	ProcessedAt *time.Time
}

// UpdateEvent applies a partial update to an event.
func (d *Database) UpdateEvent(eventID string, update EventUpdate) error {
	setClauses := []string{"updated_at = CURRENT_TIMESTAMP"}
	args := []interface{}{}

	if update.IssueID != nil {
		setClauses = append(setClauses, "issue_id = ?")
		args = append(args, sqlNullString(*update.IssueID))
	}
	if update.ProcessedAt != nil {
		setClauses = append(setClauses, "processed_at = ?")
		args = append(args, *update.ProcessedAt)
	}

	args = append(args, eventID)
	query := "UPDATE events SET " + strings.Join(setClauses, ", ") + " WHERE event_id = ?"

	result, err := d.db.Exec(rebind(query), args...)
	if err != nil {
		return fmt.Errorf("failed to update event: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("event %s not found", eventID)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row rowScanner) (*models.Event, error) {
	event := &models.Event{}
	var issueID sql.NullString
	var processedAt sql.NullTime

	err := row.Scan(
		&event.EventID,
		&event.Name,
		&event.Location.Latitude,
		&event.Location.Longitude,
		&event.StartDate,
		&event.EndDate,
		&event.Size,
		&event.EventType,
		&event.Venue,
		&issueID,
		&processedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan event: %w", err)
	}

	if issueID.Valid {
		event.IssueID = issueID.String
	}
	if processedAt.Valid {
		t := processedAt.Time
		event.ProcessedAt = &t
	}
	return event, nil
}
