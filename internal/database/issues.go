package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jordanhubbard/ranguard/internal/models"
)

const issueColumns = `issue_id, event_id, status, summary, recommendation, node_ids, event_risk, tasks, created_at, updated_at`

// GetIssues returns all issues, newest first.
func (d *Database) GetIssues() ([]*models.Issue, error) {
	return d.queryIssues(`SELECT ` + issueColumns + ` FROM issues ORDER BY created_at DESC`)
}

// GetOpenIssues returns all issues that have not been resolved.
func (d *Database) GetOpenIssues() ([]*models.Issue, error) {
	return d.queryIssues(
		`SELECT `+issueColumns+` FROM issues WHERE status != ? ORDER BY created_at DESC`,
		string(models.IssueStatusResolved),
	)
}

func (d *Database) queryIssues(query string, args ...interface{}) ([]*models.Issue, error) {
	rows, err := d.db.Query(rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query issues: %w", err)
	}
	defer rows.Close()

	var issues []*models.Issue
	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			return nil, err
		}
		issues = append(issues, issue)
	}
	return issues, rows.Err()
}

// GetIssue retrieves a single issue by ID. Returns nil when no issue
// exists.
func (d *Database) GetIssue(issueID string) (*models.Issue, error) {
	row := d.db.QueryRow(rebind(`SELECT `+issueColumns+` FROM issues WHERE issue_id = ?`), issueID)

	issue, err := scanIssue(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return issue, err
}

// CreateIssue opens an issue for an at-risk event. The issue ID is the
// event ID, so at most one issue row exists per event. If a resolved
// issue already exists for the event it is reopened in the analyzing
// state with the fresh risk assessment; if an open issue exists the
// call is a no-op and the existing issue is returned.
func (d *Database) CreateIssue(issue *models.Issue) (*models.Issue, error) {
	if issue == nil {
		return nil, fmt.Errorf("issue cannot be nil")
	}
	if issue.IssueID == "" {
		issue.IssueID = issue.EventID
	}
	if issue.IssueID != issue.EventID {
		return nil, fmt.Errorf("issue ID %s does not match event ID %s", issue.IssueID, issue.EventID)
	}

	tx, err := d.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRow(rebind(`SELECT `+issueColumns+` FROM issues WHERE issue_id = ? FOR UPDATE`), issue.IssueID)
	existing, err := scanIssue(row)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}

	if existing != nil {
		if !existing.Status.Terminal() {
			return existing, nil
		}

		// Reopen: the event recurred after the previous remediation
		// concluded. Carry the fresh risk picture, keep the audit trail.
		existing.Status = models.IssueStatusAnalyzing
		existing.EventRisk = issue.EventRisk
		existing.NodeIDs = issue.NodeIDs
		existing.Summary = issue.Summary

		if err := writeIssue(tx, existing); err != nil {
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("failed to commit reopen: %w", err)
		}
		return existing, nil
	}

	if issue.Status == "" {
		issue.Status = models.IssueStatusNew
	}
	now := time.Now().UTC()
	issue.CreatedAt = now
	issue.UpdatedAt = now

	nodeIDsJSON, eventRiskJSON, tasksJSON, err := marshalIssueBlobs(issue)
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(rebind(`
		INSERT INTO issues (issue_id, event_id, status, summary, recommendation, node_ids, event_risk, tasks, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`),
		issue.IssueID,
		issue.EventID,
		string(issue.Status),
		issue.Summary,
		issue.Recommendation,
		nodeIDsJSON,
		eventRiskJSON,
		tasksJSON,
		issue.CreatedAt,
		issue.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert issue: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit issue: %w", err)
	}
	return issue, nil
}

// IssueUpdate carries the issue fields a caller wants to change. Nil
// fields are left untouched, so concurrent writers touching different
// fields do not clobber each other.
type IssueUpdate struct {
	Status         *models.IssueStatus
	Summary        *string
	Recommendation *string
	NodeIDs        []string
	EventRisk      *models.EventRisk
}

// UpdateIssue applies a partial update to an issue and stamps updated_at.
func (d *Database) UpdateIssue(issueID string, update IssueUpdate) error {
	setClauses := []string{"updated_at = CURRENT_TIMESTAMP"}
	args := []interface{}{}

	if update.Status != nil {
		if !update.Status.Valid() {
			return fmt.Errorf("invalid issue status %q", *update.Status)
		}
		setClauses = append(setClauses, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.Summary != nil {
		setClauses = append(setClauses, "summary = ?")
		args = append(args, *update.Summary)
	}
	if update.Recommendation != nil {
		setClauses = append(setClauses, "recommendation = ?")
		args = append(args, *update.Recommendation)
	}
	if update.NodeIDs != nil {
		b, err := json.Marshal(update.NodeIDs)
		if err != nil {
			return fmt.Errorf("failed to marshal node IDs: %w", err)
		}
		setClauses = append(setClauses, "node_ids = ?")
		args = append(args, string(b))
	}
	if update.EventRisk != nil {
		b, err := json.Marshal(update.EventRisk)
		if err != nil {
			return fmt.Errorf("failed to marshal event risk: %w", err)
		}
		setClauses = append(setClauses, "event_risk = ?")
		args = append(args, string(b))
	}

	args = append(args, issueID)
	query := "UPDATE issues SET " + strings.Join(setClauses, ", ") + " WHERE issue_id = ?"

	result, err := d.db.Exec(rebind(query), args...)
	if err != nil {
		return fmt.Errorf("failed to update issue: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("issue %s not found", issueID)
	}
	return nil
}

// UpdateIssueTask upserts one task on an issue under a row lock, so
// workflows running for different nodes of the same issue cannot lose
// each other's task updates. Backward task transitions are rejected.
func (d *Database) UpdateIssueTask(issueID string, task models.Task) error {
	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRow(rebind(`SELECT `+issueColumns+` FROM issues WHERE issue_id = ? FOR UPDATE`), issueID)
	issue, err := scanIssue(row)
	if err == sql.ErrNoRows {
		return fmt.Errorf("issue %s not found", issueID)
	}
	if err != nil {
		return err
	}

	if err := issue.UpsertTask(task); err != nil {
		return err
	}

	tasksJSON, err := json.Marshal(issue.Tasks)
	if err != nil {
		return fmt.Errorf("failed to marshal tasks: %w", err)
	}

	_, err = tx.Exec(rebind(`UPDATE issues SET tasks = ?, updated_at = CURRENT_TIMESTAMP WHERE issue_id = ?`),
		string(tasksJSON), issueID)
	if err != nil {
		return fmt.Errorf("failed to update issue tasks: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit task update: %w", err)
	}
	return nil
}

// GetIssueStatusCounts returns the number of issues per status.
func (d *Database) GetIssueStatusCounts() (map[string]int, error) {
	rows, err := d.db.Query(`SELECT status, COUNT(*) FROM issues GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count issues: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan issue count: %w", err)
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

// SortIssues orders issues in place by descending risk, breaking ties
// with the older issue first so long-standing problems are not starved.
func SortIssues(issues []*models.Issue) {
	sort.SliceStable(issues, func(a, b int) bool {
		ra, rb := issueRank(issues[a]), issueRank(issues[b])
		if ra != rb {
			return ra > rb
		}
		return issues[a].CreatedAt.Before(issues[b].CreatedAt)
	})
}

func issueRank(issue *models.Issue) int {
	if issue.EventRisk == nil {
		return -1
	}
	return issue.EventRisk.RiskLevel.Rank()
}

func writeIssue(tx *sql.Tx, issue *models.Issue) error {
	nodeIDsJSON, eventRiskJSON, tasksJSON, err := marshalIssueBlobs(issue)
	if err != nil {
		return err
	}

	_, err = tx.Exec(rebind(`
		UPDATE issues SET
			status = ?,
			summary = ?,
			recommendation = ?,
			node_ids = ?,
			event_risk = ?,
			tasks = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE issue_id = ?
	`),
		string(issue.Status),
		issue.Summary,
		issue.Recommendation,
		nodeIDsJSON,
		eventRiskJSON,
		tasksJSON,
		issue.IssueID,
	)
	if err != nil {
		return fmt.Errorf("failed to write issue: %w", err)
	}
	return nil
}

func marshalIssueBlobs(issue *models.Issue) (nodeIDs, eventRisk, tasks string, err error) {
	b, err := json.Marshal(issue.NodeIDs)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to marshal node IDs: %w", err)
	}
	nodeIDs = string(b)

	eventRisk = "null"
	if issue.EventRisk != nil {
		b, err = json.Marshal(issue.EventRisk)
		if err != nil {
			return "", "", "", fmt.Errorf("failed to marshal event risk: %w", err)
		}
		eventRisk = string(b)
	}

	b, err = json.Marshal(issue.Tasks)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to marshal tasks: %w", err)
	}
	tasks = string(b)
	return nodeIDs, eventRisk, tasks, nil
}

func scanIssue(row rowScanner) (*models.Issue, error) {
	issue := &models.Issue{}
	var status string
	var nodeIDsJSON, eventRiskJSON, tasksJSON sql.NullString

	err := row.Scan(
		&issue.IssueID,
		&issue.EventID,
		&status,
		&issue.Summary,
		&issue.Recommendation,
		&nodeIDsJSON,
		&eventRiskJSON,
		&tasksJSON,
		&issue.CreatedAt,
		&issue.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan issue: %w", err)
	}

	issue.Status = models.IssueStatus(status)
	if nodeIDsJSON.Valid && nodeIDsJSON.String != "" {
		_ = json.Unmarshal([]byte(nodeIDsJSON.String), &issue.NodeIDs)
	}
	if eventRiskJSON.Valid && eventRiskJSON.String != "" && eventRiskJSON.String != "null" {
		issue.EventRisk = &models.EventRisk{}
		_ = json.Unmarshal([]byte(eventRiskJSON.String), issue.EventRisk)
	}
	if tasksJSON.Valid && tasksJSON.String != "" {
		_ = json.Unmarshal([]byte(tasksJSON.String), &issue.Tasks)
	}
	return issue, nil
}
