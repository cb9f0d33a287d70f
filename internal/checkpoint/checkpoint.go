// Package checkpoint persists suspended reasoning workflow state so a
// workflow can resume after a process restart or an approval wait.
package checkpoint

import (
	"context"

	"github.com/jordanhubbard/ranguard/internal/models"
)

// Store persists one snapshot and one history per (issue, node) pair.
// A missing entry is reported as (nil, nil), not an error.
type Store interface {
	Save(ctx context.Context, snapshot *models.AgentSnapshot, history *models.AgentHistory) error
	LoadSnapshot(ctx context.Context, issueID, nodeID string) (*models.AgentSnapshot, error)
	LoadHistory(ctx context.Context, issueID, nodeID string) (*models.AgentHistory, error)
	Delete(ctx context.Context, issueID, nodeID string) error
	DeleteIssue(ctx context.Context, issueID string) error
}
