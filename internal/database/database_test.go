package database

import (
	"testing"
	"time"

	"github.com/jordanhubbard/ranguard/internal/models"
)

func TestRebind(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"SELECT 1", "SELECT 1"},
		{"SELECT * FROM issues WHERE issue_id = ?", "SELECT * FROM issues WHERE issue_id = $1"},
		{"UPDATE issues SET status = ?, summary = ? WHERE issue_id = ?", "UPDATE issues SET status = $1, summary = $2 WHERE issue_id = $3"},
	}

	for _, tt := range tests {
		got := rebind(tt.in)
		if got != tt.want {
			t.Errorf("rebind(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSortIssues(t *testing.T) {
	mk := func(id string, risk models.RiskLevel, created time.Time) *models.Issue {
		return &models.Issue{
			IssueID:   id,
			EventRisk: &models.EventRisk{RiskLevel: risk},
			CreatedAt: created,
		}
	}

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	issues := []*models.Issue{
		mk("low", models.RiskLevelLow, base),
		mk("high-new", models.RiskLevelHigh, base.Add(time.Hour)),
		mk("escalate", models.RiskLevelEscalate, base.Add(2*time.Hour)),
		mk("high-old", models.RiskLevelHigh, base.Add(-time.Hour)),
		{IssueID: "unassessed", CreatedAt: base},
		mk("medium", models.RiskLevelMedium, base),
	}

	SortIssues(issues)

	wantOrder := []string{"escalate", "high-old", "high-new", "medium", "low", "unassessed"}
	for i, want := range wantOrder {
		if issues[i].IssueID != want {
			t.Errorf("position %d = %s, want %s", i, issues[i].IssueID, want)
		}
	}
}

func TestHaversineMeters(t *testing.T) {
	// Stockholm city center to Globen arena, roughly 3.5 km
	center := models.Location{Latitude: 59.3293, Longitude: 18.0686}
	globen := models.Location{Latitude: 59.2935, Longitude: 18.0834}

	dist := haversineMeters(center, globen)
	if dist < 3000 || dist > 5000 {
		t.Errorf("distance = %.0f m, want roughly 4000 m", dist)
	}

	if d := haversineMeters(center, center); d != 0 {
		t.Errorf("distance to self = %f, want 0", d)
	}
}

func TestMarshalIssueBlobsNilRisk(t *testing.T) {
	issue := &models.Issue{IssueID: "ev-1", EventID: "ev-1"}

	nodeIDs, eventRisk, tasks, err := marshalIssueBlobs(issue)
	if err != nil {
		t.Fatalf("marshalIssueBlobs: %v", err)
	}
	if nodeIDs != "null" {
		t.Errorf("nodeIDs = %q, want null", nodeIDs)
	}
	if eventRisk != "null" {
		t.Errorf("eventRisk = %q, want null", eventRisk)
	}
	if tasks != "null" {
		t.Errorf("tasks = %q, want null", tasks)
	}
}
