package reasoner

import (
	"context"
	"sync"

	"github.com/jordanhubbard/ranguard/internal/models"
)

// StubReasoner returns scripted answers. It backs tests and the
// dry-run mode where no collaborator endpoint is configured.
type StubReasoner struct {
	mu sync.Mutex

	// Fixed verdicts. ProblematicNodes marks which node IDs are judged
	// problematic; nodes not listed are healthy.
	RiskLevel        models.RiskLevel
	Description      string
	ProblematicNodes map[string]bool
	Recommendation   string

	// Proposals holds per-node scripts consumed one entry at a time.
	// A nil entry ends the workflow naturally.
	Proposals map[string][]*Proposal

	// Err, when set, is returned from every call alongside the
	// conservative defaults.
	Err error
}

func NewStubReasoner() *StubReasoner {
	return &StubReasoner{
		RiskLevel:        models.RiskLevelLow,
		ProblematicNodes: make(map[string]bool),
		Proposals:        make(map[string][]*Proposal),
	}
}

func (s *StubReasoner) AssessNodeRisk(_ context.Context, _ *models.Event, node *models.Node,
	performance []models.PerformanceSample, alarms []models.Alarm) (models.NodeSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	summary := models.NodeSummary{
		NodeID:      node.NodeID,
		SiteID:      node.Site,
		Capacity:    node.Capacity,
		Performance: performance,
		Alarms:      alarms,
	}
	if s.Err != nil {
		summary.IsProblematic = true
		summary.Summary = "Risk assessment unavailable, treating node as problematic"
		return summary, s.Err
	}
	summary.IsProblematic = s.ProblematicNodes[node.NodeID]
	return summary, nil
}

func (s *StubReasoner) AssessEventRisk(_ context.Context, _ *models.Event, _ []models.NodeSummary) (models.RiskLevel, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Err != nil {
		return models.RiskLevelEscalate, "Risk assessment unavailable", s.Err
	}
	return s.RiskLevel, s.Description, nil
}

func (s *StubReasoner) RecommendNetworkConfig(_ context.Context, _ *models.Issue) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Err != nil {
		return "", s.Err
	}
	return s.Recommendation, nil
}

func (s *StubReasoner) ProposeAction(_ context.Context, _ *models.Issue, nodeID string, _ []models.TraceMessage) (*Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Err != nil {
		return nil, s.Err
	}
	queue := s.Proposals[nodeID]
	if len(queue) == 0 {
		return nil, nil
	}
	next := queue[0]
	s.Proposals[nodeID] = queue[1:]
	return next, nil
}
