package checkpoint

import (
	"context"
	"strings"
	"sync"

	"github.com/jordanhubbard/ranguard/internal/models"
)

// MemoryStore is an in-process Store used in tests and when Redis is
// not configured. Checkpoints do not survive a restart.
type MemoryStore struct {
	mu        sync.RWMutex
	snapshots map[string]models.AgentSnapshot
	histories map[string]models.AgentHistory
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		snapshots: make(map[string]models.AgentSnapshot),
		histories: make(map[string]models.AgentHistory),
	}
}

func memKey(issueID, nodeID string) string {
	return issueID + ":" + nodeID
}

func (s *MemoryStore) Save(_ context.Context, snapshot *models.AgentSnapshot, history *models.AgentHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := memKey(snapshot.IssueID, snapshot.NodeID)
	s.snapshots[key] = *snapshot
	if history != nil {
		s.histories[key] = *history
	}
	return nil
}

func (s *MemoryStore) LoadSnapshot(_ context.Context, issueID, nodeID string) (*models.AgentSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot, ok := s.snapshots[memKey(issueID, nodeID)]
	if !ok {
		return nil, nil
	}
	copy := snapshot
	return &copy, nil
}

func (s *MemoryStore) LoadHistory(_ context.Context, issueID, nodeID string) (*models.AgentHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.histories[memKey(issueID, nodeID)]
	if !ok {
		return nil, nil
	}
	copy := history
	return &copy, nil
}

func (s *MemoryStore) Delete(_ context.Context, issueID, nodeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := memKey(issueID, nodeID)
	delete(s.snapshots, key)
	delete(s.histories, key)
	return nil
}

func (s *MemoryStore) DeleteIssue(_ context.Context, issueID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefix := issueID + ":"
	for key := range s.snapshots {
		if strings.HasPrefix(key, prefix) {
			delete(s.snapshots, key)
		}
	}
	for key := range s.histories {
		if strings.HasPrefix(key, prefix) {
			delete(s.histories, key)
		}
	}
	return nil
}
