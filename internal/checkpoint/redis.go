package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jordanhubbard/ranguard/internal/models"
)

// RedisStore keeps checkpoints in Redis with a TTL, so abandoned
// checkpoints age out on their own.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, addr, password string, db int, ttl time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return &RedisStore{client: client, ttl: ttl}, nil
}

func snapshotKey(issueID, nodeID string) string {
	return fmt.Sprintf("ranguard:checkpoint:%s:%s", issueID, nodeID)
}

func historyKey(issueID, nodeID string) string {
	return fmt.Sprintf("ranguard:history:%s:%s", issueID, nodeID)
}

// Save writes snapshot and history atomically via a pipeline.
func (s *RedisStore) Save(ctx context.Context, snapshot *models.AgentSnapshot, history *models.AgentHistory) error {
	if snapshot == nil {
		return fmt.Errorf("snapshot cannot be nil")
	}

	snapBytes, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, snapshotKey(snapshot.IssueID, snapshot.NodeID), snapBytes, s.ttl)

	if history != nil {
		histBytes, err := json.Marshal(history)
		if err != nil {
			return fmt.Errorf("failed to marshal history: %w", err)
		}
		pipe.Set(ctx, historyKey(snapshot.IssueID, snapshot.NodeID), histBytes, s.ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// LoadSnapshot returns the stored snapshot, or nil when none exists.
func (s *RedisStore) LoadSnapshot(ctx context.Context, issueID, nodeID string) (*models.AgentSnapshot, error) {
	data, err := s.client.Get(ctx, snapshotKey(issueID, nodeID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}

	var snapshot models.AgentSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &snapshot, nil
}

// LoadHistory returns the stored history, or nil when none exists.
func (s *RedisStore) LoadHistory(ctx context.Context, issueID, nodeID string) (*models.AgentHistory, error) {
	data, err := s.client.Get(ctx, historyKey(issueID, nodeID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	var history models.AgentHistory
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, fmt.Errorf("failed to unmarshal history: %w", err)
	}
	return &history, nil
}

// Delete removes the checkpoint for one (issue, node) pair.
func (s *RedisStore) Delete(ctx context.Context, issueID, nodeID string) error {
	if err := s.client.Del(ctx, snapshotKey(issueID, nodeID), historyKey(issueID, nodeID)).Err(); err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}

// DeleteIssue removes every checkpoint belonging to an issue.
func (s *RedisStore) DeleteIssue(ctx context.Context, issueID string) error {
	for _, pattern := range []string{
		fmt.Sprintf("ranguard:checkpoint:%s:*", issueID),
		fmt.Sprintf("ranguard:history:%s:*", issueID),
	} {
		iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
		for iter.Next(ctx) {
			if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
				return fmt.Errorf("failed to delete checkpoint key %s: %w", iter.Val(), err)
			}
		}
		if err := iter.Err(); err != nil {
			return fmt.Errorf("failed to scan checkpoint keys: %w", err)
		}
	}
	return nil
}

// Close releases the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
