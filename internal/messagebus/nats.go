// Package messagebus publishes guardian lifecycle notifications over
// NATS JetStream so operator tooling and downstream consumers can
// react to issue changes without polling the API.
package messagebus

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/jordanhubbard/ranguard/internal/models"
)

// NatsMessageBus publishes guardian notifications with JetStream
// durability.
type NatsMessageBus struct {
	conn       *nats.Conn
	js         nats.JetStreamContext
	streamName string
	url        string
}

// Config holds NATS configuration
type Config struct {
	URL        string        // NATS server URL (e.g., "nats://nats:4222")
	StreamName string        // JetStream stream name (default: "RANGUARD")
	Timeout    time.Duration // Connection timeout
}

// NewNatsMessageBus creates a new NATS message bus with JetStream
func NewNatsMessageBus(cfg Config) (*NatsMessageBus, error) {
	if cfg.URL == "" {
		cfg.URL = "nats://localhost:4222"
	}
	if cfg.StreamName == "" {
		cfg.StreamName = "RANGUARD"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	nc, err := nats.Connect(cfg.URL,
		nats.Timeout(cfg.Timeout),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Printf("NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("NATS reconnected to %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	mb := &NatsMessageBus{
		conn:       nc,
		js:         js,
		streamName: cfg.StreamName,
		url:        cfg.URL,
	}

	if err := mb.ensureStream(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream: %w", err)
	}

	log.Printf("Connected to NATS at %s with JetStream stream %s", cfg.URL, cfg.StreamName)
	return mb, nil
}

// ensureStream creates or updates the JetStream stream. LimitsPolicy
// lets multiple consumers subscribe to the same subjects.
func (mb *NatsMessageBus) ensureStream() error {
	streamConfig := &nats.StreamConfig{
		Name:      mb.streamName,
		Subjects:  []string{"ranguard.>"},
		Retention: nats.LimitsPolicy,
		MaxAge:    24 * time.Hour,
		MaxBytes:  256 * 1024 * 1024,
		Storage:   nats.FileStorage,
		Replicas:  1,
		Discard:   nats.DiscardOld,
	}

	_, err := mb.js.StreamInfo(mb.streamName)
	if err != nil {
		if _, err = mb.js.AddStream(streamConfig); err != nil {
			return fmt.Errorf("failed to create stream: %w", err)
		}
		log.Printf("Created JetStream stream: %s", mb.streamName)
		return nil
	}
	if _, err = mb.js.UpdateStream(streamConfig); err != nil {
		return fmt.Errorf("failed to update stream: %w", err)
	}
	return nil
}

// IssueNotification is published on issue lifecycle changes.
type IssueNotification struct {
	IssueID   string             `json:"issue_id"`
	EventID   string             `json:"event_id"`
	Status    models.IssueStatus `json:"status"`
	RiskLevel models.RiskLevel   `json:"risk_level,omitempty"`
	Summary   string             `json:"summary,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

// PublishIssueOpened announces a new or reopened issue.
func (mb *NatsMessageBus) PublishIssueOpened(issue *models.Issue) error {
	return mb.publish("ranguard.issues.opened", notificationFor(issue))
}

// PublishIssueStatus announces an issue status change.
func (mb *NatsMessageBus) PublishIssueStatus(issue *models.Issue) error {
	subject := fmt.Sprintf("ranguard.issues.status.%s", issue.Status)
	return mb.publish(subject, notificationFor(issue))
}

// PublishApprovalRequest announces an issue waiting for an operator.
func (mb *NatsMessageBus) PublishApprovalRequest(issue *models.Issue) error {
	return mb.publish("ranguard.approvals.requested", notificationFor(issue))
}

func notificationFor(issue *models.Issue) *IssueNotification {
	n := &IssueNotification{
		IssueID:   issue.IssueID,
		EventID:   issue.EventID,
		Status:    issue.Status,
		Summary:   issue.Summary,
		Timestamp: time.Now().UTC(),
	}
	if issue.EventRisk != nil {
		n.RiskLevel = issue.EventRisk.RiskLevel
	}
	return n
}

// publish is the internal method to publish messages
func (mb *NatsMessageBus) publish(subject string, msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if _, err = mb.js.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish message to %s: %w", subject, err)
	}
	return nil
}

// Health returns the health status of the NATS connection
func (mb *NatsMessageBus) Health() error {
	if mb.conn.IsClosed() {
		return fmt.Errorf("NATS connection is closed")
	}
	if !mb.conn.IsConnected() {
		return fmt.Errorf("NATS is not connected")
	}
	if _, err := mb.js.StreamInfo(mb.streamName); err != nil {
		return fmt.Errorf("JetStream stream %s is unhealthy: %w", mb.streamName, err)
	}
	return nil
}

// Close closes the NATS connection
func (mb *NatsMessageBus) Close() error {
	mb.conn.Close()
	log.Printf("Closed NATS connection")
	return nil
}
