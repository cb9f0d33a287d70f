package reasoner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/jordanhubbard/ranguard/internal/models"
)

// LLMReasoner talks to an OpenAI-compatible chat completion endpoint.
type LLMReasoner struct {
	endpoint    string
	model       string
	apiKey      string
	temperature float64
	maxRetries  int
	client      *http.Client
}

type LLMConfig struct {
	Endpoint    string
	Model       string
	APIKey      string
	Temperature float64
	Timeout     time.Duration
	MaxRetries  int
}

func NewLLMReasoner(cfg LLMConfig) *LLMReasoner {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}
	return &LLMReasoner{
		endpoint:    strings.TrimSuffix(cfg.Endpoint, "/"),
		model:       cfg.Model,
		apiKey:      cfg.APIKey,
		temperature: cfg.Temperature,
		maxRetries:  maxRetries,
		client:      &http.Client{Timeout: timeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// complete sends a chat completion request with retries and returns
// the assistant's reply.
func (r *LLMReasoner) complete(ctx context.Context, messages []chatMessage) (string, error) {
	operation := func() (string, error) {
		return r.completeOnce(ctx, messages)
	}

	content, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(uint(r.maxRetries)),
	)
	if err != nil {
		return "", err
	}
	return content, nil
}

func (r *LLMReasoner) completeOnce(ctx context.Context, messages []chatMessage) (string, error) {
	reqBody := struct {
		Model       string        `json:"model"`
		Messages    []chatMessage `json:"messages"`
		Temperature float64       `json:"temperature,omitempty"`
		Stream      bool          `json:"stream"`
	}{
		Model:       r.model,
		Messages:    messages,
		Temperature: r.temperature,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("failed to marshal request: %w", err))
	}

	url := fmt.Sprintf("%s/v1/chat/completions", r.endpoint)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized {
		return "", backoff.Permanent(fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(respBody)))
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(respBody))
	}

	var completion struct {
		Choices []struct {
			Message chatMessage `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(respBody, &completion); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("completion returned no choices")
	}
	return completion.Choices[0].Message.Content, nil
}

// extractJSON pulls the first JSON object out of a completion, which
// may wrap it in markdown fences or prose.
func extractJSON(content string) string {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end < start {
		return ""
	}
	return content[start : end+1]
}

func (r *LLMReasoner) AssessNodeRisk(ctx context.Context, event *models.Event, node *models.Node,
	performance []models.PerformanceSample, alarms []models.Alarm) (models.NodeSummary, error) {

	// Conservative verdict used whenever the collaborator fails.
	degraded := models.NodeSummary{
		NodeID:        node.NodeID,
		SiteID:        node.Site,
		Capacity:      node.Capacity,
		Performance:   performance,
		Alarms:        alarms,
		IsProblematic: true,
		Summary:       "Risk assessment unavailable, treating node as problematic",
	}

	prompt, err := nodeRiskPrompt(event, node, performance, alarms)
	if err != nil {
		return degraded, err
	}

	content, err := r.complete(ctx, []chatMessage{
		{Role: "system", Content: nodeRiskSystemPrompt},
		{Role: "user", Content: prompt},
	})
	if err != nil {
		return degraded, fmt.Errorf("node risk assessment failed: %w", err)
	}

	var verdict struct {
		IsProblematic bool   `json:"is_problematic"`
		Summary       string `json:"summary"`
	}
	if err := json.Unmarshal([]byte(extractJSON(content)), &verdict); err != nil {
		return degraded, fmt.Errorf("failed to parse node risk verdict: %w", err)
	}

	summary := degraded
	summary.IsProblematic = verdict.IsProblematic
	summary.Summary = verdict.Summary
	return summary, nil
}

func (r *LLMReasoner) AssessEventRisk(ctx context.Context, event *models.Event, summaries []models.NodeSummary) (models.RiskLevel, string, error) {
	prompt, err := eventRiskPrompt(event, summaries)
	if err != nil {
		return models.RiskLevelEscalate, "Risk assessment unavailable", err
	}

	content, err := r.complete(ctx, []chatMessage{
		{Role: "system", Content: eventRiskSystemPrompt},
		{Role: "user", Content: prompt},
	})
	if err != nil {
		return models.RiskLevelEscalate, "Risk assessment unavailable", fmt.Errorf("event risk assessment failed: %w", err)
	}

	var verdict struct {
		RiskLevel   string `json:"risk_level"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal([]byte(extractJSON(content)), &verdict); err != nil {
		return models.RiskLevelEscalate, "Risk assessment unavailable", fmt.Errorf("failed to parse event risk verdict: %w", err)
	}

	level := models.RiskLevel(verdict.RiskLevel)
	switch level {
	case models.RiskLevelLow, models.RiskLevelMedium, models.RiskLevelHigh, models.RiskLevelEscalate:
		return level, verdict.Description, nil
	default:
		return models.RiskLevelEscalate, verdict.Description,
			fmt.Errorf("collaborator returned unknown risk level %q", verdict.RiskLevel)
	}
}

func (r *LLMReasoner) RecommendNetworkConfig(ctx context.Context, issue *models.Issue) (string, error) {
	prompt, err := recommendationPrompt(issue)
	if err != nil {
		return "", err
	}

	content, err := r.complete(ctx, []chatMessage{
		{Role: "system", Content: recommendationSystemPrompt},
		{Role: "user", Content: prompt},
	})
	if err != nil {
		return "", fmt.Errorf("recommendation failed: %w", err)
	}
	return strings.TrimSpace(content), nil
}

func (r *LLMReasoner) ProposeAction(ctx context.Context, issue *models.Issue, nodeID string, history []models.TraceMessage) (*Proposal, error) {
	prompt, err := proposalPrompt(issue, nodeID, history)
	if err != nil {
		return nil, err
	}

	content, err := r.complete(ctx, []chatMessage{
		{Role: "system", Content: proposalSystemPrompt},
		{Role: "user", Content: prompt},
	})
	if err != nil {
		return nil, fmt.Errorf("action proposal failed: %w", err)
	}

	raw := extractJSON(content)
	if raw == "" {
		// The collaborator answered in prose with no action.
		return nil, nil
	}

	var proposal Proposal
	if err := json.Unmarshal([]byte(raw), &proposal); err != nil {
		return nil, fmt.Errorf("failed to parse proposal: %w", err)
	}
	if proposal.Tool == "" {
		return nil, nil
	}
	return &proposal, nil
}
