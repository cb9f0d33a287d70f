package reasoner

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jordanhubbard/ranguard/internal/models"
)

func completionServer(t *testing.T, reply string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		resp := map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": reply}},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
}

func testEvent() *models.Event {
	return &models.Event{
		EventID:   "ev-1",
		Name:      "stadium concert",
		Size:      "XL",
		StartDate: time.Date(2026, 6, 1, 19, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2026, 6, 1, 23, 0, 0, 0, time.UTC),
	}
}

func TestLLMReasonerAssessEventRisk(t *testing.T) {
	server := completionServer(t, `Here is my verdict: {"risk_level": "high", "description": "two saturated nodes"}`)
	defer server.Close()

	r := NewLLMReasoner(LLMConfig{Endpoint: server.URL, Model: "test-model"})

	level, description, err := r.AssessEventRisk(context.Background(), testEvent(), nil)
	if err != nil {
		t.Fatalf("AssessEventRisk: %v", err)
	}
	if level != models.RiskLevelHigh {
		t.Errorf("level = %s, want high", level)
	}
	if description != "two saturated nodes" {
		t.Errorf("description = %q", description)
	}
}

func TestLLMReasonerUnknownRiskLevelEscalates(t *testing.T) {
	server := completionServer(t, `{"risk_level": "catastrophic", "description": "x"}`)
	defer server.Close()

	r := NewLLMReasoner(LLMConfig{Endpoint: server.URL, Model: "test-model"})

	level, _, err := r.AssessEventRisk(context.Background(), testEvent(), nil)
	if err == nil {
		t.Error("expected error for unknown risk level")
	}
	if level != models.RiskLevelEscalate {
		t.Errorf("level = %s, want escalate on unknown verdict", level)
	}
}

func TestLLMReasonerUnreachableDegradesConservatively(t *testing.T) {
	r := NewLLMReasoner(LLMConfig{
		Endpoint:   "http://127.0.0.1:1",
		Model:      "test-model",
		Timeout:    100 * time.Millisecond,
		MaxRetries: 1,
	})

	level, _, err := r.AssessEventRisk(context.Background(), testEvent(), nil)
	if err == nil {
		t.Error("expected error from unreachable endpoint")
	}
	if level != models.RiskLevelEscalate {
		t.Errorf("level = %s, want escalate when collaborator is down", level)
	}

	node := &models.Node{NodeID: "node-a"}
	summary, err := r.AssessNodeRisk(context.Background(), testEvent(), node, nil, nil)
	if err == nil {
		t.Error("expected error from unreachable endpoint")
	}
	if !summary.IsProblematic {
		t.Error("node must be treated as problematic when assessment fails")
	}
}

func TestLLMReasonerProposeAction(t *testing.T) {
	server := completionServer(t, "```json\n{\"tool\": \"activate_mlb\", \"rationale\": \"offload users\"}\n```")
	defer server.Close()

	r := NewLLMReasoner(LLMConfig{Endpoint: server.URL, Model: "test-model"})
	issue := &models.Issue{IssueID: "ev-1", Status: models.IssueStatusAnalyzing}

	proposal, err := r.ProposeAction(context.Background(), issue, "node-a", nil)
	if err != nil {
		t.Fatalf("ProposeAction: %v", err)
	}
	if proposal == nil || proposal.Tool != "activate_mlb" {
		t.Errorf("proposal = %+v, want activate_mlb", proposal)
	}
}

func TestLLMReasonerProseEndsWorkflow(t *testing.T) {
	server := completionServer(t, "The node has recovered, nothing further is needed.")
	defer server.Close()

	r := NewLLMReasoner(LLMConfig{Endpoint: server.URL, Model: "test-model"})
	issue := &models.Issue{IssueID: "ev-1", Status: models.IssueStatusAnalyzing}

	proposal, err := r.ProposeAction(context.Background(), issue, "node-a", nil)
	if err != nil {
		t.Fatalf("ProposeAction: %v", err)
	}
	if proposal != nil {
		t.Errorf("proposal = %+v, want nil for prose answer", proposal)
	}
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`{"a": 1}`, `{"a": 1}`},
		{"prefix {\"a\": 1} suffix", `{"a": 1}`},
		{"no json here", ""},
	}
	for _, tt := range tests {
		if got := extractJSON(tt.in); got != tt.want {
			t.Errorf("extractJSON(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestStubReasonerScripts(t *testing.T) {
	stub := NewStubReasoner()
	stub.Proposals["node-a"] = []*Proposal{
		{Tool: "activate_mlb"},
		nil,
	}

	issue := &models.Issue{IssueID: "ev-1"}

	first, err := stub.ProposeAction(context.Background(), issue, "node-a", nil)
	if err != nil || first == nil || first.Tool != "activate_mlb" {
		t.Fatalf("first proposal = %+v, err %v", first, err)
	}
	second, err := stub.ProposeAction(context.Background(), issue, "node-a", nil)
	if err != nil || second != nil {
		t.Fatalf("second proposal = %+v, err %v, want nil", second, err)
	}
	// Scripts for other nodes stay untouched.
	other, err := stub.ProposeAction(context.Background(), issue, "node-b", nil)
	if err != nil || other != nil {
		t.Fatalf("node-b proposal = %+v, err %v, want nil", other, err)
	}
}
