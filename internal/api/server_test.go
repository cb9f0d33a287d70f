package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/jordanhubbard/ranguard/internal/auth"
	"github.com/jordanhubbard/ranguard/internal/checkpoint"
	"github.com/jordanhubbard/ranguard/internal/config"
	"github.com/jordanhubbard/ranguard/internal/database"
	"github.com/jordanhubbard/ranguard/internal/guardian"
	"github.com/jordanhubbard/ranguard/internal/logging"
	"github.com/jordanhubbard/ranguard/internal/models"
	"github.com/jordanhubbard/ranguard/internal/reasoner"
	"github.com/jordanhubbard/ranguard/internal/tools"
)

// stubGateway is a minimal in-memory guardian.Gateway for handler
// tests.
type stubGateway struct {
	mu     sync.Mutex
	events map[string]*models.Event
	issues map[string]*models.Issue
}

func newStubGateway() *stubGateway {
	return &stubGateway{
		events: make(map[string]*models.Event),
		issues: make(map[string]*models.Issue),
	}
}

func (g *stubGateway) GetEvents(from, to time.Time) ([]*models.Event, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []*models.Event
	for _, e := range g.events {
		if !e.StartDate.Before(from) && !e.StartDate.After(to) {
			copy := *e
			out = append(out, &copy)
		}
	}
	return out, nil
}

func (g *stubGateway) GetEvent(eventID string) (*models.Event, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.events[eventID]
	if !ok {
		return nil, nil
	}
	copy := *e
	return &copy, nil
}

func (g *stubGateway) UpdateEvent(eventID string, update database.EventUpdate) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.events[eventID]
	if !ok {
		return fmt.Errorf("event %s not found", eventID)
	}
	if update.IssueID != nil {
		e.IssueID = *update.IssueID
	}
	if update.ProcessedAt != nil {
		t := *update.ProcessedAt
		e.ProcessedAt = &t
	}
	return nil
}

func (g *stubGateway) GetIssues() ([]*models.Issue, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []*models.Issue
	for _, issue := range g.issues {
		copy := *issue
		out = append(out, &copy)
	}
	return out, nil
}

func (g *stubGateway) GetOpenIssues() ([]*models.Issue, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []*models.Issue
	for _, issue := range g.issues {
		if !issue.Status.Terminal() {
			copy := *issue
			out = append(out, &copy)
		}
	}
	return out, nil
}

func (g *stubGateway) GetIssue(issueID string) (*models.Issue, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	issue, ok := g.issues[issueID]
	if !ok {
		return nil, nil
	}
	copy := *issue
	return &copy, nil
}

func (g *stubGateway) CreateIssue(issue *models.Issue) (*models.Issue, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if issue.IssueID == "" {
		issue.IssueID = issue.EventID
	}
	if issue.Status == "" {
		issue.Status = models.IssueStatusNew
	}
	stored := *issue
	g.issues[issue.IssueID] = &stored
	copy := stored
	return &copy, nil
}

func (g *stubGateway) UpdateIssue(issueID string, update database.IssueUpdate) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	issue, ok := g.issues[issueID]
	if !ok {
		return fmt.Errorf("issue %s not found", issueID)
	}
	if update.Status != nil {
		issue.Status = *update.Status
	}
	if update.Summary != nil {
		issue.Summary = *update.Summary
	}
	if update.Recommendation != nil {
		issue.Recommendation = *update.Recommendation
	}
	if update.NodeIDs != nil {
		issue.NodeIDs = update.NodeIDs
	}
	if update.EventRisk != nil {
		issue.EventRisk = update.EventRisk
	}
	return nil
}

func (g *stubGateway) UpdateIssueTask(issueID string, task models.Task) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	issue, ok := g.issues[issueID]
	if !ok {
		return fmt.Errorf("issue %s not found", issueID)
	}
	return issue.UpsertTask(task)
}

func (g *stubGateway) GetIssueStatusCounts() (map[string]int, error) {
	return map[string]int{}, nil
}

func (g *stubGateway) GetNearbyNodes(models.Location, float64) ([]*models.Node, error) {
	return nil, nil
}

func (g *stubGateway) GetPerformanceData(string, time.Time) ([]models.PerformanceSample, error) {
	return nil, nil
}

func (g *stubGateway) GetAlarms(string, time.Time) ([]models.Alarm, error) {
	return nil, nil
}

func newTestServer(t *testing.T, db *stubGateway, authManager *auth.Manager) *httptest.Server {
	t.Helper()

	cfg := config.Default()
	g := guardian.New(cfg.Guardian, db, reasoner.NewStubReasoner(), tools.NewExecutor(tools.NoopCommander{}), checkpoint.NewMemoryStore(), nil, nil)
	scheduler := guardian.NewScheduler(g)
	t.Cleanup(scheduler.Stop)

	srv := NewServer(g, scheduler, db, logging.NewManager(nil, 100), authManager, cfg)
	ts := httptest.NewServer(srv.SetupRoutes())
	t.Cleanup(ts.Close)
	return ts
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t, newStubGateway(), nil)

	resp, err := http.Get(ts.URL + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %v, want ok", body["status"])
	}
}

func TestSchedulerLifecycleEndpoints(t *testing.T) {
	ts := newTestServer(t, newStubGateway(), nil)

	post := func(path string) {
		t.Helper()
		resp, err := http.Post(ts.URL+path, "application/json", nil)
		if err != nil {
			t.Fatalf("POST %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("POST %s status = %d", path, resp.StatusCode)
		}
	}
	running := func() bool {
		t.Helper()
		resp, err := http.Get(ts.URL + "/api/v1/scheduler/status")
		if err != nil {
			t.Fatalf("GET status: %v", err)
		}
		defer resp.Body.Close()
		var body map[string]interface{}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		v, _ := body["running"].(bool)
		return v
	}

	post("/api/v1/scheduler/start")
	if !running() {
		t.Error("scheduler should be running after start")
	}
	post("/api/v1/scheduler/stop")
	if running() {
		t.Error("scheduler should be stopped after stop")
	}
}

func TestEventEndpoints(t *testing.T) {
	db := newStubGateway()
	db.events["ev-1"] = &models.Event{
		EventID:   "ev-1",
		Name:      "stadium concert",
		Size:      "XL",
		StartDate: time.Now().UTC().Add(2 * time.Hour),
		EndDate:   time.Now().UTC().Add(6 * time.Hour),
	}
	ts := newTestServer(t, db, nil)

	resp, err := http.Get(ts.URL + "/api/v1/events")
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	var list map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp.Body.Close()
	if count, _ := list["count"].(float64); count != 1 {
		t.Errorf("count = %v, want 1", list["count"])
	}

	resp, err = http.Get(ts.URL + "/api/v1/events/ev-1")
	if err != nil {
		t.Fatalf("GET event: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("get event status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	resp, err = http.Get(ts.URL + "/api/v1/events/missing")
	if err != nil {
		t.Fatalf("GET missing event: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing event status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
}

func TestIssueDecisionEndpoints(t *testing.T) {
	db := newStubGateway()
	db.issues["iss-1"] = &models.Issue{
		IssueID: "iss-1",
		EventID: "iss-1",
		Status:  models.IssueStatusPendingApproval,
	}
	db.issues["iss-2"] = &models.Issue{
		IssueID: "iss-2",
		EventID: "iss-2",
		Status:  models.IssueStatusAnalyzing,
	}
	ts := newTestServer(t, db, nil)

	resp, err := http.Post(ts.URL+"/api/v1/issues/iss-1/approve", "application/json", nil)
	if err != nil {
		t.Fatalf("POST approve: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("approve status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	issue, _ := db.GetIssue("iss-1")
	if issue.Status != models.IssueStatusApproved {
		t.Errorf("issue status = %s, want %s", issue.Status, models.IssueStatusApproved)
	}

	resp, err = http.Post(ts.URL+"/api/v1/issues/iss-2/reject", "application/json", nil)
	if err != nil {
		t.Fatalf("POST reject: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("reject non-pending status = %d, want %d", resp.StatusCode, http.StatusConflict)
	}
}

func TestConfigEndpoint(t *testing.T) {
	ts := newTestServer(t, newStubGateway(), nil)

	body, _ := json.Marshal(map[string]interface{}{
		"run_interval":       int64(5 * time.Minute),
		"lookforward_period": int64(48 * time.Hour),
		"monitoring_period":  int64(time.Hour),
		"batch_size":         10,
		"node_radius_meters": 500,
	})
	req, _ := http.NewRequest(http.MethodPut, ts.URL+"/api/v1/config", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT config: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("put config status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	var got config.GuardianConfig
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.RunInterval != 5*time.Minute {
		t.Errorf("run interval = %s, want %s", got.RunInterval, 5*time.Minute)
	}
	if got.BatchSize != 10 {
		t.Errorf("batch size = %d, want 10", got.BatchSize)
	}
}

func TestAuthEnforcement(t *testing.T) {
	ts := newTestServer(t, newStubGateway(), auth.NewManager("test-secret"))

	resp, err := http.Get(ts.URL + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	resp, err = http.Get(ts.URL + "/api/v1/issues")
	if err != nil {
		t.Fatalf("GET issues: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous issues status = %d, want %d", resp.StatusCode, http.StatusUnauthorized)
	}

	loginBody, _ := json.Marshal(auth.LoginRequest{Username: "admin", Password: "admin"})
	resp, err = http.Post(ts.URL+"/auth/login", "application/json", bytes.NewReader(loginBody))
	if err != nil {
		t.Fatalf("POST login: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	var login auth.LoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&login); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	resp.Body.Close()
	if login.Token == "" {
		t.Fatal("login returned empty token")
	}

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/v1/issues", nil)
	req.Header.Set("Authorization", "Bearer "+login.Token)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET issues with token: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("authenticated issues status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
}

func TestLogsRecentEndpoint(t *testing.T) {
	ts := newTestServer(t, newStubGateway(), nil)

	resp, err := http.Get(ts.URL + "/api/v1/logs/recent")
	if err != nil {
		t.Fatalf("GET logs: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logs status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := body["logs"]; !ok {
		t.Error("response missing logs field")
	}
}
