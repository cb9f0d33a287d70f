package logging

import (
	"sync"
	"testing"
	"time"
)

func TestLogAndGetRecent(t *testing.T) {
	m := NewManager(nil, 100)

	m.Log(LogLevelInfo, "guardian", "cycle started", nil)
	m.Log(LogLevelWarn, "dispatcher", "no nodes", map[string]interface{}{"issue_id": "ev-1"})
	m.Log(LogLevelInfo, "guardian", "cycle finished", nil)

	logs := m.GetRecent(10, "", "")
	if len(logs) != 3 {
		t.Fatalf("len(logs) = %d, want 3", len(logs))
	}
	// Newest first.
	if logs[0].Message != "cycle finished" {
		t.Errorf("logs[0].Message = %q, want %q", logs[0].Message, "cycle finished")
	}

	warns := m.GetRecent(10, LogLevelWarn, "")
	if len(warns) != 1 {
		t.Fatalf("len(warns) = %d, want 1", len(warns))
	}
	if warns[0].Source != "dispatcher" {
		t.Errorf("warns[0].Source = %q, want dispatcher", warns[0].Source)
	}

	bySource := m.GetRecent(10, "", "guardian")
	if len(bySource) != 2 {
		t.Errorf("len(bySource) = %d, want 2", len(bySource))
	}
}

func TestGetRecentLimit(t *testing.T) {
	m := NewManager(nil, 50)
	for i := 0; i < 20; i++ {
		m.Log(LogLevelInfo, "test", "entry", nil)
	}
	if got := len(m.GetRecent(5, "", "")); got != 5 {
		t.Errorf("len = %d, want 5", got)
	}
}

func TestBufferWraps(t *testing.T) {
	m := NewManager(nil, 4)
	for i := 0; i < 10; i++ {
		m.Log(LogLevelInfo, "test", "entry", nil)
	}
	if got := len(m.GetRecent(100, "", "")); got != 4 {
		t.Errorf("len = %d, want 4 (buffer size)", got)
	}
}

func TestSubscribe(t *testing.T) {
	m := NewManager(nil, 10)

	var mu sync.Mutex
	received := make([]LogEntry, 0)
	done := make(chan struct{}, 1)

	id := m.Subscribe(func(e LogEntry) {
		mu.Lock()
		received = append(received, e)
		mu.Unlock()
		done <- struct{}{}
	})
	defer m.Unsubscribe(id)

	m.Log(LogLevelError, "agent", "tool failed", nil)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber was not notified")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 {
		t.Fatalf("len(received) = %d, want 1", len(received))
	}
	if received[0].Level != LogLevelError {
		t.Errorf("Level = %s, want error", received[0].Level)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	m := NewManager(nil, 10)

	notified := make(chan struct{}, 10)
	id := m.Subscribe(func(e LogEntry) { notified <- struct{}{} })
	m.Unsubscribe(id)

	m.Log(LogLevelInfo, "test", "after unsubscribe", nil)

	select {
	case <-notified:
		t.Error("handler invoked after unsubscribe")
	case <-time.After(100 * time.Millisecond):
	}
}
