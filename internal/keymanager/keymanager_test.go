package keymanager

import (
	"path/filepath"
	"testing"
)

func newTestManager(t *testing.T) (*Manager, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "credentials.json")
	m := NewManager(path)
	if err := m.Unlock("master-pass"); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	return m, path
}

func TestStoreAndGetRoundTrip(t *testing.T) {
	m, _ := newTestManager(t)

	if err := m.Store(CredentialReasonerAPIKey, "Collaborator API key", "", "sk-secret-123"); err != nil {
		t.Fatalf("Store: %v", err)
	}

	got, err := m.Get(CredentialReasonerAPIKey)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "sk-secret-123" {
		t.Errorf("Get = %q, want sk-secret-123", got)
	}
}

func TestPersistsAcrossReopen(t *testing.T) {
	m, path := newTestManager(t)
	if err := m.Store(CredentialRedisPassword, "Redis", "", "hunter2"); err != nil {
		t.Fatalf("Store: %v", err)
	}
	m.Lock()

	reopened := NewManager(path)
	if err := reopened.Unlock("master-pass"); err != nil {
		t.Fatalf("Unlock after reopen: %v", err)
	}
	got, err := reopened.Get(CredentialRedisPassword)
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if got != "hunter2" {
		t.Errorf("Get = %q, want hunter2", got)
	}
}

func TestUnlockRejectsWrongPassword(t *testing.T) {
	m, path := newTestManager(t)
	m.Lock()

	bad := NewManager(path)
	if err := bad.Unlock("wrong"); err == nil {
		t.Fatal("wrong password should fail to unlock")
	}
	if bad.IsUnlocked() {
		t.Error("store must stay locked after a failed unlock")
	}
}

func TestLockedStoreRefusesAccess(t *testing.T) {
	m, _ := newTestManager(t)
	if err := m.Store(CredentialNATSToken, "NATS", "", "tok"); err != nil {
		t.Fatalf("Store: %v", err)
	}
	m.Lock()

	if _, err := m.Get(CredentialNATSToken); err == nil {
		t.Error("Get on a locked store should fail")
	}
	if err := m.Store("x", "x", "", "x"); err == nil {
		t.Error("Store on a locked store should fail")
	}
	if _, err := m.List(); err == nil {
		t.Error("List on a locked store should fail")
	}
}

func TestListOmitsEncryptedData(t *testing.T) {
	m, _ := newTestManager(t)
	if err := m.Store(CredentialDatabaseDSN, "Postgres DSN", "primary", "postgres://..."); err != nil {
		t.Fatalf("Store: %v", err)
	}

	entries, err := m.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	if entries[0].EncryptedData != "" {
		t.Error("List must not expose encrypted payloads")
	}
	if entries[0].Name != "Postgres DSN" {
		t.Errorf("name = %q", entries[0].Name)
	}
}

func TestChangePasswordReEncrypts(t *testing.T) {
	m, path := newTestManager(t)
	if err := m.Store(CredentialReasonerAPIKey, "key", "", "sk-original"); err != nil {
		t.Fatalf("Store: %v", err)
	}

	if err := m.ChangePassword("wrong", "new-pass"); err == nil {
		t.Fatal("change with wrong old password should fail")
	}
	if err := m.ChangePassword("master-pass", "new-pass"); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}
	m.Lock()

	reopened := NewManager(path)
	if err := reopened.Unlock("master-pass"); err == nil {
		t.Error("old password should no longer unlock")
	}

	reopened = NewManager(path)
	if err := reopened.Unlock("new-pass"); err != nil {
		t.Fatalf("Unlock with new password: %v", err)
	}
	got, err := reopened.Get(CredentialReasonerAPIKey)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "sk-original" {
		t.Errorf("Get = %q, want sk-original", got)
	}
}

func TestDelete(t *testing.T) {
	m, _ := newTestManager(t)
	if err := m.Store("tmp", "tmp", "", "v"); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := m.Delete("tmp"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := m.Get("tmp"); err == nil {
		t.Error("deleted credential should be gone")
	}
}
