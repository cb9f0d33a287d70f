package keymanager

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

// Well-known credential IDs.
const (
	CredentialReasonerAPIKey = "reasoner_api_key"
	CredentialDatabaseDSN    = "database_dsn"
	CredentialRedisPassword  = "redis_password"
	CredentialNATSToken      = "nats_token"
)

// Entry is one encrypted credential. EncryptedData holds the
// base64-encoded salt, nonce, and ciphertext.
type Entry struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	EncryptedData string    `json:"encrypted_data"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// store is the on-disk format. The file itself is plain JSON so
// metadata is visible without unlocking; only values are encrypted.
type store struct {
	Version        string            `json:"version"`
	PasswordSalt   string            `json:"password_salt"`
	PasswordVerify string            `json:"password_verify"`
	Keys           map[string]*Entry `json:"keys"`
}

// Manager keeps service credentials (the collaborator API key, backend
// passwords) encrypted at rest with a master password.
type Manager struct {
	storePath string
	password  []byte
	store     *store
	mu        sync.RWMutex
	unlocked  bool
}

const (
	saltSize   = 32
	keySize    = 32
	iterations = 100000
)

func NewManager(storePath string) *Manager {
	return &Manager{
		storePath: storePath,
		store:     &store{Keys: make(map[string]*Entry)},
	}
}

// Unlock opens the credential store with the master password, creating
// a fresh store on first use.
func (m *Manager) Unlock(password string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.password = []byte(password)

	if err := m.loadStore(); err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to unlock credential store: %w", err)
		}
		m.store = &store{
			Version: "1.0",
			Keys:    make(map[string]*Entry),
		}
		if err := m.initializePasswordSalt(); err != nil {
			return fmt.Errorf("failed to initialize password: %w", err)
		}
		if err := m.saveStore(); err != nil {
			return fmt.Errorf("failed to initialize credential store: %w", err)
		}
	}

	if m.store.PasswordVerify != "" {
		if err := m.verifyPassword(password); err != nil {
			m.password = nil
			return err
		}
	}

	m.unlocked = true
	return nil
}

func (m *Manager) initializePasswordSalt() error {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return err
	}

	m.store.PasswordSalt = base64.StdEncoding.EncodeToString(salt)
	verifyHash := pbkdf2.Key(m.password, salt, iterations, keySize, sha256.New)
	m.store.PasswordVerify = base64.StdEncoding.EncodeToString(verifyHash)
	return nil
}

func (m *Manager) verifyPassword(password string) error {
	if m.store.PasswordSalt == "" || m.store.PasswordVerify == "" {
		return errors.New("credential store has no password verification data")
	}

	salt, err := base64.StdEncoding.DecodeString(m.store.PasswordSalt)
	if err != nil {
		return fmt.Errorf("failed to decode password salt: %w", err)
	}
	stored, err := base64.StdEncoding.DecodeString(m.store.PasswordVerify)
	if err != nil {
		return fmt.Errorf("failed to decode password hash: %w", err)
	}

	derived := pbkdf2.Key([]byte(password), salt, iterations, keySize, sha256.New)
	if subtle.ConstantTimeCompare(derived, stored) != 1 {
		return errors.New("invalid password")
	}
	return nil
}

// IsUnlocked reports whether the store is unlocked.
func (m *Manager) IsUnlocked() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.unlocked
}

// Store encrypts and persists a credential.
func (m *Manager) Store(id, name, description, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.unlocked {
		return errors.New("credential store is locked")
	}

	encrypted, err := m.encrypt([]byte(value))
	if err != nil {
		return fmt.Errorf("failed to encrypt credential: %w", err)
	}

	now := time.Now()
	entry := &Entry{
		ID:            id,
		Name:          name,
		Description:   description,
		EncryptedData: base64.StdEncoding.EncodeToString(encrypted),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if existing, ok := m.store.Keys[id]; ok {
		entry.CreatedAt = existing.CreatedAt
	}
	m.store.Keys[id] = entry

	if err := m.saveStore(); err != nil {
		return fmt.Errorf("failed to save credential store: %w", err)
	}
	return nil
}

// Get decrypts and returns a credential.
func (m *Manager) Get(id string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.unlocked {
		return "", errors.New("credential store is locked")
	}

	entry, exists := m.store.Keys[id]
	if !exists {
		return "", fmt.Errorf("credential not found: %s", id)
	}

	encrypted, err := base64.StdEncoding.DecodeString(entry.EncryptedData)
	if err != nil {
		return "", fmt.Errorf("failed to decode credential: %w", err)
	}
	plaintext, err := m.decrypt(encrypted)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt credential: %w", err)
	}
	return string(plaintext), nil
}

// Delete removes a credential.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.unlocked {
		return errors.New("credential store is locked")
	}

	delete(m.store.Keys, id)

	if err := m.saveStore(); err != nil {
		return fmt.Errorf("failed to save credential store: %w", err)
	}
	return nil
}

// List returns all entries without their encrypted payloads.
func (m *Manager) List() ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.unlocked {
		return nil, errors.New("credential store is locked")
	}

	entries := make([]*Entry, 0, len(m.store.Keys))
	for _, entry := range m.store.Keys {
		entries = append(entries, &Entry{
			ID:          entry.ID,
			Name:        entry.Name,
			Description: entry.Description,
			CreatedAt:   entry.CreatedAt,
			UpdatedAt:   entry.UpdatedAt,
		})
	}
	return entries, nil
}

// ChangePassword re-encrypts every credential under a new master
// password.
func (m *Manager) ChangePassword(oldPassword, newPassword string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.unlocked {
		return errors.New("credential store is locked")
	}
	if err := m.verifyPassword(oldPassword); err != nil {
		return fmt.Errorf("old password is incorrect: %w", err)
	}

	plaintexts := make(map[string]string)
	for id, entry := range m.store.Keys {
		encrypted, err := base64.StdEncoding.DecodeString(entry.EncryptedData)
		if err != nil {
			return fmt.Errorf("failed to decode credential %s: %w", id, err)
		}
		plaintext, err := m.decrypt(encrypted)
		if err != nil {
			return fmt.Errorf("failed to decrypt credential %s: %w", id, err)
		}
		plaintexts[id] = string(plaintext)
	}

	m.password = []byte(newPassword)
	if err := m.initializePasswordSalt(); err != nil {
		return fmt.Errorf("failed to initialize new password: %w", err)
	}

	for id, plaintext := range plaintexts {
		encrypted, err := m.encrypt([]byte(plaintext))
		if err != nil {
			return fmt.Errorf("failed to re-encrypt credential %s: %w", id, err)
		}
		entry := m.store.Keys[id]
		entry.EncryptedData = base64.StdEncoding.EncodeToString(encrypted)
		entry.UpdatedAt = time.Now()
	}

	if err := m.saveStore(); err != nil {
		return fmt.Errorf("failed to save credential store: %w", err)
	}
	return nil
}

// Lock locks the store and clears the password from memory.
func (m *Manager) Lock() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.password {
		m.password[i] = 0
	}
	m.password = nil
	m.unlocked = false
}

// encrypt seals plaintext with AES-GCM under a key derived from the
// master password and a fresh salt. Layout: salt | nonce | ciphertext.
func (m *Manager) encrypt(plaintext []byte) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}

	key := pbkdf2.Key(m.password, salt, iterations, keySize, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)

	result := make([]byte, 0, saltSize+len(nonce)+len(ciphertext))
	result = append(result, salt...)
	result = append(result, nonce...)
	result = append(result, ciphertext...)
	return result, nil
}

func (m *Manager) decrypt(data []byte) ([]byte, error) {
	if len(data) < saltSize {
		return nil, errors.New("invalid encrypted data")
	}

	salt := data[:saltSize]
	data = data[saltSize:]

	key := pbkdf2.Key(m.password, salt, iterations, keySize, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return nil, errors.New("invalid encrypted data")
	}

	return gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
}

func (m *Manager) loadStore() error {
	data, err := os.ReadFile(m.storePath)
	if err != nil {
		return err
	}

	var s store
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s.Keys == nil {
		s.Keys = make(map[string]*Entry)
	}
	m.store = &s
	return nil
}

func (m *Manager) saveStore() error {
	data, err := json.MarshalIndent(m.store, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(m.storePath), 0700); err != nil {
		return err
	}
	return os.WriteFile(m.storePath, data, 0600)
}
