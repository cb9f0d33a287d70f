package auth

import (
	"crypto/rand"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// Manager handles authentication and authorization for the API.
type Manager struct {
	mu        sync.RWMutex
	jwtSecret string
	users     map[string]*User   // userID -> User
	tokens    map[string]*Token  // tokenID -> Token
	apiKeys   map[string]*APIKey // keyID -> APIKey
	passwords map[string]string  // userID -> password hash
	roles     map[string]Role    // roleName -> Role
	tokenTTL  time.Duration
}

// NewManager creates an auth manager with the built-in roles and a
// default admin account (password: admin, change it on first login).
func NewManager(jwtSecret string) *Manager {
	if jwtSecret == "" {
		jwtSecret = generateRandomSecret(32)
		log.Printf("[Auth] Generated random JWT secret for session (not persistent)")
	}

	m := &Manager{
		jwtSecret: jwtSecret,
		users:     make(map[string]*User),
		tokens:    make(map[string]*Token),
		apiKeys:   make(map[string]*APIKey),
		passwords: make(map[string]string),
		roles:     make(map[string]Role),
		tokenTTL:  24 * time.Hour,
	}

	for roleName, role := range PreDefinedRoles {
		m.roles[roleName] = role
	}

	adminUser := &User{
		ID:        "user-admin",
		Username:  "admin",
		Email:     "admin@ranguard.local",
		Role:      "admin",
		IsActive:  true,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	m.users[adminUser.ID] = adminUser

	passwordHash, _ := bcrypt.GenerateFromPassword([]byte("admin"), bcrypt.DefaultCost)
	m.passwords[adminUser.ID] = string(passwordHash)

	return m
}

// SetTokenTTL overrides the default 24h token lifetime.
func (m *Manager) SetTokenTTL(ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokenTTL = ttl
}

// Login authenticates a user and returns a token.
func (m *Manager) Login(username, password string) (*LoginResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var user *User
	for _, u := range m.users {
		if u.Username == username && u.IsActive {
			user = u
			break
		}
	}
	if user == nil {
		return nil, fmt.Errorf("invalid username or password")
	}

	passwordHash, exists := m.passwords[user.ID]
	if !exists {
		return nil, fmt.Errorf("invalid username or password")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(password)); err != nil {
		return nil, fmt.Errorf("invalid username or password")
	}

	token, err := m.generateTokenLocked(user)
	if err != nil {
		return nil, err
	}

	return &LoginResponse{
		Token:     token,
		ExpiresIn: int64(m.tokenTTL.Seconds()),
		User:      *user,
	}, nil
}

// GenerateToken creates a JWT token for a user.
func (m *Manager) GenerateToken(user *User) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generateTokenLocked(user)
}

func (m *Manager) generateTokenLocked(user *User) (string, error) {
	role, exists := m.roles[user.Role]
	if !exists {
		return "", fmt.Errorf("unknown role: %s", user.Role)
	}

	now := time.Now()
	expiresAt := now.Add(m.tokenTTL)

	claims := &Claims{
		UserID:      user.ID,
		Username:    user.Username,
		Role:        user.Role,
		Permissions: role.Permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "ranguard",
			Subject:   user.ID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(m.jwtSecret))
	if err != nil {
		return "", err
	}

	tokenID := generateRandomID()
	m.tokens[tokenID] = &Token{
		ID:        tokenID,
		UserID:    user.ID,
		Token:     tokenString,
		ExpiresAt: expiresAt,
		CreatedAt: now,
	}

	return tokenString, nil
}

// ValidateToken validates a JWT token and returns its claims.
func (m *Manager) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(m.jwtSecret), nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	if claims.ExpiresAt != nil && time.Now().After(claims.ExpiresAt.Time) {
		return nil, fmt.Errorf("token expired")
	}

	return claims, nil
}

// CreateAPIKey creates a new API key for a user. The raw key is
// returned once and never stored.
func (m *Manager) CreateAPIKey(userID string, req CreateAPIKeyRequest) (*CreateAPIKeyResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, exists := m.users[userID]
	if !exists {
		return nil, fmt.Errorf("user not found")
	}

	keyID := generateRandomID()
	keyValue := generateRandomSecret(32)
	keyPrefix := keyValue[:8]
	keyHash, _ := bcrypt.GenerateFromPassword([]byte(keyValue), bcrypt.DefaultCost)

	var expiresAt *time.Time
	var expiresAtValue time.Time
	if req.ExpiresIn > 0 {
		exp := time.Now().Add(time.Duration(req.ExpiresIn) * time.Second)
		expiresAt = &exp
		expiresAtValue = exp
	}

	m.apiKeys[keyID] = &APIKey{
		ID:          keyID,
		Name:        req.Name,
		UserID:      userID,
		KeyPrefix:   keyPrefix,
		KeyHash:     string(keyHash),
		Permissions: req.Permissions,
		IsActive:    true,
		ExpiresAt:   expiresAtValue,
		CreatedAt:   time.Now(),
	}

	log.Printf("[Auth] Created API key %s for user %s", keyPrefix, user.Username)

	return &CreateAPIKeyResponse{
		ID:        keyID,
		Name:      req.Name,
		Key:       keyValue,
		ExpiresAt: expiresAt,
	}, nil
}

// ListAPIKeys returns all active API keys for a user (hashes never
// included in JSON).
func (m *Manager) ListAPIKeys(userID string) []*APIKey {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []*APIKey
	for _, k := range m.apiKeys {
		if k.UserID == userID && k.IsActive {
			keys = append(keys, k)
		}
	}
	return keys
}

// RevokeAPIKey marks an API key as inactive.
func (m *Manager) RevokeAPIKey(keyID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k, exists := m.apiKeys[keyID]
	if !exists || k.UserID != userID {
		return fmt.Errorf("API key not found")
	}
	k.IsActive = false
	return nil
}

// ValidateAPIKey validates an API key and returns the owning user and
// the key's permissions.
func (m *Manager) ValidateAPIKey(keyValue string) (string, []string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, apiKey := range m.apiKeys {
		if !apiKey.IsActive {
			continue
		}
		if !apiKey.ExpiresAt.IsZero() && time.Now().After(apiKey.ExpiresAt) {
			continue
		}
		if err := bcrypt.CompareHashAndPassword([]byte(apiKey.KeyHash), []byte(keyValue)); err != nil {
			continue
		}

		apiKey.LastUsed = time.Now()
		return apiKey.UserID, apiKey.Permissions, nil
	}

	return "", nil, fmt.Errorf("invalid API key")
}

// ChangePassword changes a user's password.
func (m *Manager) ChangePassword(userID, oldPassword, newPassword string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, exists := m.users[userID]
	if !exists {
		return fmt.Errorf("user not found")
	}

	passwordHash, exists := m.passwords[userID]
	if !exists {
		return fmt.Errorf("password not set")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(oldPassword)); err != nil {
		return fmt.Errorf("incorrect password")
	}

	newHash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	m.passwords[userID] = string(newHash)
	user.UpdatedAt = time.Now()

	log.Printf("[Auth] Password changed for user %s", user.Username)
	return nil
}

// CreateUser creates a new user.
func (m *Manager) CreateUser(username, email, role, password string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if u.Username == username {
			return nil, fmt.Errorf("username already exists")
		}
	}
	if _, exists := m.roles[role]; !exists {
		return nil, fmt.Errorf("unknown role: %s", role)
	}

	userID := generateRandomID()
	user := &User{
		ID:        userID,
		Username:  username,
		Email:     email,
		Role:      role,
		IsActive:  true,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	passwordHash, _ := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	m.passwords[userID] = string(passwordHash)
	m.users[userID] = user

	log.Printf("[Auth] Created user %s with role %s", username, role)
	return user, nil
}

// GetUser retrieves a user by ID.
func (m *Manager) GetUser(userID string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	user, exists := m.users[userID]
	if !exists {
		return nil, fmt.Errorf("user not found")
	}
	return user, nil
}

// ListUsers lists all users.
func (m *Manager) ListUsers() []*User {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var users []*User
	for _, u := range m.users {
		users = append(users, u)
	}
	return users
}

// HasPermission checks whether the claims grant a "resource:action"
// permission, honoring "*:*" and "resource:*" wildcards.
func (m *Manager) HasPermission(claims *Claims, permission string) bool {
	for _, p := range claims.Permissions {
		if p == permission || p == "*:*" {
			return true
		}
		parts := strings.Split(permission, ":")
		if len(parts) == 2 && p == parts[0]+":*" {
			return true
		}
	}
	return false
}

func generateRandomID() string {
	return fmt.Sprintf("id-%s", generateRandomSecret(12))
}

func generateRandomSecret(length int) string {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		panic(err)
	}
	return fmt.Sprintf("%x", bytes)
}
