package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// User is an operator account.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Role maps a role name to the permissions it grants. Permissions are
// "resource:action" strings; "*" wildcards the action.
type Role struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Permissions []string `json:"permissions"`
}

// PreDefinedRoles are the built-in roles. Admin manages accounts,
// operators drive the guardian, viewers only read.
var PreDefinedRoles = map[string]Role{
	"admin": {
		Name:        "admin",
		Description: "Full access including user management",
		Permissions: []string{"*:*"},
	},
	"operator": {
		Name:        "operator",
		Description: "Drive the guardian: approve, reject, force cycles",
		Permissions: []string{
			"issues:*",
			"events:*",
			"scheduler:*",
			"logs:read",
			"config:read",
		},
	},
	"viewer": {
		Name:        "viewer",
		Description: "Read-only access",
		Permissions: []string{
			"issues:read",
			"events:read",
			"scheduler:read",
			"logs:read",
			"config:read",
		},
	},
}

// Token is an issued JWT kept for bookkeeping.
type Token struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Token     string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// APIKey is a long-lived credential for automation clients. The raw
// key is shown once at creation; only the bcrypt hash is stored.
type APIKey struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	UserID      string    `json:"user_id"`
	KeyPrefix   string    `json:"key_prefix"`
	KeyHash     string    `json:"-"`
	Permissions []string  `json:"permissions"`
	IsActive    bool      `json:"is_active"`
	ExpiresAt   time.Time `json:"expires_at,omitempty"`
	LastUsed    time.Time `json:"last_used,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Claims is the JWT payload.
type Claims struct {
	UserID      string   `json:"user_id"`
	Username    string   `json:"username"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
	jwt.RegisteredClaims
}

// LoginRequest is the POST /auth/login body.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse carries the issued token and the authenticated user.
type LoginResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expires_in"`
	User      User   `json:"user"`
}

// ChangePasswordRequest is the POST /auth/change-password body.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// CreateAPIKeyRequest is the POST /auth/api-keys body. ExpiresIn is
// seconds; zero means no expiry.
type CreateAPIKeyRequest struct {
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
	ExpiresIn   int64    `json:"expires_in"`
}

// CreateAPIKeyResponse returns the raw key exactly once.
type CreateAPIKeyResponse struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Key       string     `json:"key"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}
