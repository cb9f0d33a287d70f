package auth

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

const (
	contextKeyUserID      contextKey = "auth.userID"
	contextKeyRole        contextKey = "auth.role"
	contextKeyPermissions contextKey = "auth.permissions"
)

// Middleware authenticates requests with a Bearer JWT or an X-API-Key
// header and stores the identity on the request context. Requests
// without valid credentials are rejected with 401.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if authHeader := r.Header.Get("Authorization"); authHeader != "" {
			tokenString, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok {
				http.Error(w, "Invalid authorization header", http.StatusUnauthorized)
				return
			}
			claims, err := m.ValidateToken(tokenString)
			if err != nil {
				http.Error(w, "Invalid or expired token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), claims.UserID, claims.Role, claims.Permissions)))
			return
		}

		if apiKey := r.Header.Get("X-API-Key"); apiKey != "" {
			userID, permissions, err := m.ValidateAPIKey(apiKey)
			if err != nil {
				http.Error(w, "Invalid API key", http.StatusUnauthorized)
				return
			}
			user, err := m.GetUser(userID)
			if err != nil {
				http.Error(w, "Invalid API key", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), userID, user.Role, permissions)))
			return
		}

		http.Error(w, "Authentication required", http.StatusUnauthorized)
	})
}

// RequirePermission wraps a handler so it only runs when the request's
// identity holds the given permission.
func (m *Manager) RequirePermission(permission string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims := &Claims{Permissions: GetPermissionsFromRequest(r)}
		if !m.HasPermission(claims, permission) {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next(w, r)
	}
}

func withIdentity(ctx context.Context, userID, role string, permissions []string) context.Context {
	ctx = context.WithValue(ctx, contextKeyUserID, userID)
	ctx = context.WithValue(ctx, contextKeyRole, role)
	return context.WithValue(ctx, contextKeyPermissions, permissions)
}

// GetUserIDFromRequest returns the authenticated user ID, or "" when
// the request is unauthenticated.
func GetUserIDFromRequest(r *http.Request) string {
	userID, _ := r.Context().Value(contextKeyUserID).(string)
	return userID
}

// GetRoleFromRequest returns the authenticated user's role.
func GetRoleFromRequest(r *http.Request) string {
	role, _ := r.Context().Value(contextKeyRole).(string)
	return role
}

// GetPermissionsFromRequest returns the authenticated identity's
// permissions.
func GetPermissionsFromRequest(r *http.Request) []string {
	permissions, _ := r.Context().Value(contextKeyPermissions).([]string)
	return permissions
}
