package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"

	"locoinspect/auth"
	"locoinspect/controller"
	"locoinspect/models"
)

type contextKey string

const SessionContextKey contextKey = "session"

// SessionLookup resolves the session id carried by an access token.
type SessionLookup interface {
	Session(sessionID string) (*controller.Session, error)
}

// AuthMiddleware validates the bearer token and injects the session it names into the context.
// Event streams cannot send headers, so a "token" query parameter is accepted as well.
func AuthMiddleware(jwtManager *auth.JWTManager, sessions SessionLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.URL.Query().Get("token")
			if authHeader := r.Header.Get("Authorization"); authHeader != "" {
				var err error
				token, err = auth.ExtractToken(authHeader)
				if err != nil {
					writeError(w, "Invalid authorization header", http.StatusUnauthorized)
					return
				}
			}
			if token == "" {
				writeError(w, "Authentication required", http.StatusUnauthorized)
				return
			}

			claims, err := jwtManager.ValidateToken(token, auth.TokenTypeAccess)
			if err != nil {
				writeError(w, "Invalid or expired token", http.StatusUnauthorized)
				return
			}

			// A restart or logout discards sessions even while their tokens are still valid.
			session, err := sessions.Session(claims.SessionID)
			if err != nil {
				writeError(w, "Session expired. Please log in again.", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), SessionContextKey, session)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetSessionFromContext retrieves the session from the request context
func GetSessionFromContext(ctx context.Context) (*controller.Session, bool) {
	session, ok := ctx.Value(SessionContextKey).(*controller.Session)
	return session, ok
}

// RequireRole middleware checks if the session user has one of the allowed roles
func RequireRole(allowedRoles ...models.UserRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session, ok := GetSessionFromContext(r.Context())
			if !ok {
				writeError(w, "Session not found in context", http.StatusUnauthorized)
				return
			}

			if !slices.Contains(allowedRoles, session.User().Role) {
				writeError(w, "Insufficient permissions", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}
