package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/BradenHooton/warden/internal/models"
	pkghttp "github.com/BradenHooton/warden/pkg/http"
)

// contextKey is a custom type for context keys
type contextKey string

const (
	// SessionContextKey is the key for storing the authorized session in context
	SessionContextKey contextKey = "session"
)

// SessionAuthorizer resolves a raw session token to a live session
type SessionAuthorizer interface {
	Authorize(ctx context.Context, token string, requireFull bool) (*models.UserSession, error)
}

// RequireSession authorizes the request's session token and injects the session into context.
// With requireFull, sessions still awaiting OTP are rejected.
func RequireSession(authorizer SessionAuthorizer, requireFull bool) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := GetSessionToken(r)
			if token == "" {
				pkghttp.WriteUnauthorized(w, "missing session token")
				return
			}

			session, err := authorizer.Authorize(r.Context(), token, requireFull)
			if err != nil {
				switch {
				case errors.Is(err, models.ErrSessionNotFound):
					pkghttp.WriteUnauthorized(w, "invalid session")
				case errors.Is(err, models.ErrSessionExpired):
					pkghttp.WriteError(w, http.StatusUnauthorized, "session_expired", "session expired")
				case errors.Is(err, models.ErrSessionRequiresOTP):
					pkghttp.WriteForbidden(w, "otp_required", "otp verification required")
				default:
					pkghttp.WriteInternalError(w, "unable to verify session")
				}
				return
			}

			ctx := context.WithValue(r.Context(), SessionContextKey, session)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetSessionFromContext extracts the authorized session from request context
func GetSessionFromContext(r *http.Request) *models.UserSession {
	session, ok := r.Context().Value(SessionContextKey).(*models.UserSession)
	if !ok {
		return nil
	}
	return session
}
