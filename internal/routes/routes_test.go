package routes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BradenHooton/warden/internal/auth"
	"github.com/BradenHooton/warden/internal/handlers"
	"github.com/BradenHooton/warden/internal/middleware"
	"github.com/BradenHooton/warden/internal/models"
	"github.com/BradenHooton/warden/internal/services"
	pkghttp "github.com/BradenHooton/warden/pkg/http"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
)

// stubFlow answers the read-only operations; anything else panics on the nil embedded interface
type stubFlow struct {
	handlers.AuthFlowService
}

func (stubFlow) CurrentSession(_ context.Context, s *models.UserSession) (*services.SessionView, error) {
	return &services.SessionView{Session: s.Project(), User: &models.UserProjection{ID: s.UserID}}, nil
}

func (stubFlow) LogoutAll(context.Context, *models.UserSession) (int64, error) {
	return 1, nil
}

type tokenAuthorizer map[string]*models.UserSession

func (a tokenAuthorizer) Authorize(_ context.Context, token string, requireFull bool) (*models.UserSession, error) {
	s, ok := a[token]
	if !ok {
		return nil, models.ErrSessionNotFound
	}
	if requireFull && s.OTPNeeded() {
		return nil, models.ErrSessionRequiresOTP
	}
	return s, nil
}

type upDB struct{}

func (upDB) HealthCheck(context.Context) error { return nil }

func newTestRouter() http.Handler {
	sessions := tokenAuthorizer{
		"awaiting": {ID: "s1", UserID: "u1", State: models.SessionStateAwaitingOTP, ExpiresAt: time.Now().Add(time.Hour)},
		"full":     {ID: "s2", UserID: "u1", State: models.SessionStateAuthenticated, ExpiresAt: time.Now().Add(time.Hour)},
	}

	router := chi.NewRouter()
	RegisterRoutes(
		router,
		handlers.NewAuthHandler(stubFlow{}, &pkghttp.IPConfig{}, auth.CookieConfig{}),
		handlers.NewHealthHandler(upDB{}),
		sessions,
		middleware.RateLimitConfig{RequestsPerMinute: 100},
	)
	return router
}

func TestRoutes_SessionGates(t *testing.T) {
	tests := []struct {
		name   string
		method string
		path   string
		token  string
		status int
	}{
		{"health is public", "GET", "/health", "", http.StatusOK},
		{"session requires a token", "GET", "/auth/session", "", http.StatusUnauthorized},
		{"unknown token", "GET", "/auth/session", "nope", http.StatusUnauthorized},
		{"awaiting session can read itself", "GET", "/auth/session", "awaiting", http.StatusOK},
		{"awaiting session cannot logout all", "POST", "/auth/logout-all", "awaiting", http.StatusForbidden},
		{"full session can logout all", "POST", "/auth/logout-all", "full", http.StatusOK},
		{"awaiting session cannot change otp status", "POST", "/auth/otp/status", "awaiting", http.StatusForbidden},
	}

	router := newTestRouter()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestRoutes_UnknownRoute(t *testing.T) {
	w := httptest.NewRecorder()
	newTestRouter().ServeHTTP(w, httptest.NewRequest("GET", "/auth/refresh", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
}
