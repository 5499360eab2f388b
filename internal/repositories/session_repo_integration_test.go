//go:build integration

package repositories

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/BradenHooton/warden/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestSession(t *testing.T, userID string, state models.SessionState, expiresAt time.Time) *models.UserSession {
	t.Helper()

	session, err := NewSessionRepository(testDB).Create(context.Background(), &models.UserSession{
		UserID:    userID,
		TokenHash: "session-hash-" + uuid.New().String(),
		State:     state,
		ExpiresAt: expiresAt,
		Client:    models.ClientMetadata{IPAddress: "203.0.113.1", UserAgent: "test"},
		CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	return session
}

func TestSessionRepository_CreateAndLookup(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionRepository(testDB)
	user := createTestUser(t, true)

	session := createTestSession(t, user.ID, models.SessionStateAwaitingOTP, time.Now().Add(time.Hour))

	found, err := repo.GetByTokenHash(ctx, session.TokenHash)
	require.NoError(t, err)
	assert.Equal(t, session.ID, found.ID)
	assert.Equal(t, models.SessionStateAwaitingOTP, found.State)
	assert.Equal(t, "203.0.113.1", found.Client.IPAddress)

	_, err = repo.GetByTokenHash(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestSessionRepository_PromoteOnlyFromAwaitingOTP(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionRepository(testDB)
	user := createTestUser(t, true)
	now := time.Now().UTC()

	session := createTestSession(t, user.ID, models.SessionStateAwaitingOTP, now.Add(time.Hour))

	promoted, err := repo.Promote(ctx, session.ID, now)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStateAuthenticated, promoted.State)
	assert.NotNil(t, promoted.AuthenticatedAt)

	_, err = repo.Promote(ctx, session.ID, now)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestSessionRepository_RevokedSessionCannotBePromoted(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionRepository(testDB)
	user := createTestUser(t, true)
	now := time.Now().UTC()

	session := createTestSession(t, user.ID, models.SessionStateAwaitingOTP, now.Add(time.Hour))

	require.NoError(t, repo.Revoke(ctx, session.ID, now))
	require.NoError(t, repo.Revoke(ctx, session.ID, now), "revoke must be idempotent")

	_, err := repo.Promote(ctx, session.ID, now)
	assert.ErrorIs(t, err, models.ErrNotFound)

	found, err := repo.GetByID(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStateRevoked, found.State)
}

func TestSessionRepository_RevokeAllForUser(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionRepository(testDB)
	user := createTestUser(t, false)
	other := createTestUser(t, false)
	now := time.Now().UTC()

	createTestSession(t, user.ID, models.SessionStateAuthenticated, now.Add(time.Hour))
	createTestSession(t, user.ID, models.SessionStateAwaitingOTP, now.Add(time.Hour))
	untouched := createTestSession(t, other.ID, models.SessionStateAuthenticated, now.Add(time.Hour))

	n, err := repo.RevokeAllForUser(ctx, user.ID, now)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	found, err := repo.GetByID(ctx, untouched.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStateAuthenticated, found.State)
}

func TestSessionRepository_MarkExpiredLeavesTerminalAlone(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionRepository(testDB)
	user := createTestUser(t, false)
	now := time.Now().UTC()

	session := createTestSession(t, user.ID, models.SessionStateAuthenticated, now.Add(-time.Minute))
	require.NoError(t, repo.MarkExpired(ctx, session.ID))

	found, err := repo.GetByID(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStateExpired, found.State)

	require.NoError(t, repo.Revoke(ctx, session.ID, now))
	found, err = repo.GetByID(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStateExpired, found.State)
}

func TestUserRepository_EmailLookupIsCaseInsensitive(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository(testDB)
	user := createTestUser(t, false)

	found, err := repo.GetByEmail(ctx, "  "+strings.ToUpper(user.Email)+" ")
	require.NoError(t, err)
	assert.Equal(t, user.ID, found.ID)

	updated, err := repo.SetOTPStatus(ctx, user.ID, true, time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, updated.OTPEnabled)
	assert.NotNil(t, updated.OTPEnabledAt)

	require.NoError(t, repo.UpdatePassword(ctx, user.ID, "new-hash", time.Now().UTC()))
	assert.ErrorIs(t, repo.UpdatePassword(ctx, uuid.New().String(), "x", time.Now().UTC()), models.ErrNotFound)
}
