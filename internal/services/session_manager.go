package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/warden/internal/auth"
	"github.com/BradenHooton/warden/internal/models"
)

// SessionManager owns the session state machine:
//
//	create -> awaiting_otp | authenticated
//	awaiting_otp -> authenticated (Promote)
//	live -> expired | revoked
//
// Terminal sessions are never reactivated.
type SessionManager struct {
	repo   SessionRepository
	ttl    time.Duration
	logger *slog.Logger
	clock  func() time.Time
}

func NewSessionManager(repo SessionRepository, ttl time.Duration, logger *slog.Logger) *SessionManager {
	return &SessionManager{
		repo:   repo,
		ttl:    ttl,
		logger: logger,
		clock:  time.Now,
	}
}

// SetClock replaces the time source used for expiry checks
func (m *SessionManager) SetClock(clock func() time.Time) {
	m.clock = clock
}

// Create opens a session for user. The raw token is returned once and only its hash is stored.
func (m *SessionManager) Create(ctx context.Context, user *models.User, client models.ClientMetadata) (*models.UserSession, string, error) {
	token, err := auth.GenerateOpaqueToken()
	if err != nil {
		return nil, "", err
	}

	now := m.clock()
	session := &models.UserSession{
		UserID:    user.ID,
		TokenHash: auth.HashToken(token),
		State:     models.InitialSessionState(user.OTPEnabled),
		ExpiresAt: now.Add(m.ttl),
		Client:    client,
		CreatedAt: now,
	}
	if session.State == models.SessionStateAuthenticated {
		session.AuthenticatedAt = &now
	}

	created, err := m.repo.Create(ctx, session)
	if err != nil {
		return nil, "", err
	}

	m.logger.Info("session created",
		slog.String("session_id", created.ID),
		slog.String("user_id", created.UserID),
		slog.String("state", string(created.State)))

	return created, token, nil
}

// Authorize resolves a raw session token. Expired sessions are moved to the expired state.
func (m *SessionManager) Authorize(ctx context.Context, token string, requireFull bool) (*models.UserSession, error) {
	session, err := m.repo.GetByTokenHash(ctx, auth.HashToken(token))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	if err := m.checkLive(ctx, session); err != nil {
		return nil, err
	}

	if requireFull && session.OTPNeeded() {
		return nil, models.ErrSessionRequiresOTP
	}

	return session, nil
}

// Get loads a live session by id
func (m *SessionManager) Get(ctx context.Context, id string) (*models.UserSession, error) {
	session, err := m.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	if err := m.checkLive(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

func (m *SessionManager) checkLive(ctx context.Context, session *models.UserSession) error {
	switch session.State {
	case models.SessionStateRevoked:
		return models.ErrSessionNotFound
	case models.SessionStateExpired:
		return models.ErrSessionExpired
	}

	if session.IsExpiredAt(m.clock()) {
		if err := m.repo.MarkExpired(ctx, session.ID); err != nil {
			m.logger.Warn("failed to mark session expired",
				slog.String("session_id", session.ID),
				slog.Any("error", err))
		}
		return models.ErrSessionExpired
	}
	return nil
}

// Promote completes the OTP gate. Only an awaiting_otp session can be promoted.
func (m *SessionManager) Promote(ctx context.Context, id string) (*models.UserSession, error) {
	session, err := m.repo.Promote(ctx, id, m.clock())
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrSessionNotAwaitingOTP
		}
		return nil, fmt.Errorf("failed to promote session: %w", err)
	}

	m.logger.Info("session promoted", slog.String("session_id", id))
	return session, nil
}

// Revoke is idempotent
func (m *SessionManager) Revoke(ctx context.Context, id string) error {
	if err := m.repo.Revoke(ctx, id, m.clock()); err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	return nil
}

// RevokeAllForUser revokes every live session of userID
func (m *SessionManager) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	n, err := m.repo.RevokeAllForUser(ctx, userID, m.clock())
	if err != nil {
		return 0, fmt.Errorf("failed to revoke sessions: %w", err)
	}

	m.logger.Info("sessions revoked for user",
		slog.String("user_id", userID),
		slog.Int64("count", n))
	return n, nil
}
