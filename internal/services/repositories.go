package services

import (
	"context"
	"time"

	"github.com/BradenHooton/warden/internal/models"
)

// UserRepository is the credential store consumed by the auth flows
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	UpdatePassword(ctx context.Context, id, passwordHash string, changedAt time.Time) error
	SetOTPStatus(ctx context.Context, id string, enabled bool, at time.Time) (*models.User, error)
}

// SessionRepository persists sessions. Promote, MarkExpired and Revoke are conditional on current state.
type SessionRepository interface {
	Create(ctx context.Context, session *models.UserSession) (*models.UserSession, error)
	GetByID(ctx context.Context, id string) (*models.UserSession, error)
	GetByTokenHash(ctx context.Context, tokenHash string) (*models.UserSession, error)
	Promote(ctx context.Context, id string, now time.Time) (*models.UserSession, error)
	MarkExpired(ctx context.Context, id string) error
	Revoke(ctx context.Context, id string, now time.Time) error
	RevokeAllForUser(ctx context.Context, userID string, now time.Time) (int64, error)
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// VerificationTokenRepository persists verification tokens. Consume must be a single conditional update.
type VerificationTokenRepository interface {
	Replace(ctx context.Context, token *models.VerificationToken) (*models.VerificationToken, error)
	// Consume ignores the subject when subjectID is empty
	Consume(ctx context.Context, tokenHash string, purpose models.TokenPurpose, subjectID string, now time.Time) (*models.VerificationToken, error)
	GetByHash(ctx context.Context, tokenHash string) (*models.VerificationToken, error)
	// ReserveAttempt counts one guess against the live token for (purpose, subject)
	// while fewer than maxAttempts have been counted. ErrNotFound once none remain.
	ReserveAttempt(ctx context.Context, purpose models.TokenPurpose, subjectID string, maxAttempts int) (*models.VerificationToken, error)
	Invalidate(ctx context.Context, id string, now time.Time) error
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}
