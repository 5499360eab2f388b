package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/BradenHooton/warden/internal/auth"
	"github.com/BradenHooton/warden/internal/models"
)

// PasswordHasher is the hashing side of the credential store
type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hashedPassword, password string) bool
	CompareDummy(password string)
}

// CredentialVerifier checks email/password pairs. Unknown email and wrong
// password produce the same error and take comparable time.
type CredentialVerifier struct {
	users  UserRepository
	hasher PasswordHasher
	timing *auth.TimingDelay
	logger *slog.Logger
}

func NewCredentialVerifier(users UserRepository, hasher PasswordHasher, timing *auth.TimingDelay, logger *slog.Logger) *CredentialVerifier {
	return &CredentialVerifier{
		users:  users,
		hasher: hasher,
		timing: timing,
		logger: logger,
	}
}

// Verify returns the user owning email if password matches
func (v *CredentialVerifier) Verify(ctx context.Context, email, password string) (*models.User, error) {
	start := time.Now()

	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		v.hasher.CompareDummy(password)
		v.timing.WaitFrom(start, false)
		return nil, models.ErrInvalidCredentials
	}

	user, err := v.users.GetByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			v.logger.Error("failed to look up user by email", slog.Any("error", err))
			return nil, models.ErrInternalServer
		}
		v.hasher.CompareDummy(password)
		v.timing.WaitFrom(start, false)
		return nil, models.ErrInvalidCredentials
	}

	if !v.hasher.Compare(user.PasswordHash, password) {
		v.timing.WaitFrom(start, false)
		return nil, models.ErrInvalidCredentials
	}

	return user, nil
}
