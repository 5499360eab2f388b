package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/warden/internal/auth"
	"github.com/BradenHooton/warden/internal/models"
)

const issueRetries = 3

// TokenIssuer creates and redeems single-use verification tokens.
// Plaintext values leave the issuer exactly once, in the IssuedToken returned by Issue.
type TokenIssuer struct {
	repo   VerificationTokenRepository
	logger *slog.Logger
	clock  func() time.Time
}

func NewTokenIssuer(repo VerificationTokenRepository, logger *slog.Logger) *TokenIssuer {
	return &TokenIssuer{
		repo:   repo,
		logger: logger,
		clock:  time.Now,
	}
}

// SetClock replaces the time source used for issue and expiry checks
func (i *TokenIssuer) SetClock(clock func() time.Time) {
	i.clock = clock
}

func generateTokenValue(purpose models.TokenPurpose) (string, error) {
	if purpose == models.PurposeOTPChallenge {
		return auth.GenerateOTPCode()
	}
	return auth.GenerateOpaqueToken()
}

func tokenHash(purpose models.TokenPurpose, subjectID, value string) string {
	if purpose.HashesWithSubject() {
		return auth.HashScopedToken(subjectID, value)
	}
	return auth.HashToken(value)
}

// Issue stores a new token for (purpose, subject), invalidating the previous live one.
func (i *TokenIssuer) Issue(ctx context.Context, purpose models.TokenPurpose, subjectID string, ttl time.Duration, payload string) (*models.IssuedToken, error) {
	if !purpose.IsValid() {
		return nil, fmt.Errorf("unknown token purpose %q", purpose)
	}

	var lastErr error
	for attempt := 0; attempt < issueRetries; attempt++ {
		value, err := generateTokenValue(purpose)
		if err != nil {
			return nil, err
		}

		now := i.clock()
		stored, err := i.repo.Replace(ctx, &models.VerificationToken{
			Purpose:   purpose,
			SubjectID: subjectID,
			TokenHash: tokenHash(purpose, subjectID, value),
			Payload:   payload,
			IssuedAt:  now,
			ExpiresAt: now.Add(ttl),
		})
		if err == nil {
			i.logger.Debug("verification token issued",
				slog.String("purpose", string(purpose)),
				slog.String("token_id", stored.ID))
			return &models.IssuedToken{Value: value, Token: stored}, nil
		}

		// a concurrent issue for the same subject won the live slot; try again
		if !errors.Is(err, models.ErrConflict) {
			return nil, err
		}
		lastErr = err
	}

	return nil, fmt.Errorf("failed to issue %s token after %d attempts: %w", purpose, issueRetries, lastErr)
}

// ValidateAndConsume redeems value for purpose. scope is the session id for
// session-scoped purposes and empty otherwise; a token issued to another session
// is reported as not found. Exactly one concurrent caller succeeds.
func (i *TokenIssuer) ValidateAndConsume(ctx context.Context, value string, purpose models.TokenPurpose, scope string) (*models.VerificationToken, error) {
	now := i.clock()
	hash := tokenHash(purpose, scope, value)

	consumed, err := i.repo.Consume(ctx, hash, purpose, scope, now)
	if err == nil {
		return consumed, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("failed to consume token: %w", err)
	}

	existing, err := i.repo.GetByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrTokenNotFound
		}
		return nil, fmt.Errorf("failed to look up token: %w", err)
	}

	if existing.Purpose == purpose && scope != "" && existing.SubjectID != scope {
		return nil, models.ErrTokenNotFound
	}
	if reason := existing.Unusable(purpose, now); reason != nil {
		return nil, reason
	}
	// usable a moment after the conditional update missed it: someone else holds it
	return nil, models.ErrTokenAlreadyConsumed
}

// ReserveAttempt counts one guess against the live token for (purpose, subject) before
// the guess is checked. Returns ErrTokenNotFound when no live token has attempts left.
func (i *TokenIssuer) ReserveAttempt(ctx context.Context, purpose models.TokenPurpose, subjectID string, maxAttempts int) (*models.VerificationToken, error) {
	tok, err := i.repo.ReserveAttempt(ctx, purpose, subjectID, maxAttempts)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrTokenNotFound
		}
		return nil, fmt.Errorf("failed to reserve token attempt: %w", err)
	}
	return tok, nil
}

// Matches reports whether value hashes to tok without redeeming it
func (i *TokenIssuer) Matches(tok *models.VerificationToken, value string) bool {
	hash := tokenHash(tok.Purpose, tok.SubjectID, value)
	return subtle.ConstantTimeCompare([]byte(hash), []byte(tok.TokenHash)) == 1
}

// Invalidate consumes tok so no later guess can redeem it
func (i *TokenIssuer) Invalidate(ctx context.Context, tok *models.VerificationToken) error {
	if err := i.repo.Invalidate(ctx, tok.ID, i.clock()); err != nil {
		return fmt.Errorf("failed to invalidate token: %w", err)
	}
	return nil
}
