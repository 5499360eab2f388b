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

// OTPChallengeConfig bounds challenge lifetime and guessing
type OTPChallengeConfig struct {
	TTL         time.Duration
	MaxAttempts int
	IssuerName  string
}

// ChallengeReceipt describes an issued challenge without revealing the code
type ChallengeReceipt struct {
	Method    models.OTPMethod `json:"method"`
	ExpiresAt time.Time        `json:"expires_at"`
}

// OTPChallenge issues and verifies session-bound OTP codes
type OTPChallenge struct {
	sessions *SessionManager
	users    UserRepository
	issuer   *TokenIssuer
	delivery DeliveryChannel
	timing   *auth.TimingDelay
	config   OTPChallengeConfig
	logger   *slog.Logger
}

func NewOTPChallenge(sessions *SessionManager, users UserRepository, issuer *TokenIssuer, delivery DeliveryChannel, timing *auth.TimingDelay, config OTPChallengeConfig, logger *slog.Logger) *OTPChallenge {
	return &OTPChallenge{
		sessions: sessions,
		users:    users,
		issuer:   issuer,
		delivery: delivery,
		timing:   timing,
		config:   config,
		logger:   logger,
	}
}

func destinationFor(user *models.User, method models.OTPMethod) (string, error) {
	switch method {
	case models.OTPMethodEmail:
		return user.Email, nil
	case models.OTPMethodSMS:
		if user.Phone == nil || *user.Phone == "" {
			return "", models.ErrOTPDestinationMissing
		}
		return *user.Phone, nil
	}
	return "", models.ErrUnsupportedOTPMethod
}

// IssueChallenge sends a fresh code for a session awaiting OTP, replacing any outstanding one.
// A delivery failure leaves the challenge issued and returns ErrDeliveryFailed; calling again is safe.
func (c *OTPChallenge) IssueChallenge(ctx context.Context, sessionID string, method models.OTPMethod) (*ChallengeReceipt, error) {
	if _, err := models.ParseOTPMethod(string(method)); err != nil {
		return nil, err
	}

	session, err := c.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.OTPNeeded() {
		return nil, models.ErrSessionNotAwaitingOTP
	}

	user, err := c.users.GetByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session user: %w", err)
	}

	destination, err := destinationFor(user, method)
	if err != nil {
		return nil, err
	}

	issued, err := c.issuer.Issue(ctx, models.PurposeOTPChallenge, session.ID, c.config.TTL, string(method))
	if err != nil {
		return nil, err
	}

	msg := DeliveryMessage{
		Method:      method,
		Destination: destination,
		Subject:     fmt.Sprintf("Your %s sign-in code", c.config.IssuerName),
		Text: fmt.Sprintf("Your %s sign-in code is %s. It expires in %d minutes.",
			c.config.IssuerName, issued.Value, int(c.config.TTL.Minutes())),
	}
	if err := c.delivery.Send(ctx, msg); err != nil {
		c.logger.Warn("otp challenge issued but not delivered",
			slog.String("session_id", session.ID),
			slog.String("method", string(method)),
			slog.Any("error", err))
		return nil, fmt.Errorf("%w: %v", models.ErrDeliveryFailed, err)
	}

	return &ChallengeReceipt{Method: method, ExpiresAt: issued.Token.ExpiresAt}, nil
}

// VerifyChallenge redeems code for the session and promotes it to authenticated.
// Every token failure is reported as ErrInvalidOrExpiredOTP; the cause stays wrapped for logging.
func (c *OTPChallenge) VerifyChallenge(ctx context.Context, sessionID, code string) (*models.UserSession, error) {
	start := time.Now()

	session, err := c.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.OTPNeeded() {
		return nil, models.ErrSessionNotAwaitingOTP
	}

	// the attempt is counted before the code is compared, so parallel guesses share the cap
	challenge, err := c.issuer.ReserveAttempt(ctx, models.PurposeOTPChallenge, session.ID, c.config.MaxAttempts)
	if err != nil {
		return nil, c.rejectCode(start, err)
	}
	if challenge.IsExpiredAt(c.issuer.clock()) {
		return nil, c.rejectCode(start, models.ErrTokenExpired)
	}

	if !c.issuer.Matches(challenge, code) {
		if challenge.Attempts >= c.config.MaxAttempts {
			if err := c.issuer.Invalidate(ctx, challenge); err != nil {
				c.logger.Error("failed to invalidate exhausted otp challenge", slog.Any("error", err))
			} else {
				c.logger.Warn("otp challenge invalidated after too many attempts", slog.String("session_id", session.ID))
			}
		}
		return nil, c.rejectCode(start, models.ErrTokenNotFound)
	}

	if _, err := c.issuer.ValidateAndConsume(ctx, code, models.PurposeOTPChallenge, session.ID); err != nil {
		return nil, c.rejectCode(start, err)
	}

	return c.sessions.Promote(ctx, session.ID)
}

// rejectCode maps token failures to ErrInvalidOrExpiredOTP after the constant-time wait.
// Storage errors pass through unchanged.
func (c *OTPChallenge) rejectCode(start time.Time, err error) error {
	if !isTokenStateError(err) {
		return err
	}
	c.timing.WaitFrom(start, false)
	return fmt.Errorf("%w: %w", models.ErrInvalidOrExpiredOTP, err)
}

func isTokenStateError(err error) bool {
	return errors.Is(err, models.ErrTokenNotFound) ||
		errors.Is(err, models.ErrTokenExpired) ||
		errors.Is(err, models.ErrTokenPurposeMismatch) ||
		errors.Is(err, models.ErrTokenAlreadyConsumed)
}
