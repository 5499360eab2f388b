package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/BradenHooton/warden/internal/models"
	pkglogger "github.com/BradenHooton/warden/pkg/logger"
)

// AuthFlowConfig holds lifetimes and limits for the orchestrated flows
type AuthFlowConfig struct {
	StatusChangeTTL  time.Duration
	PasswordResetTTL time.Duration
	LinkBaseURL      string
	IssuerName       string
	OTPSendLimit     int
	OTPSendWindow    time.Duration
	ResetLimit       int
	ResetWindow      time.Duration
}

// AuthFlow is the entry point for login, OTP, OTP status change, password reset and logout.
// Each operation sequences the session, challenge and token components.
type AuthFlow struct {
	credentials *CredentialVerifier
	sessions    *SessionManager
	otp         *OTPChallenge
	issuer      *TokenIssuer
	users       UserRepository
	hasher      PasswordHasher
	delivery    DeliveryChannel
	limiter     RateLimiter
	config      AuthFlowConfig
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
	clock       func() time.Time
}

func NewAuthFlow(
	credentials *CredentialVerifier,
	sessions *SessionManager,
	otp *OTPChallenge,
	issuer *TokenIssuer,
	users UserRepository,
	hasher PasswordHasher,
	delivery DeliveryChannel,
	limiter RateLimiter,
	config AuthFlowConfig,
	logger *slog.Logger,
	auditLogger *pkglogger.AuditLogger,
) *AuthFlow {
	return &AuthFlow{
		credentials: credentials,
		sessions:    sessions,
		otp:         otp,
		issuer:      issuer,
		users:       users,
		hasher:      hasher,
		delivery:    delivery,
		limiter:     limiter,
		config:      config,
		logger:      logger,
		auditLogger: auditLogger,
		clock:       time.Now,
	}
}

// SetClock replaces the time source used for timestamps recorded by the flows
func (f *AuthFlow) SetClock(clock func() time.Time) {
	f.clock = clock
}

// LoginResult carries the raw session token back to the transport exactly once
type LoginResult struct {
	Token   string                    `json:"-"`
	Session *models.SessionProjection `json:"session"`
	User    *models.UserProjection    `json:"user"`
}

// SessionView is the caller's current session and user
type SessionView struct {
	Session *models.SessionProjection `json:"session"`
	User    *models.UserProjection    `json:"user"`
}

// Login checks credentials and opens a session. The session awaits OTP when the user has OTP enabled.
func (f *AuthFlow) Login(ctx context.Context, email, password string, client models.ClientMetadata) (*LoginResult, error) {
	user, err := f.credentials.Verify(ctx, email, password)
	if err != nil {
		f.auditLogger.Log(ctx, pkglogger.AuditEvent{
			EventType:     pkglogger.EventLogin,
			IPAddress:     client.IPAddress,
			UserAgent:     client.UserAgent,
			Success:       false,
			FailureReason: err.Error(),
		})
		return nil, err
	}

	session, token, err := f.sessions.Create(ctx, user, client)
	if err != nil {
		f.logger.Error("failed to create session", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	f.auditLogger.Log(ctx, pkglogger.AuditEvent{
		EventType: pkglogger.EventLogin,
		UserID:    user.ID,
		SessionID: session.ID,
		IPAddress: client.IPAddress,
		UserAgent: client.UserAgent,
		Success:   true,
		Metadata:  map[string]string{"state": string(session.State)},
	})

	return &LoginResult{
		Token:   token,
		Session: session.Project(),
		User:    user.Project(),
	}, nil
}

// SendOTP issues a challenge for a session awaiting OTP
func (f *AuthFlow) SendOTP(ctx context.Context, session *models.UserSession, method models.OTPMethod) (*ChallengeReceipt, error) {
	if err := f.limiter.Allow(ctx, "otp_send:"+session.ID, f.config.OTPSendLimit, f.config.OTPSendWindow); err != nil {
		return nil, err
	}

	receipt, err := f.otp.IssueChallenge(ctx, session.ID, method)
	f.auditLogger.Log(ctx, pkglogger.AuditEvent{
		EventType:     pkglogger.EventOTPSent,
		UserID:        session.UserID,
		SessionID:     session.ID,
		Success:       err == nil,
		FailureReason: errorReason(err),
		Metadata:      map[string]string{"method": string(method)},
	})
	return receipt, err
}

// VerifyOTP redeems a challenge code and promotes the session
func (f *AuthFlow) VerifyOTP(ctx context.Context, session *models.UserSession, code string) (*models.SessionProjection, error) {
	promoted, err := f.otp.VerifyChallenge(ctx, session.ID, code)
	f.auditLogger.LogSessionEvent(ctx, pkglogger.EventOTPVerify, session.UserID, session.ID, err)
	if err != nil {
		return nil, err
	}
	return promoted.Project(), nil
}

// StatusChangeReceipt describes a pending OTP status change
type StatusChangeReceipt struct {
	RequestedStatus string    `json:"requested_status"`
	ExpiresAt       time.Time `json:"expires_at"`
}

// RequestOTPStatusChange issues a status-change token for the caller's authenticated session
// and emails the confirmation link to the user.
func (f *AuthFlow) RequestOTPStatusChange(ctx context.Context, session *models.UserSession, enable bool) (*StatusChangeReceipt, error) {
	if session.State != models.SessionStateAuthenticated {
		return nil, models.ErrSessionRequiresOTP
	}

	user, err := f.users.GetByID(ctx, session.UserID)
	if err != nil {
		f.logger.Error("failed to load user", slog.String("user_id", session.UserID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	if user.OTPEnabled == enable {
		return nil, models.ErrConflict
	}

	payload := models.OTPStatusPayload(enable)
	issued, err := f.issuer.Issue(ctx, models.PurposeOTPStatusChange, session.ID, f.config.StatusChangeTTL, payload)
	if err != nil {
		f.logger.Error("failed to issue status change token", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	link := f.link("/otp/status/confirm", issued.Value)
	msg := DeliveryMessage{
		Method:      models.OTPMethodEmail,
		Destination: user.Email,
		Subject:     fmt.Sprintf("Confirm two-step verification change for %s", f.config.IssuerName),
		Text: fmt.Sprintf("A request was made to set two-step verification to %s.\n\nConfirm it here: %s\n\nThe link expires in %d minutes. If this wasn't you, change your password.",
			payload, link, int(f.config.StatusChangeTTL.Minutes())),
	}

	deliveryErr := f.delivery.Send(ctx, msg)
	f.auditLogger.Log(ctx, pkglogger.AuditEvent{
		EventType:     pkglogger.EventOTPStatusRequested,
		UserID:        user.ID,
		SessionID:     session.ID,
		Success:       deliveryErr == nil,
		FailureReason: errorReason(deliveryErr),
		Metadata:      map[string]string{"requested_status": payload},
	})
	if deliveryErr != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrDeliveryFailed, deliveryErr)
	}

	return &StatusChangeReceipt{RequestedStatus: payload, ExpiresAt: issued.Token.ExpiresAt}, nil
}

// ConfirmOTPStatusChange consumes a status-change token issued to this session and applies it
func (f *AuthFlow) ConfirmOTPStatusChange(ctx context.Context, session *models.UserSession, token string) (*models.UserProjection, error) {
	if session.State != models.SessionStateAuthenticated {
		return nil, models.ErrSessionRequiresOTP
	}

	consumed, err := f.issuer.ValidateAndConsume(ctx, token, models.PurposeOTPStatusChange, session.ID)
	if err != nil {
		f.auditLogger.LogSessionEvent(ctx, pkglogger.EventOTPStatusChanged, session.UserID, session.ID, err)
		return nil, err
	}

	enable := consumed.Payload == models.OTPStatusEnabled
	user, err := f.users.SetOTPStatus(ctx, session.UserID, enable, f.clock())
	if err != nil {
		f.logger.Error("failed to update otp status", slog.String("user_id", session.UserID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	f.auditLogger.Log(ctx, pkglogger.AuditEvent{
		EventType: pkglogger.EventOTPStatusChanged,
		UserID:    user.ID,
		SessionID: session.ID,
		Success:   true,
		Metadata:  map[string]string{"otp_status": consumed.Payload},
	})

	return user.Project(), nil
}

// ForgotPassword emails a reset link. Unknown emails succeed silently.
func (f *AuthFlow) ForgotPassword(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))

	if err := f.limiter.Allow(ctx, "password_forgot:"+email, f.config.ResetLimit, f.config.ResetWindow); err != nil {
		return err
	}

	user, err := f.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			f.logger.Info("password reset requested for unknown email",
				slog.String("email", pkglogger.SanitizedEmail(email)))
			return nil
		}
		f.logger.Error("failed to look up user by email", slog.Any("error", err))
		return models.ErrInternalServer
	}

	issued, err := f.issuer.Issue(ctx, models.PurposePasswordReset, user.ID, f.config.PasswordResetTTL, "")
	if err != nil {
		f.logger.Error("failed to issue password reset token", slog.Any("error", err))
		return models.ErrInternalServer
	}

	link := f.link("/password/reset", issued.Value)
	msg := DeliveryMessage{
		Method:      models.OTPMethodEmail,
		Destination: user.Email,
		Subject:     fmt.Sprintf("Reset your %s password", f.config.IssuerName),
		Text: fmt.Sprintf("Reset your password here: %s\n\nThe link expires in %d minutes and works once. If you didn't ask for this, ignore this email.",
			link, int(f.config.PasswordResetTTL.Minutes())),
	}

	// delivery failures are audited, never returned: the response must not reveal whether the account exists
	deliveryErr := f.delivery.Send(ctx, msg)
	f.auditLogger.Log(ctx, pkglogger.AuditEvent{
		EventType:     pkglogger.EventPasswordForgot,
		UserID:        user.ID,
		Success:       deliveryErr == nil,
		FailureReason: errorReason(deliveryErr),
	})
	return nil
}

// ResetPassword consumes a reset token, stores the new password and revokes every session of the user
func (f *AuthFlow) ResetPassword(ctx context.Context, token, newPassword string) error {
	consumed, err := f.issuer.ValidateAndConsume(ctx, token, models.PurposePasswordReset, "")
	if err != nil {
		f.auditLogger.Log(ctx, pkglogger.AuditEvent{
			EventType:     pkglogger.EventPasswordReset,
			Success:       false,
			FailureReason: err.Error(),
		})
		return err
	}
	userID := consumed.SubjectID

	hash, err := f.hasher.Hash(newPassword)
	if err != nil {
		f.logger.Error("failed to hash password", slog.Any("error", err))
		return models.ErrInternalServer
	}

	if err := f.users.UpdatePassword(ctx, userID, hash, f.clock()); err != nil {
		f.logger.Error("failed to update password", slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	revoked, err := f.sessions.RevokeAllForUser(ctx, userID)
	if err != nil {
		f.logger.Error("failed to revoke sessions after password reset", slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	f.auditLogger.Log(ctx, pkglogger.AuditEvent{
		EventType: pkglogger.EventPasswordReset,
		UserID:    userID,
		Success:   true,
		Metadata:  map[string]string{"sessions_revoked": fmt.Sprint(revoked)},
	})
	return nil
}

// Logout revokes the caller's session
func (f *AuthFlow) Logout(ctx context.Context, session *models.UserSession) error {
	err := f.sessions.Revoke(ctx, session.ID)
	f.auditLogger.LogSessionEvent(ctx, pkglogger.EventLogout, session.UserID, session.ID, err)
	if err != nil {
		f.logger.Error("failed to revoke session", slog.String("session_id", session.ID), slog.Any("error", err))
		return models.ErrInternalServer
	}
	return nil
}

// LogoutAll revokes every session of the caller's user, including the caller's
func (f *AuthFlow) LogoutAll(ctx context.Context, session *models.UserSession) (int64, error) {
	n, err := f.sessions.RevokeAllForUser(ctx, session.UserID)
	f.auditLogger.LogSessionEvent(ctx, pkglogger.EventLogoutAll, session.UserID, session.ID, err)
	if err != nil {
		return 0, models.ErrInternalServer
	}
	return n, nil
}

// CurrentSession projects the caller's session and user
func (f *AuthFlow) CurrentSession(ctx context.Context, session *models.UserSession) (*SessionView, error) {
	user, err := f.users.GetByID(ctx, session.UserID)
	if err != nil {
		f.logger.Error("failed to load user", slog.String("user_id", session.UserID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	return &SessionView{Session: session.Project(), User: user.Project()}, nil
}

func (f *AuthFlow) link(path, token string) string {
	return strings.TrimRight(f.config.LinkBaseURL, "/") + path + "?token=" + url.QueryEscape(token)
}

func errorReason(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
