package models

import (
	"time"
)

// SessionState is the lifecycle state of a UserSession.
//
//	awaiting_otp --(otp verified)--> authenticated
//	any          --(expiry)--------> expired
//	any          --(revoke)--------> revoked
//
// expired and revoked are terminal.
type SessionState string

const (
	SessionStateAwaitingOTP   SessionState = "awaiting_otp"
	SessionStateAuthenticated SessionState = "authenticated"
	SessionStateExpired       SessionState = "expired"
	SessionStateRevoked       SessionState = "revoked"
)

// IsTerminal reports whether no transition can leave this state
func (s SessionState) IsTerminal() bool {
	return s == SessionStateExpired || s == SessionStateRevoked
}

// InitialSessionState returns the state a new session starts in for a user
func InitialSessionState(otpEnabled bool) SessionState {
	if otpEnabled {
		return SessionStateAwaitingOTP
	}
	return SessionStateAuthenticated
}

// ClientMetadata is advisory request context recorded with a session. Never used for enforcement.
type ClientMetadata struct {
	IPAddress string `json:"ip_address,omitempty"`
	Device    string `json:"device,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	Location  string `json:"location,omitempty"`
}

// UserSession represents one authenticated client context
type UserSession struct {
	ID              string
	UserID          string
	TokenHash       string // SHA-256 of the opaque session token
	State           SessionState
	ExpiresAt       time.Time
	Client          ClientMetadata
	CreatedAt       time.Time
	AuthenticatedAt *time.Time
	RevokedAt       *time.Time
}

// OTPNeeded reports whether the session still has to pass the OTP challenge
func (s *UserSession) OTPNeeded() bool {
	return s.State == SessionStateAwaitingOTP
}

// IsExpiredAt reports whether the session's lifetime has elapsed at now
func (s *UserSession) IsExpiredAt(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// SessionProjection is the caller-facing view of a session
type SessionProjection struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	State     SessionState   `json:"state"`
	OTPNeeded bool           `json:"otp_needed"`
	ExpiresAt time.Time      `json:"expires_at"`
	Client    ClientMetadata `json:"client"`
}

func (s *UserSession) Project() *SessionProjection {
	return &SessionProjection{
		ID:        s.ID,
		UserID:    s.UserID,
		State:     s.State,
		OTPNeeded: s.OTPNeeded(),
		ExpiresAt: s.ExpiresAt,
		Client:    s.Client,
	}
}
