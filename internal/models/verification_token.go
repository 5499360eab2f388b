package models

import (
	"time"
)

// TokenPurpose binds a verification token to exactly one operation type
type TokenPurpose string

const (
	PurposeOTPChallenge    TokenPurpose = "otp_challenge"
	PurposeOTPStatusChange TokenPurpose = "otp_status_change"
	PurposePasswordReset   TokenPurpose = "password_reset"
)

// IsValid reports whether p is one of the known purposes
func (p TokenPurpose) IsValid() bool {
	switch p {
	case PurposeOTPChallenge, PurposeOTPStatusChange, PurposePasswordReset:
		return true
	}
	return false
}

// SessionScoped reports whether tokens of this purpose are bound to a session id.
// Scoped tokens are only redeemable by the session that requested them.
func (p TokenPurpose) SessionScoped() bool {
	return p == PurposeOTPChallenge || p == PurposeOTPStatusChange
}

// HashesWithSubject reports whether the stored hash covers subject and value together.
// Only short OTP codes need it; opaque tokens are unique on their own.
func (p TokenPurpose) HashesWithSubject() bool {
	return p == PurposeOTPChallenge
}

// VerificationToken is a single-use, purpose-scoped, time-limited token record.
// The plaintext value is never stored.
type VerificationToken struct {
	ID         string
	Purpose    TokenPurpose
	SubjectID  string // session id or user id depending on purpose
	TokenHash  string
	Payload    string
	Attempts   int
	IssuedAt   time.Time
	ExpiresAt  time.Time
	ConsumedAt *time.Time
}

// IsConsumed reports whether the token was redeemed or invalidated
func (t *VerificationToken) IsConsumed() bool {
	return t.ConsumedAt != nil
}

// IsExpiredAt reports whether the token is past its expiry at now
func (t *VerificationToken) IsExpiredAt(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// Unusable classifies why a token cannot be redeemed for purpose at now.
// Expiry and consumption are independent; expiry is reported first.
// Returns nil if the token is usable.
func (t *VerificationToken) Unusable(purpose TokenPurpose, now time.Time) error {
	switch {
	case t.IsExpiredAt(now):
		return ErrTokenExpired
	case t.Purpose != purpose:
		return ErrTokenPurposeMismatch
	case t.IsConsumed():
		return ErrTokenAlreadyConsumed
	}
	return nil
}

// IssuedToken carries the plaintext value back to the issuer's caller exactly once
type IssuedToken struct {
	Value string
	Token *VerificationToken
}
