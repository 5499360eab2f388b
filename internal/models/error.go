package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Credential errors. Unknown email and wrong password share one error.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// Session state errors
	ErrSessionNotFound       = errors.New("session not found")
	ErrSessionExpired        = errors.New("session expired")
	ErrSessionRequiresOTP    = errors.New("session requires otp verification")
	ErrSessionNotAwaitingOTP = errors.New("session is not awaiting otp")

	// OTP challenge errors
	ErrUnsupportedOTPMethod  = errors.New("unsupported otp method")
	ErrInvalidOrExpiredOTP   = errors.New("invalid or expired otp")
	ErrOTPDestinationMissing = errors.New("no destination on file for otp method")

	// Verification token errors
	ErrTokenNotFound        = errors.New("token not found")
	ErrTokenExpired         = errors.New("token expired")
	ErrTokenPurposeMismatch = errors.New("token purpose mismatch")
	ErrTokenAlreadyConsumed = errors.New("token already consumed")

	// Collaborator errors, reported apart from token state so callers can retry
	ErrDeliveryFailed    = errors.New("delivery failed")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
)

// ValidationError is a field-level rejection produced before any core operation runs
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Field + ": " + e.Message
}
