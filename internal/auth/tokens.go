package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/hotp"
)

const (
	// OpaqueTokenBytes is the entropy of session, reset and status-change tokens (256 bits)
	OpaqueTokenBytes = 32
	// OpaqueTokenLen is the encoded length of an opaque token
	OpaqueTokenLen = 43
	// OTPCodeDigits is the length of an OTP challenge code
	OTPCodeDigits = 6

	otpSecretBytes = 20
)

// GenerateOpaqueToken returns a random base64url token without padding
func GenerateOpaqueToken() (string, error) {
	b := make([]byte, OpaqueTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashToken returns the hex SHA-256 of a token value. Only hashes are persisted.
func HashToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

// HashScopedToken binds a token value to its subject so it only matches for that subject
func HashScopedToken(subjectID, value string) string {
	return HashToken(subjectID + ":" + value)
}

// GenerateOTPCode derives a 6-digit code with HOTP from a fresh random secret.
// The secret is discarded; the code is stored hashed like any other token.
func GenerateOTPCode() (string, error) {
	secret := make([]byte, otpSecretBytes)
	if _, err := rand.Read(secret); err != nil {
		return "", fmt.Errorf("failed to generate otp secret: %w", err)
	}

	code, err := hotp.GenerateCodeCustom(
		base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(secret),
		0,
		hotp.ValidateOpts{Digits: otp.DigitsSix, Algorithm: otp.AlgorithmSHA1},
	)
	if err != nil {
		return "", fmt.Errorf("failed to derive otp code: %w", err)
	}
	return code, nil
}
