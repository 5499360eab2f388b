package models

import (
	"time"
)

type User struct {
	ID                string
	Email             string
	PasswordHash      string
	Name              string
	Role              string  // "user" or "admin"
	Phone             *string // E.164, destination for sms OTP
	OTPEnabled        bool
	OTPEnabledAt      *time.Time
	PasswordChangedAt *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// UserProjection is the caller-facing view of a user
type UserProjection struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	Name         string     `json:"name"`
	Role         string     `json:"role"`
	OTPEnabled   bool       `json:"otp_enabled"`
	OTPEnabledAt *time.Time `json:"otp_enabled_at,omitempty"`
}

// Project strips credential material from the user
func (u *User) Project() *UserProjection {
	return &UserProjection{
		ID:           u.ID,
		Email:        u.Email,
		Name:         u.Name,
		Role:         u.Role,
		OTPEnabled:   u.OTPEnabled,
		OTPEnabledAt: u.OTPEnabledAt,
	}
}
