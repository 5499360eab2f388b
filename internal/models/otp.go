package models

// OTPMethod is the out-of-band channel an OTP code is delivered over
type OTPMethod string

const (
	OTPMethodSMS   OTPMethod = "sms"
	OTPMethodEmail OTPMethod = "email"
)

// ParseOTPMethod accepts only the closed set of delivery methods
func ParseOTPMethod(s string) (OTPMethod, error) {
	switch m := OTPMethod(s); m {
	case OTPMethodSMS, OTPMethodEmail:
		return m, nil
	}
	return "", ErrUnsupportedOTPMethod
}

// OTP status change payloads recorded on otp_status_change tokens
const (
	OTPStatusEnabled  = "enabled"
	OTPStatusDisabled = "disabled"
)

// OTPStatusPayload encodes the requested OTP state
func OTPStatusPayload(enable bool) string {
	if enable {
		return OTPStatusEnabled
	}
	return OTPStatusDisabled
}
