package handlers

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/BradenHooton/warden/internal/auth"
	"github.com/BradenHooton/warden/internal/models"
	pkgauth "github.com/BradenHooton/warden/pkg/auth"
	"github.com/go-playground/validator/v10"
)

var (
	otpCodePattern     = regexp.MustCompile(`^\d{6}$`)
	opaqueTokenPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{43}$`)
)

// Global validator instance (reused across all handlers)
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()

	// report fields by their JSON names
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	mustRegister(v, "otpmethod", func(fl validator.FieldLevel) bool {
		_, err := models.ParseOTPMethod(fl.Field().String())
		return err == nil
	})
	mustRegister(v, "otpcode", func(fl validator.FieldLevel) bool {
		return isValidOTPCodeFormat(fl.Field().String())
	})
	mustRegister(v, "opaquetoken", func(fl validator.FieldLevel) bool {
		return isValidOpaqueTokenFormat(fl.Field().String())
	})
	mustRegister(v, "password", func(fl validator.FieldLevel) bool {
		return pkgauth.ValidatePassword(fl.Field().String()) == nil
	})

	return v
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("register %s validator: %v", tag, err))
	}
}

func isValidOTPCodeFormat(code string) bool {
	return otpCodePattern.MatchString(code)
}

func isValidOpaqueTokenFormat(token string) bool {
	return len(token) == auth.OpaqueTokenLen && opaqueTokenPattern.MatchString(token)
}

// ValidateRequest validates a request struct and returns the first failing field as a *models.ValidationError
func ValidateRequest(req interface{}) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}

	var ve validator.ValidationErrors
	if errors.As(err, &ve) && len(ve) > 0 {
		return &models.ValidationError{
			Field:   ve[0].Field(),
			Message: formatValidationError(ve[0]),
		}
	}
	return &models.ValidationError{Field: "body", Message: err.Error()}
}

// formatValidationError converts a validator FieldError to a user-friendly message
func formatValidationError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "email":
		return "must be a valid email address"
	case "max":
		return fmt.Sprintf("must have a maximum of %s characters", fe.Param())
	case "otpmethod":
		return "must be one of: sms email"
	case "otpcode":
		return "must be a 6-digit code"
	case "opaquetoken":
		return "malformed token"
	case "password":
		// never say which rule failed
		return "does not meet the password policy"
	default:
		return fmt.Sprintf("failed validation: %s", fe.Tag())
	}
}
