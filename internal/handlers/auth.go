package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/BradenHooton/warden/internal/auth"
	"github.com/BradenHooton/warden/internal/models"
	"github.com/BradenHooton/warden/internal/services"
	pkghttp "github.com/BradenHooton/warden/pkg/http"
)

// AuthFlowService defines the orchestrator operations exposed over HTTP
type AuthFlowService interface {
	Login(ctx context.Context, email, password string, client models.ClientMetadata) (*services.LoginResult, error)
	SendOTP(ctx context.Context, session *models.UserSession, method models.OTPMethod) (*services.ChallengeReceipt, error)
	VerifyOTP(ctx context.Context, session *models.UserSession, code string) (*models.SessionProjection, error)
	RequestOTPStatusChange(ctx context.Context, session *models.UserSession, enable bool) (*services.StatusChangeReceipt, error)
	ConfirmOTPStatusChange(ctx context.Context, session *models.UserSession, token string) (*models.UserProjection, error)
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token, newPassword string) error
	Logout(ctx context.Context, session *models.UserSession) error
	LogoutAll(ctx context.Context, session *models.UserSession) (int64, error)
	CurrentSession(ctx context.Context, session *models.UserSession) (*services.SessionView, error)
}

// AuthHandler handles authentication-related HTTP requests
type AuthHandler struct {
	service      AuthFlowService
	ipConfig     *pkghttp.IPConfig
	cookieConfig auth.CookieConfig
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(service AuthFlowService, ipConfig *pkghttp.IPConfig, cookieConfig auth.CookieConfig) *AuthHandler {
	return &AuthHandler{
		service:      service,
		ipConfig:     ipConfig,
		cookieConfig: cookieConfig,
	}
}

// Request DTOs

// LoginRequest represents the request body for login
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=128"`
	Device   string `json:"device,omitempty" validate:"max=128"`
	Location string `json:"location,omitempty" validate:"max=128"`
}

// SendOTPRequest selects the delivery channel for a new challenge
type SendOTPRequest struct {
	Method string `json:"method" validate:"required,otpmethod"`
}

// VerifyOTPRequest carries the code the user received
type VerifyOTPRequest struct {
	Code string `json:"code" validate:"required,otpcode"`
}

// OTPStatusRequest asks to enable or disable OTP for the caller
type OTPStatusRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

// ConfirmTokenRequest carries a link token from an email
type ConfirmTokenRequest struct {
	Token string `json:"token" validate:"required,opaquetoken"`
}

// ForgotPasswordRequest represents the request body for forgot-password
type ForgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
}

// ResetPasswordRequest represents the request body for reset-password
type ResetPasswordRequest struct {
	Token       string `json:"token" validate:"required,opaquetoken"`
	NewPassword string `json:"new_password" validate:"required,password"`
}

// Response DTOs

// LoginResponse returns the session token once, alongside the projections
type LoginResponse struct {
	SessionToken string                    `json:"session_token"`
	Session      *models.SessionProjection `json:"session"`
	User         *models.UserProjection    `json:"user"`
}

// LogoutAllResponse reports how many sessions were revoked
type LogoutAllResponse struct {
	Revoked int64 `json:"revoked"`
}

// MessageResponse is a plain acknowledgement
type MessageResponse struct {
	Message string `json:"message"`
}

// decodeAndValidate reads a JSON body into req and runs field validators.
// It writes the error response and returns false on failure.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, req interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return false
	}
	if err := ValidateRequest(req); err != nil {
		writeFlowError(w, err)
		return false
	}
	return true
}

// Login handles user login
// @Summary User login
// @Accept json
// @Param request body LoginRequest true "Login request"
// @Produce json
// @Success 200 {object} LoginResponse
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Router /auth/login [post]
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	client := models.ClientMetadata{
		IPAddress: pkghttp.ExtractClientIP(r, h.ipConfig),
		UserAgent: r.Header.Get("User-Agent"),
		Device:    strings.TrimSpace(req.Device),
		Location:  strings.TrimSpace(req.Location),
	}

	result, err := h.service.Login(r.Context(), req.Email, req.Password, client)
	if err != nil {
		writeFlowError(w, err)
		return
	}

	auth.SetSessionCookie(w, result.Token, result.Session.ExpiresAt, h.cookieConfig)
	pkghttp.WriteJSON(w, http.StatusOK, LoginResponse{
		SessionToken: result.Token,
		Session:      result.Session,
		User:         result.User,
	})
}

// SendOTP issues a fresh OTP challenge for the caller's session
// @Router /auth/otp/send [post]
func (h *AuthHandler) SendOTP(w http.ResponseWriter, r *http.Request) {
	session := auth.GetSessionFromContext(r)
	if session == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	var req SendOTPRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	method, err := models.ParseOTPMethod(req.Method)
	if err != nil {
		writeFlowError(w, err)
		return
	}

	receipt, err := h.service.SendOTP(r.Context(), session, method)
	if err != nil {
		writeFlowError(w, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusAccepted, receipt)
}

// VerifyOTP checks the submitted code and promotes the session
// @Router /auth/otp/verify [post]
func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	session := auth.GetSessionFromContext(r)
	if session == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	var req VerifyOTPRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	projection, err := h.service.VerifyOTP(r.Context(), session, req.Code)
	if err != nil {
		writeFlowError(w, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, projection)
}

// RequestOTPStatusChange emails a confirmation link for enabling or disabling OTP
// @Router /auth/otp/status [post]
func (h *AuthHandler) RequestOTPStatusChange(w http.ResponseWriter, r *http.Request) {
	session := auth.GetSessionFromContext(r)
	if session == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	var req OTPStatusRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	receipt, err := h.service.RequestOTPStatusChange(r.Context(), session, *req.Enabled)
	if err != nil {
		writeFlowError(w, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusAccepted, receipt)
}

// ConfirmOTPStatusChange applies a pending status change from its link token
// @Router /auth/otp/status/confirm [post]
func (h *AuthHandler) ConfirmOTPStatusChange(w http.ResponseWriter, r *http.Request) {
	session := auth.GetSessionFromContext(r)
	if session == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	var req ConfirmTokenRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	user, err := h.service.ConfirmOTPStatusChange(r.Context(), session, req.Token)
	if err != nil {
		writeFlowError(w, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, user)
}

// ForgotPassword always answers 202 for well-formed requests so account existence is not revealed
// @Router /auth/password/forgot [post]
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req ForgotPasswordRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if err := h.service.ForgotPassword(r.Context(), req.Email); err != nil {
		writeFlowError(w, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusAccepted, MessageResponse{
		Message: "If the email is registered, a reset link has been sent.",
	})
}

// ResetPassword sets a new password from a reset token and revokes every session of the user
// @Router /auth/password/reset [post]
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if err := h.service.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		writeFlowError(w, err)
		return
	}

	auth.ClearSessionCookie(w, h.cookieConfig)
	w.WriteHeader(http.StatusNoContent)
}

// Logout revokes the caller's session
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	session := auth.GetSessionFromContext(r)
	if session == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	if err := h.service.Logout(r.Context(), session); err != nil {
		writeFlowError(w, err)
		return
	}

	auth.ClearSessionCookie(w, h.cookieConfig)
	w.WriteHeader(http.StatusNoContent)
}

// LogoutAll revokes every session of the caller's user
// @Router /auth/logout-all [post]
func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	session := auth.GetSessionFromContext(r)
	if session == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	revoked, err := h.service.LogoutAll(r.Context(), session)
	if err != nil {
		writeFlowError(w, err)
		return
	}

	auth.ClearSessionCookie(w, h.cookieConfig)
	pkghttp.WriteJSON(w, http.StatusOK, LogoutAllResponse{Revoked: revoked})
}

// CurrentSession returns the caller's session and user
// @Router /auth/session [get]
func (h *AuthHandler) CurrentSession(w http.ResponseWriter, r *http.Request) {
	session := auth.GetSessionFromContext(r)
	if session == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	view, err := h.service.CurrentSession(r.Context(), session)
	if err != nil {
		writeFlowError(w, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, view)
}

// writeFlowError maps orchestrator errors to HTTP responses
func writeFlowError(w http.ResponseWriter, err error) {
	var ve *models.ValidationError
	if errors.As(err, &ve) {
		pkghttp.WriteValidationError(w, ve.Field, ve.Message)
		return
	}

	switch {
	case errors.Is(err, models.ErrInvalidCredentials):
		pkghttp.WriteError(w, http.StatusUnauthorized, "invalid_credentials", "Authentication failed")
	case errors.Is(err, models.ErrSessionNotFound):
		pkghttp.WriteUnauthorized(w, "unauthorized")
	case errors.Is(err, models.ErrSessionExpired):
		pkghttp.WriteError(w, http.StatusUnauthorized, "session_expired", "Session expired")
	case errors.Is(err, models.ErrSessionRequiresOTP):
		pkghttp.WriteForbidden(w, "otp_required", "OTP verification required")
	case errors.Is(err, models.ErrSessionNotAwaitingOTP):
		pkghttp.WriteConflict(w, "session_not_awaiting_otp", "Session is not awaiting OTP")
	// wraps the token errors below, so it must be checked first
	case errors.Is(err, models.ErrInvalidOrExpiredOTP):
		pkghttp.WriteError(w, http.StatusUnauthorized, "invalid_otp", "Invalid or expired code")
	case errors.Is(err, models.ErrUnsupportedOTPMethod):
		pkghttp.WriteValidationError(w, "method", "must be one of: sms email")
	case errors.Is(err, models.ErrOTPDestinationMissing):
		pkghttp.WriteError(w, http.StatusUnprocessableEntity, "otp_destination_missing", "No destination on file for this method")
	case errors.Is(err, models.ErrTokenExpired):
		pkghttp.WriteError(w, http.StatusBadRequest, "token_expired", "Token expired")
	case errors.Is(err, models.ErrTokenAlreadyConsumed):
		pkghttp.WriteError(w, http.StatusBadRequest, "token_consumed", "Token already used")
	case errors.Is(err, models.ErrTokenNotFound),
		errors.Is(err, models.ErrTokenPurposeMismatch):
		pkghttp.WriteError(w, http.StatusBadRequest, "invalid_token", "Invalid token")
	case errors.Is(err, models.ErrRateLimitExceeded):
		pkghttp.WriteTooManyRequests(w, "Too many requests. Please try again later.")
	case errors.Is(err, models.ErrDeliveryFailed):
		pkghttp.WriteBadGateway(w, "delivery_failed", "Could not deliver message. Please retry.")
	case errors.Is(err, models.ErrConflict):
		pkghttp.WriteConflict(w, "no_change", "Requested status is already in effect")
	default:
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}
