package logger

import (
	"context"
	"log/slog"
	"time"
)

// Audit event types
const (
	EventLogin              = "login"
	EventOTPSent            = "otp_sent"
	EventOTPVerify          = "otp_verify"
	EventOTPStatusRequested = "otp_status_change_requested"
	EventOTPStatusChanged   = "otp_status_changed"
	EventPasswordForgot     = "password_reset_requested"
	EventPasswordReset      = "password_reset"
	EventLogout             = "logout"
	EventLogoutAll          = "logout_all"
	EventCleanup            = "cleanup"
)

// AuditEvent represents a security audit event
type AuditEvent struct {
	EventType     string
	UserID        string
	SessionID     string
	IPAddress     string
	UserAgent     string
	Success       bool
	FailureReason string
	Metadata      map[string]string
}

// AuditLogger provides audit logging functionality
type AuditLogger struct {
	logger *slog.Logger
	clock  func() time.Time
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{
		logger: logger,
		clock:  time.Now,
	}
}

// Log records an audit event. Failures are logged at warn level.
func (al *AuditLogger) Log(ctx context.Context, event AuditEvent) {
	attrs := []slog.Attr{
		slog.String("audit_type", "auth"),
		slog.String("event_type", event.EventType),
		slog.Bool("success", event.Success),
		slog.String("timestamp", al.clock().UTC().Format(time.RFC3339)),
	}

	if event.UserID != "" {
		attrs = append(attrs, slog.String("user_id", event.UserID))
	}
	if event.SessionID != "" {
		attrs = append(attrs, slog.String("session_id", event.SessionID))
	}
	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.IPAddress))
	}
	if event.UserAgent != "" {
		attrs = append(attrs, slog.String("user_agent", event.UserAgent))
	}
	if event.FailureReason != "" {
		attrs = append(attrs, slog.String("failure_reason", event.FailureReason))
	}
	for key, val := range event.Metadata {
		attrs = append(attrs, slog.String(key, val))
	}

	level := slog.LevelInfo
	if !event.Success {
		level = slog.LevelWarn
	}
	al.logger.LogAttrs(ctx, level, "audit", attrs...)
}

// LogSessionEvent is shorthand for events tied to a session
func (al *AuditLogger) LogSessionEvent(ctx context.Context, eventType, userID, sessionID string, err error) {
	event := AuditEvent{
		EventType: eventType,
		UserID:    userID,
		SessionID: sessionID,
		Success:   err == nil,
	}
	if err != nil {
		event.FailureReason = err.Error()
	}
	al.Log(ctx, event)
}
