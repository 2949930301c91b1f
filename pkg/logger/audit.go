package logger

import (
	"context"
	"log/slog"
	"time"
)

// SecurityEvent represents a security-relevant action worth a structured log line
type SecurityEvent struct {
	EventType string
	AccountID string
	Actor     string
	IPAddress string
	Success   bool
	Reason    string
	Metadata  map[string]string
}

// SecurityLogger mirrors persisted audit entries into the structured log stream
// so lockout activity is visible without a database query
type SecurityLogger struct {
	logger *slog.Logger
}

// NewSecurityLogger creates a new security logger
func NewSecurityLogger(logger *slog.Logger) *SecurityLogger {
	return &SecurityLogger{
		logger: logger,
	}
}

// LogLockout logs an account entering the locked state
func (sl *SecurityLogger) LogLockout(accountID, reason, ipAddress string, metadata map[string]string) {
	attrs := []slog.Attr{
		slog.String("audit_type", "lockout"),
		slog.String("event_type", "account_locked"),
		slog.String("account_id", accountID),
		slog.String("reason", reason),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}

	if ipAddress != "" {
		attrs = append(attrs, slog.String("ip_address", ipAddress))
	}
	for key, val := range metadata {
		attrs = append(attrs, slog.String(key, val))
	}

	sl.logger.LogAttrs(context.Background(), slog.LevelWarn, "audit", attrs...)
}

// LogAdminAction logs unlock and policy operations performed by an administrator
func (sl *SecurityLogger) LogAdminAction(event SecurityEvent) {
	attrs := []slog.Attr{
		slog.String("audit_type", "admin"),
		slog.String("event_type", event.EventType),
		slog.String("actor", event.Actor),
		slog.Bool("success", event.Success),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}

	if event.AccountID != "" {
		attrs = append(attrs, slog.String("account_id", event.AccountID))
	}
	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.IPAddress))
	}
	if event.Reason != "" {
		attrs = append(attrs, slog.String("reason", event.Reason))
	}
	for key, val := range event.Metadata {
		attrs = append(attrs, slog.String(key, val))
	}

	if event.Success {
		sl.logger.LogAttrs(context.Background(), slog.LevelInfo, "audit", attrs...)
	} else {
		sl.logger.LogAttrs(context.Background(), slog.LevelWarn, "audit", attrs...)
	}
}
