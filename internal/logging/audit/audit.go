package audit

import (
	"github.com/rs/zerolog"
)

// Logger provides structured audit logging for security-relevant events.
// All audit events are logged with structured fields for easy filtering and analysis.
type Logger struct {
	logger zerolog.Logger
}

// NewLogger creates a new audit logger from a zerolog.Logger.
func NewLogger(logger zerolog.Logger) *Logger {
	return &Logger{logger: logger}
}

// LogAuth logs an authentication event.
// userID: the user attempting authentication (may be empty for failed attempts)
// method: authentication method (e.g., "password", "session", "share_token")
// result: "allowed" or "denied"
// details: additional context (e.g., error message)
// sourceIP: source IP address of the request
func (l *Logger) LogAuth(userID, method, result, details, sourceIP string) {
	level := zerolog.InfoLevel
	if result == "denied" {
		level = zerolog.WarnLevel
	}

	l.logger.WithLevel(level).
		Str("event_type", "auth").
		Str("user_id", userID).
		Str("method", method).
		Str("result", result).
		Str("details", details).
		Str("source_ip", sourceIP).
		Msg("Authentication event")
}

// LogFileOp logs a file operation event.
// userID: the user performing the operation (empty for share-link access)
// operation: operation name (e.g., "initUpload", "download", "deleteFile", "shareLink")
// fileID: file identifier
// fileName: declared file name (may be empty when the file was not found)
// result: "allowed" or "denied"
// details: additional context (e.g., error message)
// sourceIP: source IP address of the request
func (l *Logger) LogFileOp(userID, operation, fileID, fileName, result, details, sourceIP string) {
	level := zerolog.InfoLevel
	if result == "denied" {
		level = zerolog.WarnLevel
	}

	event := l.logger.WithLevel(level).
		Str("event_type", "file_operation").
		Str("user_id", userID).
		Str("operation", operation).
		Str("file_id", fileID).
		Str("result", result).
		Str("source_ip", sourceIP)

	if fileName != "" {
		event = event.Str("file_name", fileName)
	}
	if details != "" {
		event = event.Str("details", details)
	}

	event.Msg("File operation")
}

// LogUserMgmt logs a user management event.
// adminID: the admin performing the action
// action: action performed (e.g., "create_user", "delete_user", "set_allocation")
// targetUserID: the user being managed
// details: additional context
func (l *Logger) LogUserMgmt(adminID, action, targetUserID, details string) {
	l.logger.Info().
		Str("event_type", "user_management").
		Str("admin_id", adminID).
		Str("action", action).
		Str("target_user_id", targetUserID).
		Str("details", details).
		Msg("User management event")
}

// LogQuota logs a quota decision for an upload reservation.
// userID: the user requesting space
// requestedBytes: declared upload size in bytes
// result: "allowed" or "denied"
// details: additional context (e.g., remaining capacity)
func (l *Logger) LogQuota(userID string, requestedBytes int64, result, details string) {
	level := zerolog.InfoLevel
	if result == "denied" {
		level = zerolog.WarnLevel
	}

	event := l.logger.WithLevel(level).
		Str("event_type", "quota").
		Str("user_id", userID).
		Int64("requested_bytes", requestedBytes).
		Str("result", result)

	if details != "" {
		event = event.Str("details", details)
	}

	event.Msg("Quota decision")
}
