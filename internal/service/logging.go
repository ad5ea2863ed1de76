package service

import (
	"context"

	"chatwootbridge/internal/privacy"

	"github.com/sirupsen/logrus"
)

// ContextKey is a package-local type to prevent context key collisions
type ContextKey string

// VerboseContextKey marks a context whose logs may carry unmasked identifiers
const VerboseContextKey ContextKey = "verbose"

// Standard field names
const (
	LogFieldSession        = "session"
	LogFieldEventID        = "event_id"
	LogFieldEventKind      = "event_kind"
	LogFieldChatID         = "chat_id"
	LogFieldPhone          = "phone_number"
	LogFieldContactID      = "contact_id"
	LogFieldConversationID = "conversation_id"
	LogFieldMessageType    = "message_type"
	LogFieldFileName       = "file_name"
	LogFieldDuration       = "duration_ms"
	LogFieldStage          = "stage"
)

// Severity prefixes of user-facing log lines
const (
	prefixInfo    = "ℹ️ "
	prefixSuccess = "✅ "
	prefixFailure = "❌ "
)

// WithVerbose returns a context that enables unmasked logging
func WithVerbose(ctx context.Context, verbose bool) context.Context {
	return context.WithValue(ctx, VerboseContextKey, verbose)
}

// IsVerboseLogging checks if verbose logging is enabled from context
func IsVerboseLogging(ctx context.Context) bool {
	if verbose, ok := ctx.Value(VerboseContextKey).(bool); ok {
		return verbose
	}
	return false
}

func phoneForLog(ctx context.Context, phone string) string {
	if IsVerboseLogging(ctx) {
		return phone
	}
	return privacy.MaskPhoneNumber(phone)
}

func chatForLog(ctx context.Context, chatID string) string {
	if IsVerboseLogging(ctx) {
		return chatID
	}
	return privacy.MaskChatID(chatID)
}

func sessionEntry(logger *logrus.Logger, session string) *logrus.Entry {
	return logger.WithField(LogFieldSession, session)
}
