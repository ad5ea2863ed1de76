package errors

import (
	"chatwootbridge/internal/privacy"

	"github.com/sirupsen/logrus"
)

// Fields returns the structured log fields carried by err.
func Fields(err error) logrus.Fields {
	fields := logrus.Fields{}
	appErr, ok := As(err)
	if !ok {
		return fields
	}

	fields["error_code"] = appErr.Code
	fields["retryable"] = appErr.Retryable
	if appErr.StatusCode != 0 {
		fields["status_code"] = appErr.StatusCode
	}
	if appErr.Body != "" {
		fields["remote_body"] = appErr.Body
	}
	for k, v := range privacy.MaskSensitiveFields(appErr.Context) {
		if _, exists := fields[k]; !exists {
			fields[k] = v
		}
	}
	return fields
}

// WithError returns an entry carrying err and its AppError context
func WithError(entry *logrus.Entry, err error) *logrus.Entry {
	return entry.WithError(err).WithFields(Fields(err))
}

// LogError logs an error with structured context
func LogError(entry *logrus.Entry, err error, message string, fields ...logrus.Fields) {
	e := WithError(entry, err)
	for _, field := range fields {
		e = e.WithFields(field)
	}
	e.Error(message)
}
