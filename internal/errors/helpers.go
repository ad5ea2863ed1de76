package errors

import (
	"fmt"
	"net/http"
)

const maxBodyInError = 512

// NewRemoteError classifies a non-2xx response from the support inbox API.
func NewRemoteError(endpoint string, statusCode int, body []byte) *AppError {
	var code ErrorCode
	switch statusCode {
	case http.StatusUnauthorized:
		code = ErrCodeRemoteUnauthorized
	case http.StatusNotFound:
		code = ErrCodeRemoteNotFound
	default:
		code = ErrCodeRemoteAPI
	}

	appErr := New(code, fmt.Sprintf("remote API returned status %d", statusCode)).
		WithContext("endpoint", endpoint).
		WithContext("status_code", statusCode)
	appErr.StatusCode = statusCode
	appErr.Body = truncate(string(body), maxBodyInError)
	appErr.Retryable = statusCode >= 500 || statusCode == http.StatusTooManyRequests || statusCode == http.StatusRequestTimeout

	return appErr
}

// NewNetworkError marks a request that was sent but produced no response.
func NewNetworkError(endpoint string, err error) *AppError {
	appErr := Wrap(err, ErrCodeNetworkUnreachable, "remote API unreachable").
		WithContext("endpoint", endpoint)
	appErr.Retryable = true
	return appErr
}

// NewRuntimeError classifies a failed call to the session runtime.
func NewRuntimeError(endpoint string, statusCode int, body []byte) *AppError {
	appErr := New(ErrCodeRuntimeAPI, fmt.Sprintf("session runtime returned status %d", statusCode)).
		WithContext("endpoint", endpoint).
		WithContext("status_code", statusCode)
	appErr.StatusCode = statusCode
	appErr.Body = truncate(string(body), maxBodyInError)
	return appErr
}

// NewMalformedInputError reports an event field with an unexpected shape.
func NewMalformedInputError(field, message string) *AppError {
	return New(ErrCodeMalformedInput, message).
		WithContext("field", field)
}

// NewConfigError creates a configuration error
func NewConfigError(key, message string) *AppError {
	return New(ErrCodeInvalidConfig, message).
		WithContext("config_key", key)
}

// NewMediaError creates a media processing error
func NewMediaError(operation, mimeType string, err error) *AppError {
	return Wrap(err, ErrCodeMedia, fmt.Sprintf("media %s failed", operation)).
		WithContext("operation", operation).
		WithContext("mimetype", mimeType)
}

// NewDatabaseError creates a database error with operation context
func NewDatabaseError(operation string, err error) *AppError {
	return Wrap(err, ErrCodeDatabaseQuery, fmt.Sprintf("database %s failed", operation)).
		WithContext("operation", operation)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
