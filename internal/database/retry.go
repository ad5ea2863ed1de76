package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"chatwootbridge/internal/constants"
	"chatwootbridge/internal/retry"
)

var dbBackoff = retry.NewBackoff(retry.BackoffConfig{
	InitialDelay: time.Duration(constants.DefaultDatabaseRetryBackoffMs) * time.Millisecond,
	MaxDelay:     time.Duration(constants.DefaultDatabaseRetryBackoffMs*4) * time.Millisecond,
	Multiplier:   2,
	MaxAttempts:  constants.DefaultDatabaseRetryAttempts,
})

// retryableDBOperation retries operation while SQLite reports a transient failure
func retryableDBOperation(ctx context.Context, operation func() error, operationName string) error {
	err := dbBackoff.RetryIf(ctx, operation, isRetryableDBError)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if !isRetryableDBError(err) {
		return fmt.Errorf("%s failed (non-retryable): %w", operationName, err)
	}
	return fmt.Errorf("%s failed after %d attempts: %w", operationName, constants.DefaultDatabaseRetryAttempts, err)
}

// isRetryableDBError determines if a database error is worth retrying
func isRetryableDBError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	errStr := err.Error()

	// Lock contention and disk I/O errors are usually transient
	if strings.Contains(errStr, "database is locked") || strings.Contains(errStr, "database table is locked") {
		return true
	}
	if strings.Contains(errStr, "disk I/O error") {
		return true
	}

	return false
}
