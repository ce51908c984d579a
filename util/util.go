package util

import (
	"context"
	"fmt"
	"time"
)

func SleepCtx(ctx context.Context, delay time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(delay):
		return true
	}
}

// Returned when the marker cache rejects the shared secret.
type WrongCredentialsError struct {
	Msg string
}

func (e *WrongCredentialsError) Error() string {
	return e.Msg
}

// Invalid construction parameters. Never recovered from.
type ConfigurationError struct {
	Field string
	Msg   string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Msg)
}

func Invalid(field string, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Field: field, Msg: fmt.Sprintf(format, args...)}
}
