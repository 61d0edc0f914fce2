package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("resource not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrInvalidInput = errors.New("invalid input")
	ErrConflict     = errors.New("resource conflict")
)

// Authentication failures. All of them surface as 401 with generic wording.
var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidToken       = errors.New("invalid token")
	ErrTokenExpired       = errors.New("token expired")
	ErrTokenMalformed     = errors.New("token malformed")
	ErrInvalidSignature   = errors.New("token signature invalid")
)

var (
	// ErrInvalidResetToken is returned when a password reset token is unknown or expired.
	ErrInvalidResetToken = errors.New("invalid or expired reset token")

	// ErrStateMismatch marks a CSRF state validation failure on an OAuth callback.
	ErrStateMismatch = errors.New("oauth state mismatch")
)

// ValidationError represents a field-level validation failure.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// ProviderError wraps a failure talking to an upstream OAuth provider.
// Its message is for logs only and is never sent to clients.
type ProviderError struct {
	Provider AuthProvider
	Op       string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}
