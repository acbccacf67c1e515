package errors

import (
	"errors"
	"fmt"
)

// Common error types for the session client core
var (
	// Authentication errors
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrSessionExpired     = errors.New("session expired")
	ErrNoActiveSession    = errors.New("no active session")

	// Token errors
	ErrNoRefreshToken = errors.New("no refresh token available")
	ErrRefreshFailed  = errors.New("token refresh failed")

	// Store errors
	ErrStoreNotReady = errors.New("credential store not restored yet")
	ErrInvariant     = errors.New("invariant violation: both identity domains populated")

	// Flow errors
	ErrFlowAbandoned = errors.New("login flow abandoned")
	ErrWrongStep     = errors.New("input does not match the current login step")
	ErrPINTooShort   = errors.New("PIN must be at least 4 characters")

	// General errors
	ErrNotFound = errors.New("not found")
	ErrInternal = errors.New("internal error")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
