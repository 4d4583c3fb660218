package errors

import (
	"errors"
	"fmt"
)

// Error classes shared across the session, quota and cache layers
var (
	// Input and stored-data errors
	ErrValidation = errors.New("validation failed")

	// Authentication errors
	ErrProviderAuth      = errors.New("provider authentication failed")
	ErrRefresh           = errors.New("access token refresh failed")
	ErrInsufficientScope = errors.New("insufficient provider scope")

	// Session errors
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionPending  = errors.New("session creation pending")

	// Quota and downstream errors
	ErrQuotaExceeded  = errors.New("quota exceeded")
	ErrDownstreamItem = errors.New("downstream item failed")

	// Infrastructure errors
	ErrStore = errors.New("store failure")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Classify wraps err so that errors.Is(result, class) holds while the cause stays inspectable.
func Classify(class, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", class, err)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}
