package errors

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by the staff and patient session layers
var (
	// User input errors, surfaced verbatim and never retried
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidOTP         = errors.New("invalid or expired one-time passcode")
	ErrRateLimited        = errors.New("too many requests")

	// Session errors
	ErrUnauthorized     = errors.New("unauthorized")
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrSessionExpired   = errors.New("session expired")

	// Transport errors
	ErrTransientNetwork  = errors.New("transient network failure")
	ErrUnexpectedStatus  = errors.New("unexpected response status")
	ErrMalformedResponse = errors.New("malformed response")

	// Storage errors
	ErrStoreUnavailable = errors.New("credential store unavailable")
	ErrSealed           = errors.New("sealed record could not be opened")
)

// Mark tags err with kind. errors.Is matches kind and anything in err's own
// chain, and the message reads "kind: err".
func Mark(err, kind error) error {
	if err == nil {
		return nil
	}
	return &markedError{cause: err, kind: kind}
}

type markedError struct {
	cause error
	kind  error
}

func (e *markedError) Error() string {
	return fmt.Sprintf("%s: %s", e.kind, e.cause)
}

func (e *markedError) Unwrap() []error {
	return []error{e.kind, e.cause}
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
