package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for errors.Is checks against the typed errors below
var (
	ErrInvalidInput  = errors.New("invalid input")
	ErrTransport     = errors.New("transport failure")
	ErrAuthExpired   = errors.New("authentication expired")
	ErrRemoteFailure = errors.New("remote failure")
	ErrNotFound      = errors.New("not found")

	// ErrUnauthenticated is returned when an action needs a signed-in actor and there is none.
	ErrUnauthenticated = errors.New("not authenticated")
	// ErrSaveAborted is returned when a manual save could not obtain a name.
	ErrSaveAborted = errors.New("save aborted: no name provided")
)

// InvalidInputError reports a request rejected before any network call
type InvalidInputError struct {
	Field  string
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *InvalidInputError) Is(target error) bool { return target == ErrInvalidInput }

// TransportError wraps a network-level failure
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport failure: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// AuthExpiredError reports a 401/403 from an authenticated call
type AuthExpiredError struct {
	Op         string
	StatusCode int
}

func (e *AuthExpiredError) Error() string {
	return fmt.Sprintf("%s: authentication expired (status %d)", e.Op, e.StatusCode)
}

func (e *AuthExpiredError) Is(target error) bool { return target == ErrAuthExpired }

// RemoteFailureError reports a non-success answer from a remote service.
// Detail carries the server-provided message when there is one.
type RemoteFailureError struct {
	Op         string
	StatusCode int
	Detail     string
}

func (e *RemoteFailureError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: remote failure (status %d)", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: remote failure (status %d): %s", e.Op, e.StatusCode, e.Detail)
}

func (e *RemoteFailureError) Is(target error) bool { return target == ErrRemoteFailure }

// NotFoundError reports that a remote resource (usually a session) vanished
type NotFoundError struct {
	Op       string
	Resource string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s: %s not found", e.Op, e.Resource)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// NewInvalidInput builds an InvalidInputError
func NewInvalidInput(field, reason string) error {
	return &InvalidInputError{Field: field, Reason: reason}
}

// IsAuthExpired reports whether err is, or wraps, an authentication expiry
func IsAuthExpired(err error) bool {
	return errors.Is(err, ErrAuthExpired)
}

// UserMessage extracts the text shown to the user for a failed remote call,
// falling back to the generic message when the server gave no detail.
func UserMessage(err error, fallback string) string {
	var remote *RemoteFailureError
	if errors.As(err, &remote) && remote.Detail != "" {
		return remote.Detail
	}
	return fallback
}
