package authmgr

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why a token could not be delivered.
type ErrorKind int

const (
	// ConfigurationInvalid means required settings are missing or invalid.
	// No network call was attempted.
	ConfigurationInvalid ErrorKind = iota + 1
	// AuthRejected means the auth server refused the grant. The stored
	// record has been cleared and the caller must re-authenticate.
	AuthRejected
	// NetworkFailure means no usable response was received. The stored
	// record was preserved; the next call starts a fresh acquisition.
	NetworkFailure
)

func (k ErrorKind) String() string {
	switch k {
	case ConfigurationInvalid:
		return "configuration invalid"
	case AuthRejected:
		return "auth rejected"
	case NetworkFailure:
		return "network failure"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

var (
	ErrConfigurationInvalid = errors.New("configuration invalid")
	ErrAuthRejected         = errors.New("auth rejected")
	ErrNetworkFailure       = errors.New("network failure")

	// ErrClosed is returned by operations submitted after Close.
	ErrClosed = errors.New("authmgr: manager closed")
)

// AuthError is the classified error returned by manager operations.
type AuthError struct {
	Kind ErrorKind

	// StatusCode, Code and Description are set for AuthRejected and carry
	// the server's response.
	StatusCode  int
	Code        string
	Description string

	Err error
}

func (e *AuthError) Error() string {
	switch {
	case e.Kind == AuthRejected && e.Description != "":
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Code, e.Description)
	case e.Kind == AuthRejected:
		return fmt.Sprintf("%s: %s", e.Kind, e.Code)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return e.Kind.String()
	}
}

func (e *AuthError) Unwrap() error { return e.Err }

// Is matches the kind sentinels so callers can use errors.Is(err, ErrAuthRejected).
func (e *AuthError) Is(target error) bool {
	switch target {
	case ErrConfigurationInvalid:
		return e.Kind == ConfigurationInvalid
	case ErrAuthRejected:
		return e.Kind == AuthRejected
	case ErrNetworkFailure:
		return e.Kind == NetworkFailure
	}
	return false
}

// KindOf returns the ErrorKind of err, or 0 when err is not an AuthError.
func KindOf(err error) ErrorKind {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr.Kind
	}
	return 0
}

func configurationError(err error) *AuthError {
	return &AuthError{Kind: ConfigurationInvalid, Err: err}
}
