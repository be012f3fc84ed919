package shared

import (
	"errors"
	"fmt"
)

var (
	ErrNotImplemented = fmt.Errorf("not implemented")

	// Configuration errors
	ErrMissingConfig      = fmt.Errorf("configuration not found")
	ErrInvalidConfig      = fmt.Errorf("invalid configuration")
	ErrMissingCredentials = fmt.Errorf("missing credentials")

	// Authentication errors
	ErrAuthFailed       = fmt.Errorf("authentication failed")
	ErrNotAuthenticated = fmt.Errorf("not authenticated")
	ErrSessionNotFound  = fmt.Errorf("session not found")
	ErrRefreshFailed    = fmt.Errorf("token refresh failed")
	ErrNoRefreshToken   = fmt.Errorf("no refresh token available")
	ErrTimeout          = fmt.Errorf("operation timed out")
	ErrCancelled        = fmt.Errorf("cancelled by user")

	// Transport errors
	ErrTransportFailure   = fmt.Errorf("transport failure")
	ErrDecodeFailure      = fmt.Errorf("malformed response body")
	ErrAPIRequest         = fmt.Errorf("API request failed")
	ErrServiceUnavailable = fmt.Errorf("service unavailable")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
)

// UnsupportedStatusError reports an HTTP status outside the set the API client knows how to handle.
type UnsupportedStatusError struct {
	Code int
}

func (e *UnsupportedStatusError) Error() string {
	return fmt.Sprintf("unsupported status code %d", e.Code)
}

func (e *UnsupportedStatusError) Unwrap() error { return ErrAPIRequest }

// RegularError is the platform's structured error body: {"error": {"status": 404, "message": "..."}}
type RegularError struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

func (e *RegularError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

func (e *RegularError) Unwrap() error { return ErrAPIRequest }

// AuthenticationError is an OAuth error reported by the token exchange relay (e.g. invalid_grant).
type AuthenticationError struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

func (e *AuthenticationError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Description)
	}
	return e.Code
}

func (e *AuthenticationError) Unwrap() error { return ErrAuthFailed }

// IsAuthenticationError reports whether err carries a relay-reported OAuth error.
func IsAuthenticationError(err error) bool {
	var authErr *AuthenticationError
	return errors.As(err, &authErr)
}
