package provider

import (
	"errors"
	"fmt"
)

// CredentialError marks a caller-input problem (bad or missing credential).
// The fetch engine converts these into "unavailable" placeholders instead of
// surfacing them as pipeline failures.
type CredentialError struct {
	msg        string
	statusCode int
}

func (e *CredentialError) Error() string {
	if e == nil {
		return ""
	}
	return e.msg
}

// NewCredentialError constructs a caller-input error.
func NewCredentialError(format string, args ...any) error {
	return &CredentialError{msg: fmt.Sprintf(format, args...)}
}

// NewCredentialStatusError constructs a caller-input error carrying the
// upstream HTTP status that rejected the credential.
func NewCredentialStatusError(status int, format string, args ...any) error {
	return &CredentialError{msg: fmt.Sprintf(format, args...), statusCode: status}
}

// IsCredentialError reports whether err is a caller-input credential error.
func IsCredentialError(err error) bool {
	var ce *CredentialError
	return errors.As(err, &ce)
}

// RequestError is a transient backend failure from a provider API.
type RequestError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *RequestError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider %s: status=%d", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("provider %s: request failed", e.Provider)
}

func (e *RequestError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// StatusCodeOf extracts the HTTP status carried by err, or 0.
func StatusCodeOf(err error) int {
	var re *RequestError
	if errors.As(err, &re) {
		return re.StatusCode
	}
	var ce *CredentialError
	if errors.As(err, &ce) {
		return ce.statusCode
	}
	return 0
}
