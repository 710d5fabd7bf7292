package exchange

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Deribit JSON-RPC error codes that mean the bearer token was not accepted.
const (
	codeInvalidCredentials = 13004
	codeUnauthorized       = 13009
)

// ErrNoCredentials is returned when a private call needs a token but no
// client id/secret were configured.
var ErrNoCredentials = errors.New("no credentials configured")

// AuthError reports a failed authentication: a missing credential, a failed
// token exchange, or a private call still rejected after re-authenticating.
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err == nil {
		return "authentication failed: " + e.Reason
	}
	return fmt.Sprintf("authentication failed: %s: %v", e.Reason, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// APIError is the "error" object of a JSON-RPC response. HTTPStatus is the
// status line it arrived with.
type APIError struct {
	Code       int             `json:"code"`
	Message    string          `json:"message"`
	Data       json.RawMessage `json:"data,omitempty"`
	HTTPStatus int             `json:"-"`
}

func (e *APIError) Error() string {
	if len(e.Data) > 0 {
		return fmt.Sprintf("deribit error %d: %s (%s)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("deribit error %d: %s", e.Code, e.Message)
}

// StatusError is a non-2xx HTTP response whose body was not a JSON-RPC error.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http status %d: %s", e.StatusCode, e.Body)
}

// isUnauthorized reports whether err means the server rejected our token.
// A 401/403 status counts whatever the body says.
func isUnauthorized(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return rejectedStatus(se.StatusCode)
	}
	var ae *APIError
	if errors.As(err, &ae) {
		return rejectedStatus(ae.HTTPStatus) || ae.Code == codeUnauthorized || ae.Code == codeInvalidCredentials
	}
	return false
}

func rejectedStatus(status int) bool {
	return status == http.StatusUnauthorized || status == http.StatusForbidden
}
