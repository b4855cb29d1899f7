// Package catalog provides an HTTP client for the Alyx data-catalog REST API
// with token authentication, transparent re-authentication on authorization
// failure, and error classification.
package catalog

import (
	"errors"
	"fmt"
)

// Sentinel errors for classification. Use errors.Is(err, catalog.ErrNotFound).
var (
	ErrNotFound       = errors.New("catalog: not found")
	ErrRequest        = errors.New("catalog: request failed")
	ErrAuthentication = errors.New("catalog: authentication failed")
	ErrCircuitOpen    = errors.New("catalog: circuit open")
)

// Error wraps a sentinel with the HTTP status, the request target and the raw
// response body returned by the catalog.
type Error struct {
	StatusCode int
	Method     string
	URL        string
	Body       string
	Err        error // sentinel, for errors.Is()
}

func (e *Error) Error() string {
	return fmt.Sprintf("catalog: %s %s: HTTP %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

func (e *Error) Unwrap() error {
	return e.Err
}
