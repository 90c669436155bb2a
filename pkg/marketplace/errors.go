package marketplace

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// TransientError is an upstream failure that may succeed on retry: timeouts,
// network errors, 5xx and 429 responses.
type TransientError struct {
	StatusCode int
	RetryAfter time.Duration
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transient marketplace error: status=%d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transient marketplace error: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Throttled reports whether the request was rejected before being processed
func (e *TransientError) Throttled() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// APIError is a permanent rejection by the marketplace
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("marketplace api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
}

// IsTransient reports whether err wraps a TransientError
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsNotFound reports whether err is a 404 from the marketplace
func IsNotFound(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.StatusCode == http.StatusNotFound
}

func asTransient(err error) (*TransientError, bool) {
	var te *TransientError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}
