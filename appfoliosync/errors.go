package appfoliosync

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

var (
	ErrNotConnected = errors.New("appfolio connection is not configured")

	// errBudgetExhausted is an internal signal: the rolling rate budget hit
	// zero mid-run. The orchestrator stops early and lets the next scheduled
	// run pick up the remainder; it is never surfaced as a run failure.
	errBudgetExhausted = errors.New("rate limit budget exhausted")
)

// APIError is a non-2xx response from the external API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("appfolio api error %d: %s", e.StatusCode, e.Body)
}

// Transient reports whether the status is worth retrying: rate-limit
// responses and server errors are, other 4xx are not.
func (e *APIError) Transient() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// PermanentError marks a failure the orchestrator must not retry within the
// same run: a non-retryable API response, or transient retries exhausted.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

func permanent(err error) error {
	return &PermanentError{Err: err}
}

func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// isTransient classifies an attempt error. Context cancellation is never
// transient; it must propagate so run timeouts abort cleanly.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Transient()
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	// Connection resets and DNS hiccups arrive as plain url.Error wraps.
	return true
}
