package retrieval

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/multierr"
)

var (
	// ErrNoCredential is returned before any network I/O when no token is available.
	ErrNoCredential = errors.New("No authentication token")
	// ErrUnauthorized marks 401/403 responses from the backend.
	ErrUnauthorized = errors.New("authentication rejected")
	// ErrUnexpectedShape marks payloads that do not match the expected JSON structure.
	ErrUnexpectedShape = errors.New("unexpected response shape")
	// ErrCacheMiss is the cache tier's failure when nothing valid is stored.
	ErrCacheMiss = errors.New("no valid cache entry")
)

// HTTPError carries a non-2xx status.
type HTTPError struct {
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d", e.StatusCode)
}

func (e *HTTPError) Unwrap() error {
	if e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden {
		return ErrUnauthorized
	}
	return nil
}

// retryableStatus lists the statuses worth another attempt.
func retryableStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// ExhaustedError is returned when every tier failed. It unwraps to each tier's error.
type ExhaustedError struct {
	err error
}

func newExhaustedError(errs ...error) *ExhaustedError {
	return &ExhaustedError{err: multierr.Combine(errs...)}
}

func (e *ExhaustedError) Error() string {
	msgs := make([]string, 0, 3)
	for _, err := range multierr.Errors(e.err) {
		msgs = append(msgs, err.Error())
	}
	return "all data sources failed: " + strings.Join(msgs, "; ")
}

func (e *ExhaustedError) Unwrap() []error {
	return multierr.Errors(e.err)
}

// Messages returns one string per failed tier.
func (e *ExhaustedError) Messages() []string {
	errs := multierr.Errors(e.err)
	out := make([]string, len(errs))
	for i, err := range errs {
		out[i] = err.Error()
	}
	return out
}

// tierError prefixes a tier failure with the tier name.
type tierError struct {
	tier Tier
	err  error
}

func (e *tierError) Error() string { return string(e.tier) + ": " + e.err.Error() }
func (e *tierError) Unwrap() error { return e.err }
