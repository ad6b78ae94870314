package clients

import (
	"errors"
	"fmt"
)

// ErrNoRoute the provider has no route or no liquidity for the pair.
// The swap router falls through to the next layer immediately.
var ErrNoRoute = errors.New("no route for pair")

// ErrRateLimited the provider returned 429. Worth a backoff-and-retry on
// the same layer before falling through.
var ErrRateLimited = errors.New("provider rate limited")

// APIError non-2xx response from a provider.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error (status %d): %s", e.Provider, e.StatusCode, e.Body)
}

// Retryable reports whether the failure is transient (5xx).
func (e *APIError) Retryable() bool {
	return e.StatusCode >= 500
}
