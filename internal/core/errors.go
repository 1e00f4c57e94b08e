package core

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrCircuitOpen is returned by an adapter when its breaker rejects the
// call. The router treats it as a skip signal, never as a user-visible
// failure.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// ProviderError is a non-2xx answer from an upstream that is neither a
// rate limit nor an availability problem.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
	Body       string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %s (status %d)", e.Provider, e.Message, e.StatusCode)
}

// ProviderUnavailableError marks 5xx answers and transport failures.
type ProviderUnavailableError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *ProviderUnavailableError) Error() string {
	return fmt.Sprintf("provider %s unavailable: %s", e.Provider, e.Message)
}

// ProviderRateLimitError marks a 429 from an upstream. RetryAfter carries
// the upstream's Retry-After header verbatim when present.
type ProviderRateLimitError struct {
	Provider   string
	RetryAfter string
}

func (e *ProviderRateLimitError) Error() string {
	return fmt.Sprintf("provider %s rate limited", e.Provider)
}

// NoProviderError means no fallback chain and no registry entry could
// serve the requested model. Surfaced as 404.
type NoProviderError struct {
	Model string
}

func (e *NoProviderError) Error() string {
	return fmt.Sprintf("no provider configured for model %q", e.Model)
}

// ProviderFailure pairs a provider name with the error it produced.
type ProviderFailure struct {
	Provider string
	Err      error
}

// AllProvidersFailedError means the router exhausted the fallback chain.
// Failures is empty when every provider in the chain was skipped because
// its breaker was open. Surfaced as 503.
type AllProvidersFailedError struct {
	Failures []ProviderFailure
}

func (e *AllProvidersFailedError) Error() string {
	return fmt.Sprintf("all providers failed: %v", e.ProviderNames())
}

// RateLimited reports whether every failure in the chain was an upstream
// rate limit, returning the first such error. A fully rate-limited chain
// is surfaced as 429 rather than 503.
func (e *AllProvidersFailedError) RateLimited() (*ProviderRateLimitError, bool) {
	if len(e.Failures) == 0 {
		return nil, false
	}
	var first *ProviderRateLimitError
	for _, f := range e.Failures {
		var rl *ProviderRateLimitError
		if !errors.As(f.Err, &rl) {
			return nil, false
		}
		if first == nil {
			first = rl
		}
	}
	return first, true
}

// ProviderNames lists the providers that failed, in attempt order.
func (e *AllProvidersFailedError) ProviderNames() []string {
	names := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		names = append(names, f.Provider)
	}
	return names
}

// ParseProviderError classifies an upstream HTTP status into the error
// taxonomy: 429 → rate limit, 5xx → unavailable, anything else → provider
// error with the response body attached.
func ParseProviderError(provider string, statusCode int, body []byte, retryAfter string) error {
	switch {
	case statusCode == http.StatusTooManyRequests:
		return &ProviderRateLimitError{Provider: provider, RetryAfter: retryAfter}
	case statusCode >= 500:
		return &ProviderUnavailableError{
			Provider:   provider,
			StatusCode: statusCode,
			Message:    fmt.Sprintf("upstream returned %d", statusCode),
		}
	default:
		return &ProviderError{
			Provider:   provider,
			StatusCode: statusCode,
			Message:    fmt.Sprintf("request failed with status %d", statusCode),
			Body:       string(body),
		}
	}
}
