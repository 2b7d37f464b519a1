package errors

import (
	stdErrors "errors"
	"fmt"
	"time"
)

// Kind classifies a provider failure.
type Kind int

const (
	KindGeneric Kind = iota
	KindTimeout
	KindUnauthorized
	KindRateLimited
	KindNotFound
	KindTransientNetwork
	KindExhaustedRetries
	KindMalformedResponse
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindUnauthorized:
		return "unauthorized"
	case KindRateLimited:
		return "rate_limited"
	case KindNotFound:
		return "not_found"
	case KindTransientNetwork:
		return "transient_network"
	case KindExhaustedRetries:
		return "exhausted_retries"
	case KindMalformedResponse:
		return "malformed_response"
	default:
		return "generic"
	}
}

// Retryable reports whether another attempt could plausibly succeed.
func (k Kind) Retryable() bool {
	switch k {
	case KindTimeout, KindTransientNetwork, KindRateLimited:
		return true
	}
	return false
}

// ErrNotFound is returned when no provider has data for a query.
var ErrNotFound = stdErrors.New("book not found")

// ProviderError is a classified failure from one provider call.
type ProviderError struct {
	Kind       Kind
	Provider   string
	StatusCode int
	// RetryAfter is set from the Retry-After header on rate-limited responses.
	RetryAfter time.Duration
	Err        error
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Provider, e.Kind)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.StatusCode)
	}
	if e.RetryAfter > 0 {
		msg = fmt.Sprintf("%s (retry after %s)", msg, e.RetryAfter)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrNotFound) match not-found provider errors.
func (e *ProviderError) Is(target error) bool {
	return target == ErrNotFound && e.Kind == KindNotFound
}

// NewProviderError creates a classified provider error.
func NewProviderError(provider string, kind Kind, err error) *ProviderError {
	return &ProviderError{Provider: provider, Kind: kind, Err: err}
}

// KindOf returns the Kind of the first ProviderError in err's chain, or
// KindGeneric when there is none.
func KindOf(err error) Kind {
	var pe *ProviderError
	if stdErrors.As(err, &pe) {
		return pe.Kind
	}
	return KindGeneric
}

// AsProviderError extracts a ProviderError from err's chain.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	ok := stdErrors.As(err, &pe)
	return pe, ok
}

// IsNotFound reports whether err means the book does not exist.
func IsNotFound(err error) bool {
	return stdErrors.Is(err, ErrNotFound)
}

// IsRateLimitError reports whether err is a rate limit rejection (even when wrapped).
func IsRateLimitError(err error) bool {
	return KindOf(err) == KindRateLimited
}
