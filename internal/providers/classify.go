package providers

import (
	"context"
	stdErrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/lepinkainen/bookmeta/internal/errors"
	"github.com/lepinkainen/bookmeta/internal/ratelimit"
)

// ClassifyStatus maps a non-2xx response to a typed provider error. It
// returns nil for 2xx responses.
func ClassifyStatus(provider string, resp *http.Response, now time.Time) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	cause := fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))

	var kind errors.Kind
	switch {
	case resp.StatusCode == http.StatusNotFound:
		kind = errors.KindNotFound
		cause = errors.ErrNotFound
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		kind = errors.KindUnauthorized
	case resp.StatusCode == http.StatusTooManyRequests:
		kind = errors.KindRateLimited
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusGatewayTimeout:
		kind = errors.KindTimeout
	case resp.StatusCode >= 500:
		kind = errors.KindTransientNetwork
	default:
		kind = errors.KindGeneric
	}

	pe := errors.NewProviderError(provider, kind, cause)
	pe.StatusCode = resp.StatusCode
	if kind == errors.KindRateLimited {
		pe.RetryAfter = ParseRetryAfter(resp.Header.Get("Retry-After"), now)
	}
	return pe
}

// ClassifyTransport maps an error from the HTTP round trip to a typed
// provider error.
func ClassifyTransport(provider string, err error) error {
	if err == nil {
		return nil
	}

	var netErr net.Error
	switch {
	case stdErrors.Is(err, context.DeadlineExceeded):
		return errors.NewProviderError(provider, errors.KindTimeout, err)
	case stdErrors.As(err, &netErr) && netErr.Timeout():
		return errors.NewProviderError(provider, errors.KindTimeout, err)
	case stdErrors.Is(err, context.Canceled):
		return errors.NewProviderError(provider, errors.KindGeneric, err)
	}
	return errors.NewProviderError(provider, errors.KindTransientNetwork, err)
}

// ParseRetryAfter reads a Retry-After header given either in seconds or as
// an HTTP date. Returns 0 when the header is absent or unusable.
func ParseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

// retryable decides whether the backoff should try again after err.
func retryable(err error) bool {
	if stdErrors.Is(err, ratelimit.ErrQuotaExhausted) {
		return false
	}
	return errors.KindOf(err).Retryable()
}

// retryAfter extracts the provider-requested wait from err.
func retryAfter(err error) time.Duration {
	if pe, ok := errors.AsProviderError(err); ok {
		return pe.RetryAfter
	}
	return 0
}
