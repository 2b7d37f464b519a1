package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestProviderErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		err  *ProviderError
		want string
	}{
		{
			name: "kind only",
			err:  NewProviderError("openlibrary", KindTimeout, nil),
			want: "openlibrary: timeout",
		},
		{
			name: "with status and cause",
			err:  &ProviderError{Provider: "isbndb", Kind: KindUnauthorized, StatusCode: 401, Err: stdErrors.New("bad key")},
			want: "isbndb: unauthorized (HTTP 401): bad key",
		},
		{
			name: "with retry after",
			err:  &ProviderError{Provider: "googlebooks", Kind: KindRateLimited, StatusCode: 429, RetryAfter: 30 * time.Second},
			want: "googlebooks: rate_limited (HTTP 429) (retry after 30s)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestKindOfWrapped(t *testing.T) {
	err := fmt.Errorf("lookup: %w", NewProviderError("openlibrary", KindRateLimited, nil))

	assert.Equal(t, KindRateLimited, KindOf(err))
	assert.True(t, IsRateLimitError(err))
	assert.Equal(t, KindGeneric, KindOf(stdErrors.New("plain")))
}

func TestNotFoundMatchesSentinel(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", NewProviderError("googlebooks", KindNotFound, nil))
	assert.True(t, IsNotFound(err))
	assert.True(t, stdErrors.Is(err, ErrNotFound))

	other := NewProviderError("googlebooks", KindTimeout, nil)
	assert.False(t, IsNotFound(other))
}

func TestRetryableKinds(t *testing.T) {
	assert.True(t, KindTimeout.Retryable())
	assert.True(t, KindTransientNetwork.Retryable())
	assert.True(t, KindRateLimited.Retryable())
	assert.False(t, KindNotFound.Retryable())
	assert.False(t, KindUnauthorized.Retryable())
	assert.False(t, KindMalformedResponse.Retryable())
}

func TestAsProviderError(t *testing.T) {
	pe, ok := AsProviderError(fmt.Errorf("x: %w", &ProviderError{Provider: "isbndb", Kind: KindMalformedResponse}))
	assert.True(t, ok)
	assert.Equal(t, "isbndb", pe.Provider)

	_, ok = AsProviderError(stdErrors.New("plain"))
	assert.False(t, ok)
}
