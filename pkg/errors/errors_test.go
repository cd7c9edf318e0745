package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWireCode(t *testing.T) {
	assert.Equal(t, "connection_limit_exceeded", ErrConnectionLimit.WireCode())
	assert.Equal(t, "invalid_nonce", ErrInvalidNonce.WireCode())
	assert.Equal(t, "rollout_disabled", ErrRolloutDisabled.WireCode())
}

func TestToPollResponse(t *testing.T) {
	resp := ToPollResponse(ErrAccessDenied)
	assert.Equal(t, true, resp["error"])
	assert.Equal(t, "access_denied", resp["code"])
	assert.NotEmpty(t, resp["message"])

	// Unknown errors collapse to the internal code without leaking the
	// underlying message.
	resp = ToPollResponse(stderrors.New("pq: connection refused"))
	assert.Equal(t, "internal_error", resp["code"])
	assert.Equal(t, "internal server error", resp["message"])
}

func TestToHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{ErrNotAuthenticated, http.StatusUnauthorized},
		{ErrInvalidNonce, http.StatusForbidden},
		{ErrAccessDenied, http.StatusForbidden},
		{ErrInvalidChannel, http.StatusBadRequest},
		{ErrConnectionLimit, http.StatusTooManyRequests},
		{ErrRateLimitExceeded, http.StatusTooManyRequests},
		{ErrRolloutDisabled, http.StatusServiceUnavailable},
		{stderrors.New("plain"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ToHTTPStatus(tt.err), "%v", tt.err)
	}
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, IsTerminal(ErrInvalidNonce))
	assert.True(t, IsTerminal(ErrNotAuthenticated))
	assert.True(t, IsTerminal(ErrAccessDenied))

	assert.False(t, IsTerminal(ErrConnectionLimit))
	assert.False(t, IsTerminal(ErrRateLimitExceeded))
	assert.False(t, IsTerminal(ErrServiceUnavailable))
}

func TestWithCauseKeepsIdentityAndUnwraps(t *testing.T) {
	cause := stderrors.New("boom")
	err := ErrInvalidNonce.WithCause(cause)

	assert.True(t, Is(err, ErrInvalidNonce))
	assert.True(t, stderrors.Is(err, cause))
	// The shared sentinel must not be mutated.
	assert.Nil(t, ErrInvalidNonce.Cause)
}

func TestWithDetailCopiesDetails(t *testing.T) {
	err := ErrConnectionLimit.WithDetail("limit", 3)
	assert.Equal(t, 3, err.Details["limit"])
	// The shared sentinel's map must stay untouched.
	assert.Empty(t, ErrConnectionLimit.Details)

	// Chained details accumulate on the copy only.
	err2 := err.WithDetail("retry_after", 60)
	assert.Equal(t, 3, err2.Details["limit"])
	assert.NotContains(t, err.Details, "retry_after")
}

// Sentinels are annotated concurrently on the poll hot path; run with
// -race.
func TestWithDetailConcurrentOnSentinel(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			err := ErrConnectionLimit.WithDetail("limit", n)
			assert.Equal(t, n, err.Details["limit"])
		}(i)
	}
	wg.Wait()
	assert.Empty(t, ErrConnectionLimit.Details)
}

func TestWithCauseThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("handler: %w", ErrConnectionLimit.WithDetail("limit", 3))
	require.True(t, Is(wrapped, ErrConnectionLimit))
	assert.Equal(t, http.StatusTooManyRequests, ToHTTPStatus(wrapped))
}
