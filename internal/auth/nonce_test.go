package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestVerifier(now time.Time) *Verifier {
	v := NewVerifier("test-secret", []string{"chat_poll", "chat_realtime", "lms_chat"}, 12*time.Hour)
	v.now = func() time.Time { return now }
	return v
}

func TestVerifyAcceptsEveryConfiguredScope(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	v := newTestVerifier(now)

	for _, scope := range []string{"chat_poll", "chat_realtime", "lms_chat"} {
		t.Run(scope, func(t *testing.T) {
			token := v.Issue(scope, 42, now.Add(-time.Hour))
			userID, err := v.Verify(token)
			require.NoError(t, err)
			assert.Equal(t, int64(42), userID)
		})
	}
}

func TestVerifyRejectsUnknownScope(t *testing.T) {
	now := time.Now()
	v := newTestVerifier(now)

	token := v.Issue("some_other_plugin", 42, now)
	_, err := v.Verify(token)
	assert.Error(t, err)
}

func TestVerifyRejectsExpiredNonce(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	v := newTestVerifier(now)

	token := v.Issue("chat_poll", 42, now.Add(-13*time.Hour))
	_, err := v.Verify(token)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expired")
}

func TestVerifyRejectsFutureNonce(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	v := newTestVerifier(now)

	// Small clock skew is tolerated, anything further is refused.
	token := v.Issue("chat_poll", 42, now.Add(30*time.Second))
	_, err := v.Verify(token)
	assert.NoError(t, err)

	token = v.Issue("chat_poll", 42, now.Add(10*time.Minute))
	_, err = v.Verify(token)
	assert.Error(t, err)
}

func TestVerifyRejectsTamperedToken(t *testing.T) {
	now := time.Now()
	v := newTestVerifier(now)

	token := v.Issue("chat_poll", 42, now)

	// Swap the user id while keeping the original signature.
	parts := strings.SplitN(token, ":", 4)
	require.Len(t, parts, 4)
	forged := strings.Join([]string{parts[0], "9999", parts[2], parts[3]}, ":")

	_, err := v.Verify(forged)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "signature")
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	now := time.Now()
	v := newTestVerifier(now)

	other := NewVerifier("different-secret", []string{"chat_poll"}, 12*time.Hour)
	token := other.Issue("chat_poll", 42, now)

	_, err := v.Verify(token)
	assert.Error(t, err)
}

func TestVerifyRejectsMalformedTokens(t *testing.T) {
	v := newTestVerifier(time.Now())

	for _, token := range []string{"", "chat_poll", "chat_poll:42", "chat_poll:abc:123:deadbeef", "chat_poll:-5:123:deadbeef"} {
		_, err := v.Verify(token)
		assert.Error(t, err, "token %q", token)
	}
}
