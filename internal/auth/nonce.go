package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Verifier checks the anti-forgery nonces minted by the CMS when it
// renders the chat page. Several generations of the front end issue
// tokens under different scope names; every configured scope stays
// accepted so an open tab from before a deploy keeps polling.
//
// Token format: <scope>:<user_id>:<unix_ts>:<hex hmac-sha256>
// where the MAC covers "scope|user_id|unix_ts".
type Verifier struct {
	secret []byte
	scopes map[string]bool
	maxAge time.Duration
	now    func() time.Time
}

func NewVerifier(secret string, scopes []string, maxAge time.Duration) *Verifier {
	accepted := make(map[string]bool, len(scopes))
	for _, scope := range scopes {
		accepted[scope] = true
	}
	return &Verifier{
		secret: []byte(secret),
		scopes: accepted,
		maxAge: maxAge,
		now:    time.Now,
	}
}

// Issue mints a nonce for userID under the given scope. The CMS side
// implements the same construction; this is also what tests use.
func (v *Verifier) Issue(scope string, userID int64, issuedAt time.Time) string {
	ts := issuedAt.Unix()
	mac := v.sign(scope, userID, ts)
	return fmt.Sprintf("%s:%d:%d:%s", scope, userID, ts, mac)
}

// Verify returns the authenticated user id, or an error describing why
// the token is rejected.
func (v *Verifier) Verify(token string) (int64, error) {
	parts := strings.Split(token, ":")
	if len(parts) != 4 {
		return 0, fmt.Errorf("malformed nonce")
	}

	scope := parts[0]
	if !v.scopes[scope] {
		return 0, fmt.Errorf("unknown nonce scope %q", scope)
	}

	userID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || userID <= 0 {
		return 0, fmt.Errorf("invalid user id in nonce")
	}

	ts, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid timestamp in nonce")
	}

	issuedAt := time.Unix(ts, 0)
	age := v.now().Sub(issuedAt)
	if age > v.maxAge || age < -time.Minute {
		return 0, fmt.Errorf("nonce expired")
	}

	expected := v.sign(scope, userID, ts)
	if !hmac.Equal([]byte(expected), []byte(parts[3])) {
		return 0, fmt.Errorf("nonce signature mismatch")
	}

	return userID, nil
}

func (v *Verifier) sign(scope string, userID, ts int64) string {
	mac := hmac.New(sha256.New, v.secret)
	fmt.Fprintf(mac, "%s|%d|%d", scope, userID, ts)
	return hex.EncodeToString(mac.Sum(nil))
}
