// Package token decodes the claim envelope carried by API tokens and
// answers expiry questions about them.
//
// Tokens are three base64url segments joined by dots. The client never
// verifies signatures — the server does that — so only the middle claims
// segment is read here.
package token

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Claims are the envelope fields the client cares about. Access tokens
// carry Exp; refresh tokens carry a monotonically decrementing Counter.
type Claims struct {
	Exp     int64    `json:"exp"`
	Name    string   `json:"name"`
	Proj    string   `json:"proj"`
	User    string   `json:"user"`
	Groups  []string `json:"groups"`
	Counter int      `json:"counter"`
	Path    string   `json:"path"`
	Aud     string   `json:"aud"`
}

// Expiry returns the exp claim as a time.Time.
func (c Claims) Expiry() time.Time {
	return time.Unix(c.Exp, 0)
}

// Parse decodes the claims segment of a token. The signature is not
// checked.
func Parse(tok string) (Claims, error) {
	parts := strings.Split(tok, ".")
	if len(parts) != 3 {
		return Claims{}, fmt.Errorf("token: malformed token: %d segments", len(parts))
	}

	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(parts[1], "="))
	if err != nil {
		return Claims{}, fmt.Errorf("token: decoding claims: %w", err)
	}

	var c Claims
	if err := json.Unmarshal(raw, &c); err != nil {
		return Claims{}, fmt.Errorf("token: parsing claims: %w", err)
	}

	return c, nil
}

// Expired reports whether the token's exp claim is in the past.
// A token that cannot be parsed counts as expired.
func Expired(tok string) bool {
	return expiredAt(tok, time.Now())
}

func expiredAt(tok string, now time.Time) bool {
	c, err := Parse(tok)
	if err != nil {
		return true
	}

	return now.After(c.Expiry())
}

// ExpiresWithin reports whether the token expires inside (now, now+d].
// Already-expired and unparseable tokens return false — they are handled
// by Expired, not by the refresh-soon path.
func ExpiresWithin(tok string, d time.Duration) bool {
	return expiresWithinAt(tok, d, time.Now())
}

func expiresWithinAt(tok string, d time.Duration, now time.Time) bool {
	c, err := Parse(tok)
	if err != nil {
		return false
	}

	exp := c.Expiry()

	return exp.After(now) && !exp.After(now.Add(d))
}
