package sasl

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// OAuthBearerToken wraps an OAuth2 access token used by XOAUTH2/OAUTHBEARER,
// tracking its expiry so callers can refresh proactively instead of
// discovering expiry only after a failed AUTHENTICATE.
type OAuthBearerToken struct {
	Raw       string
	ExpiresAt time.Time
}

// ParseOAuthBearerToken decodes the unverified claims of a JWT access
// token to recover its expiry. The client is a relying party that
// received this token from its own OAuth provider; it has no reason (and
// no key) to verify the issuer's signature, only to read exp.
func ParseOAuthBearerToken(raw string) (*OAuthBearerToken, error) {
	parser := jwt.NewParser()
	token, _, err := parser.ParseUnverified(raw, jwt.MapClaims{})
	if err != nil {
		return &OAuthBearerToken{Raw: raw}, nil
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return &OAuthBearerToken{Raw: raw}, nil
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return &OAuthBearerToken{Raw: raw}, nil
	}
	return &OAuthBearerToken{Raw: raw, ExpiresAt: exp.Time}, nil
}

// IsExpired reports whether the token has passed its expiry, with a 30s
// skew allowance for clock drift and in-flight request latency. A token
// with no parseable expiry is never considered expired.
func (t *OAuthBearerToken) IsExpired() bool {
	if t.ExpiresAt.IsZero() {
		return false
	}
	return time.Now().After(t.ExpiresAt.Add(-30 * time.Second))
}
