// ABOUTME: Credential triple (identity + access/refresh tokens) and client-side claim inspection.
// ABOUTME: Claims are decoded without verification; the server is the only party that validates signatures.

package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Credential errors
var (
	ErrNoClaims = errors.New("token has no parseable claims")
)

// Credential is the access/refresh token pair and the identity it belongs to.
// Exactly one instance is current per process; it is replaced wholesale,
// never mutated field by field.
type Credential struct {
	Username     string `json:"username"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Claims are the access-token fields the client cares about for display and
// proactive expiry checks.
type Claims struct {
	Subject   string
	ExpiresAt time.Time
}

// Claims decodes the access token's payload without verifying the signature.
// Verification happens server-side; the client only needs subject and expiry.
func (c *Credential) Claims() (*Claims, error) {
	token, _, err := jwt.NewParser().ParseUnverified(c.AccessToken, jwt.MapClaims{})
	if err != nil {
		return nil, err
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrNoClaims
	}

	claims := &Claims{}
	if sub, err := mapClaims.GetSubject(); err == nil {
		claims.Subject = sub
	}
	if exp, err := mapClaims.GetExpirationTime(); err == nil && exp != nil {
		claims.ExpiresAt = exp.Time
	}
	return claims, nil
}

// ExpiresWithin reports whether the access token expires within d. Tokens
// with no exp claim never report as expiring.
func (c *Credential) ExpiresWithin(d time.Duration) bool {
	claims, err := c.Claims()
	if err != nil || claims.ExpiresAt.IsZero() {
		return false
	}
	return time.Until(claims.ExpiresAt) < d
}
