package credentials

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

// AccessClaims is the subset of access token claims the client cares about
type AccessClaims struct {
	Subject   string
	ExpiresAt time.Time
	IssuedAt  time.Time
}

// Expired reports whether the token is past its exp claim at now. Tokens
// without an exp claim never expire on the client side.
func (c *AccessClaims) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// ParseAccessClaims decodes the claims of a staff access token without
// verifying its signature. The client never holds the signing key, the
// backend remains the authority on validity.
func ParseAccessClaims(rawToken string) (*AccessClaims, error) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(rawToken, claims); err != nil {
		return nil, errors.Wrap(err, "[ParseAccessClaims] ParseUnverified")
	}

	ac := &AccessClaims{Subject: claims.Subject}
	if claims.ExpiresAt != nil {
		ac.ExpiresAt = claims.ExpiresAt.Time
	}
	if claims.IssuedAt != nil {
		ac.IssuedAt = claims.IssuedAt.Time
	}
	return ac, nil
}
