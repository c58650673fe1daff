package tokens

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMalformedToken is returned when the token is not a parseable JWT
	ErrMalformedToken = errors.New("malformed token")

	// ErrEmptyToken is returned for an empty token string
	ErrEmptyToken = errors.New("empty token")
)

// Claims are the fields the records backend puts into its access tokens.
// Only the registered claims are relied upon; role and email are informational.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
}

// Info is the locally inspected view of an access token.
type Info struct {
	Subject   string
	Email     string
	Role      string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// HasExpiry reports whether the token carried an exp claim.
func (i *Info) HasExpiry() bool {
	return !i.ExpiresAt.IsZero()
}

// ExpiredAt reports whether the token is past its exp claim at now.
// Tokens without exp never expire locally.
func (i *Info) ExpiredAt(now time.Time) bool {
	return i.HasExpiry() && !now.Before(i.ExpiresAt)
}

// Inspect decodes a token without verifying its signature. The portal never
// trusts these claims for authorization; the backend remains the authority.
func Inspect(raw string) (*Info, error) {
	if raw == "" {
		return nil, ErrEmptyToken
	}

	parser := jwt.NewParser(jwt.WithoutClaimsValidation())

	claims := &Claims{}
	if _, _, err := parser.ParseUnverified(raw, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}

	info := &Info{
		Subject: claims.Subject,
		Email:   claims.Email,
		Role:    claims.Role,
	}
	if claims.IssuedAt != nil {
		info.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		info.ExpiresAt = claims.ExpiresAt.Time
	}

	return info, nil
}

// Expired is the fast path used on session restore: a JWT whose exp is
// already past is discarded without a round trip. Opaque tokens are left for
// the backend to judge and report false.
func Expired(raw string, now time.Time) bool {
	info, err := Inspect(raw)
	if err != nil {
		return false
	}
	return info.ExpiredAt(now)
}
