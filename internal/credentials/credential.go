package credentials

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type Kind string

const (
	KindGuest Kind = "guest"
	KindUser  Kind = "user"
)

// Credential is a bearer token plus the instant it stops being accepted.
// RefreshToken is only set for user credentials.
type Credential struct {
	Kind         Kind
	Token        string
	ExpiresAt    time.Time
	RefreshToken string
}

// usable reports whether more than buffer remains before expiry.
func (c Credential) usable(now time.Time, buffer time.Duration) bool {
	return c.Token != "" && c.ExpiresAt.Sub(now) > buffer
}

// expiryFor derives the expiry of a freshly issued token: the exp claim wins,
// then the server-stated lifetime, then the fallback lifetime.
func expiryFor(token string, expiresIn time.Duration, now time.Time, fallback time.Duration) time.Time {
	if exp, ok := tokenExpiry(token); ok {
		return exp
	}
	if expiresIn > 0 {
		return now.Add(expiresIn)
	}
	return now.Add(fallback)
}

// tokenExpiry reads the exp claim without verifying the signature. The
// upstream owns the signing key; the claim is only used for scheduling.
func tokenExpiry(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
