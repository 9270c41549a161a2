package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the decoded payload of a token that passed validation. It is
// only ever produced after the signature has been verified.
type Claims map[string]any

// Subject returns the sub claim, or "".
func (c Claims) Subject() string {
	s, _ := jwt.MapClaims(c).GetSubject()
	return s
}

// Issuer returns the iss claim, or "".
func (c Claims) Issuer() string {
	s, _ := jwt.MapClaims(c).GetIssuer()
	return s
}

// Audience returns aud as a list whether it was sent as a string or an
// array.
func (c Claims) Audience() []string {
	aud, _ := jwt.MapClaims(c).GetAudience()
	return aud
}

// ExpiresAt returns the exp claim and whether it was present.
func (c Claims) ExpiresAt() (time.Time, bool) {
	exp, err := jwt.MapClaims(c).GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// String returns a string-valued claim by name.
func (c Claims) String(name string) (string, bool) {
	s, ok := c[name].(string)
	return s, ok
}
