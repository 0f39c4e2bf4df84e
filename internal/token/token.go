// Package token issues and verifies stateless bearer tokens for API clients.
package token

import (
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/boffins/usermgmt/internal/models"
)

// Claims is the bearer token payload: subject (username), role, expiry.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Issuer mints and validates HS256-signed bearer tokens. Tokens carry a
// fixed lifetime from issuance; there is no revocation or refresh.
type Issuer struct {
	secret []byte
	expiry time.Duration
	now    func() time.Time
}

// NewIssuer creates a token issuer with the given signing secret and lifetime.
func NewIssuer(secret string, expiry time.Duration) *Issuer {
	return &Issuer{
		secret: []byte(secret),
		expiry: expiry,
		now:    time.Now,
	}
}

// Issue produces a signed token for the given username and role.
func (i *Issuer) Issue(username string, role models.Role) (string, error) {
	now := i.now()
	claims := Claims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			ExpiresAt: jwt.NewNumericDate(now.Add(i.expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}

// Verify decodes a token and checks signature and expiry. Every failure mode
// (bad signature, malformed payload, expired) collapses into ok=false so
// callers cannot distinguish why a token was rejected.
func (i *Issuer) Verify(tokenString string) (username string, role models.Role, ok bool) {
	token, err := jwt.ParseWithClaims(
		tokenString,
		&Claims{},
		func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return i.secret, nil
		},
	)
	if err != nil || !token.Valid {
		return "", "", false
	}

	claims, okClaims := token.Claims.(*Claims)
	if !okClaims || claims.Subject == "" || !models.Role(claims.Role).Valid() {
		return "", "", false
	}

	return claims.Subject, models.Role(claims.Role), true
}

// SetClock overrides the issuer's time source. Test use only.
func (i *Issuer) SetClock(now func() time.Time) {
	i.now = now
}
