// Package auth issues and verifies the HS256 bearer tokens that carry the
// caller's user ID to the sync service.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/AlAfiz/starked-education/internal/errs"
)

// Leeway tolerates small clock skew between token issuer and server.
const Leeway = 30 * time.Second

// Issue creates a signed HS256 JWT for subject valid for ttl from now.
func Issue(key []byte, subject string, ttl time.Duration, now time.Time) (string, time.Time, error) {
	if len(key) == 0 {
		return "", time.Time{}, errors.New("empty signing key")
	}
	if subject == "" {
		return "", time.Time{}, fmt.Errorf("%w: empty subject", errs.ErrValidation)
	}
	exp := now.Add(ttl)
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(key)
	return signed, exp, err
}

// Verify checks signature and time claims and returns the subject.
// Every failure wraps errs.ErrUnauthorized.
func Verify(key []byte, token string) (string, error) {
	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return key, nil
	}, jwt.WithLeeway(Leeway))
	if err != nil || !parsed.Valid {
		return "", fmt.Errorf("%w: invalid token", errs.ErrUnauthorized)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: empty subject", errs.ErrUnauthorized)
	}
	return claims.Subject, nil
}
