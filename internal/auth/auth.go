// Package auth issues and validates the signed tokens that unlock hidden
// sources.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const issuer = "infoscape"

var (
	ErrSecretMissing = errors.New("auth secret is not configured")
	ErrInvalidToken  = errors.New("invalid token")
)

// Authenticator signs tokens with HMAC-SHA256.
type Authenticator struct {
	secret []byte
	now    func() time.Time
}

func New(secret string) (*Authenticator, error) {
	if secret == "" {
		return nil, ErrSecretMissing
	}
	return &Authenticator{secret: []byte(secret), now: time.Now}, nil
}

// Issue returns a token valid for lifetime.
func (a *Authenticator) Issue(lifetime time.Duration) (string, error) {
	if lifetime <= 0 {
		return "", fmt.Errorf("lifetime must be positive, got %s", lifetime)
	}

	now := a.now()
	claims := jwt.RegisteredClaims{
		Issuer:    issuer,
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(lifetime)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Parse verifies the signature and expiry and returns the token's claims.
func (a *Authenticator) Parse(token string) (*jwt.RegisteredClaims, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidToken)
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return a.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return claims, nil
}

// Validate reports whether token is a well-formed, correctly signed and
// unexpired token. A nil Authenticator accepts nothing.
func (a *Authenticator) Validate(token string) bool {
	if a == nil {
		return false
	}
	_, err := a.Parse(token)
	return err == nil
}
