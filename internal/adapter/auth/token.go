// Package auth validates bearer tokens presented on the secure WebSocket endpoint.
package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
)

var (
	ErrInvalidToken   = errors.New("invalid token")
	ErrMissingSubject = errors.New("token has no subject")
)

// Validator checks HS256 tokens signed with a shared secret.
type Validator struct {
	secret []byte
	issuer string
	clock  clockwork.Clock
}

// NewValidator returns a validator for secret. An empty issuer accepts any issuer.
func NewValidator(secret, issuer string, clock clockwork.Clock) *Validator {
	return &Validator{secret: []byte(secret), issuer: issuer, clock: clock}
}

// Validate verifies signature, expiry and issuer, and returns the subject as the user id.
func (v *Validator) Validate(tokenString string) (string, error) {
	if tokenString == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidToken)
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, v.keyFunc, v.parserOptions()...)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid {
		return "", ErrInvalidToken
	}
	if claims.Subject == "" {
		return "", ErrMissingSubject
	}
	return claims.Subject, nil
}

// Sign issues a token for subject. Used by tests and operational tooling.
func (v *Validator) Sign(subject string, claims jwt.RegisteredClaims) (string, error) {
	claims.Subject = subject
	if claims.Issuer == "" {
		claims.Issuer = v.issuer
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func (v *Validator) keyFunc(token *jwt.Token) (any, error) {
	if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
		return nil, fmt.Errorf("unexpected signing method: %s", token.Method.Alg())
	}
	return v.secret, nil
}

func (v *Validator) parserOptions() []jwt.ParserOption {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.clock.Now),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	return opts
}
