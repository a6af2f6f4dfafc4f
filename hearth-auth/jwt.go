// Package hearthauth validates the bearer credentials presented during the
// WebSocket connect handshake. The realtime subsystem consumes only the
// decoded Principal; token issuance belongs to the identity service.
package hearthauth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Principal is the decoded identity of a connecting client.
type Principal struct {
	UserID      string
	DisplayName string
	Role        string
}

var (
	// ErrMissingCredential means no credential was presented at all.
	ErrMissingCredential = errors.New("no credential presented")

	// ErrInvalidCredential means a credential was presented but failed
	// validation (bad signature, expired, malformed, no subject).
	ErrInvalidCredential = errors.New("invalid credential")
)

type sessionClaims struct {
	Name string `json:"name,omitempty"`
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Validator validates HMAC-signed session tokens.
type Validator struct {
	secret []byte
	issuer string
}

// NewValidator creates a Validator. If issuer is non-empty, tokens must carry
// a matching iss claim.
func NewValidator(secret []byte, issuer string) *Validator {
	return &Validator{secret: secret, issuer: issuer}
}

// Validate checks the credential and returns the principal it identifies.
func (v *Validator) Validate(credential string) (Principal, error) {
	if credential == "" {
		return Principal{}, ErrMissingCredential
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256"})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	var claims sessionClaims
	_, err := jwt.ParseWithClaims(credential, &claims, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}

	if claims.Subject == "" {
		return Principal{}, fmt.Errorf("%w: missing subject", ErrInvalidCredential)
	}

	return Principal{
		UserID:      claims.Subject,
		DisplayName: claims.Name,
		Role:        claims.Role,
	}, nil
}

// Issue mints a token for the principal, for local tooling and tests.
func (v *Validator) Issue(p Principal, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := sessionClaims{
		Name: p.DisplayName,
		Role: p.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.UserID,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
