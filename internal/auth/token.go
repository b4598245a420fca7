// Package auth issues and verifies the signed tokens used by the API.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	PurposeAccess        = "access"
	PurposePasswordReset = "password_reset"

	issuer = "yaw"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
)

type Claims struct {
	Name    string `json:"name,omitempty"`
	Email   string `json:"email"`
	Role    string `json:"role,omitempty"`
	Purpose string `json:"purpose"`
	jwt.RegisteredClaims
}

// NewClaims returns claims for subject issued for purpose.
func NewClaims(subject, purpose string) Claims {
	return Claims{Purpose: purpose, RegisteredClaims: jwt.RegisteredClaims{Subject: subject}}
}

// UserID is the token subject.
func (c Claims) UserID() string {
	return c.Subject
}

// JTI is the unique token id.
func (c Claims) JTI() string {
	return c.ID
}

// Expiry returns the expiration time, or the zero time when unset.
func (c Claims) Expiry() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

type Signer struct {
	secret []byte
	now    func() time.Time
}

func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret), now: time.Now}
}

// WithClock returns a copy of the signer that reads time from now.
func (s *Signer) WithClock(now func() time.Time) *Signer {
	return &Signer{secret: s.secret, now: now}
}

// Issue signs claims valid for ttl. The subject and purpose must be set;
// the id, issuer and time claims are filled in.
func (s *Signer) Issue(claims Claims, ttl time.Duration) (string, Claims, error) {
	if claims.Subject == "" || claims.Purpose == "" {
		return "", Claims{}, fmt.Errorf("issue token: subject and purpose are required")
	}
	if ttl <= 0 {
		return "", Claims{}, fmt.Errorf("issue token: ttl must be positive")
	}
	now := s.now()
	claims.ID = uuid.NewString()
	claims.Issuer = issuer
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", Claims{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, claims, nil
}

// Parse verifies token and checks that it was issued for purpose.
func (s *Signer) Parse(token, purpose string) (Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, ErrInvalidToken
	}

	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if errors.Is(err, jwt.ErrTokenExpired) {
		return Claims{}, ErrExpiredToken
	}
	if err != nil || !parsed.Valid {
		return Claims{}, ErrInvalidToken
	}
	if claims.Purpose != purpose || claims.Subject == "" || claims.ID == "" {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}
