// Package session stores short-lived auth state: single-use password-reset
// grants and revoked access-token ids.
package session

import (
	"context"
	"errors"
	"time"
)

// ErrGrantNotFound is returned when a reset grant was never issued, has
// expired or has already been consumed.
var ErrGrantNotFound = errors.New("reset grant not found or expired")

// ResetGrant records that a user answered a secret question correctly.
type ResetGrant struct {
	UserID   string    `json:"user_id"`
	Email    string    `json:"email"`
	IssuedAt time.Time `json:"issued_at"`
}

type Store interface {
	SaveResetGrant(ctx context.Context, jti string, grant ResetGrant, expiresAt time.Time) error
	// ConsumeResetGrant atomically reads and deletes the grant.
	ConsumeResetGrant(ctx context.Context, jti string) (ResetGrant, error)
	RevokeAccessToken(ctx context.Context, jti string, expiresAt time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)
	Ping(ctx context.Context) error
	Close() error
}

func ttlUntil(now, expiresAt time.Time) time.Duration {
	ttl := expiresAt.Sub(now)
	if ttl < time.Second {
		ttl = time.Second
	}
	return ttl
}
