package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	resetPrefix   = "reset:"
	revokedPrefix = "revoked:"
)

// RedisStore keeps grants and revocations in Redis with native key expiry.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis-backed session store
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) SaveResetGrant(ctx context.Context, jti string, grant ResetGrant, expiresAt time.Time) error {
	payload, err := json.Marshal(grant)
	if err != nil {
		return fmt.Errorf("marshal reset grant: %w", err)
	}
	if err := s.client.Set(ctx, resetPrefix+jti, payload, ttlUntil(time.Now(), expiresAt)).Err(); err != nil {
		return fmt.Errorf("save reset grant: %w", err)
	}
	return nil
}

func (s *RedisStore) ConsumeResetGrant(ctx context.Context, jti string) (ResetGrant, error) {
	raw, err := s.client.GetDel(ctx, resetPrefix+jti).Result()
	if errors.Is(err, redis.Nil) {
		return ResetGrant{}, ErrGrantNotFound
	}
	if err != nil {
		return ResetGrant{}, fmt.Errorf("consume reset grant: %w", err)
	}

	var grant ResetGrant
	if err := json.Unmarshal([]byte(raw), &grant); err != nil {
		return ResetGrant{}, fmt.Errorf("unmarshal reset grant: %w", err)
	}
	return grant, nil
}

func (s *RedisStore) RevokeAccessToken(ctx context.Context, jti string, expiresAt time.Time) error {
	if err := s.client.Set(ctx, revokedPrefix+jti, "1", ttlUntil(time.Now(), expiresAt)).Err(); err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *RedisStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := s.client.Exists(ctx, revokedPrefix+jti).Result()
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return n > 0, nil
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
