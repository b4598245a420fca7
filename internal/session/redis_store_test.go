package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	store, err := NewRedisStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, s
}

func TestNewRedisStore(t *testing.T) {
	store, _ := setupTestRedis(t)
	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestNewRedisStoreRejectsBadURL(t *testing.T) {
	if _, err := NewRedisStore("not a url"); err == nil {
		t.Fatal("expected error for malformed redis url")
	}
}

func TestResetGrantIsSingleUse(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()

	grant := ResetGrant{UserID: "user-1", Email: "ada@example.com", IssuedAt: time.Now().UTC()}
	if err := store.SaveResetGrant(ctx, "jti-1", grant, time.Now().Add(10*time.Minute)); err != nil {
		t.Fatalf("SaveResetGrant failed: %v", err)
	}

	got, err := store.ConsumeResetGrant(ctx, "jti-1")
	if err != nil {
		t.Fatalf("ConsumeResetGrant failed: %v", err)
	}
	if got.UserID != "user-1" || got.Email != "ada@example.com" {
		t.Fatalf("unexpected grant: %+v", got)
	}

	if _, err := store.ConsumeResetGrant(ctx, "jti-1"); !errors.Is(err, ErrGrantNotFound) {
		t.Fatalf("second consume error = %v, want ErrGrantNotFound", err)
	}
}

func TestResetGrantExpires(t *testing.T) {
	store, s := setupTestRedis(t)
	ctx := context.Background()

	if err := store.SaveResetGrant(ctx, "jti-2", ResetGrant{UserID: "user-2"}, time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("SaveResetGrant failed: %v", err)
	}
	s.FastForward(2 * time.Minute)

	if _, err := store.ConsumeResetGrant(ctx, "jti-2"); !errors.Is(err, ErrGrantNotFound) {
		t.Fatalf("expected ErrGrantNotFound after expiry, got %v", err)
	}
}

func TestConcurrentConsumeHasOneWinner(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()

	if err := store.SaveResetGrant(ctx, "jti-race", ResetGrant{UserID: "user-3"}, time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("SaveResetGrant failed: %v", err)
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.ConsumeResetGrant(ctx, "jti-race"); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("expected exactly one successful consume, got %d", wins)
	}
}

func TestRevokeAccessToken(t *testing.T) {
	store, s := setupTestRedis(t)
	ctx := context.Background()

	revoked, err := store.IsAccessTokenRevoked(ctx, "jti-access")
	if err != nil || revoked {
		t.Fatalf("fresh token: revoked=%v err=%v", revoked, err)
	}

	if err := store.RevokeAccessToken(ctx, "jti-access", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("RevokeAccessToken failed: %v", err)
	}
	revoked, err = store.IsAccessTokenRevoked(ctx, "jti-access")
	if err != nil || !revoked {
		t.Fatalf("after revoke: revoked=%v err=%v", revoked, err)
	}

	s.FastForward(2 * time.Hour)
	revoked, err = store.IsAccessTokenRevoked(ctx, "jti-access")
	if err != nil || revoked {
		t.Fatalf("after expiry: revoked=%v err=%v", revoked, err)
	}
}
