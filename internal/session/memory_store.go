package session

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	grant     ResetGrant
	expiresAt time.Time
}

// MemoryStore is the in-process fallback used when no Redis URL is configured.
type MemoryStore struct {
	mu      sync.Mutex
	now     func() time.Time
	grants  map[string]memoryEntry
	revoked map[string]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:     time.Now,
		grants:  make(map[string]memoryEntry),
		revoked: make(map[string]time.Time),
	}
}

func (s *MemoryStore) SaveResetGrant(_ context.Context, jti string, grant ResetGrant, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	s.grants[jti] = memoryEntry{grant: grant, expiresAt: expiresAt}
	return nil
}

func (s *MemoryStore) ConsumeResetGrant(_ context.Context, jti string) (ResetGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.grants[jti]
	if !ok {
		return ResetGrant{}, ErrGrantNotFound
	}
	delete(s.grants, jti)
	if !s.now().Before(entry.expiresAt) {
		return ResetGrant{}, ErrGrantNotFound
	}
	return entry.grant, nil
}

func (s *MemoryStore) RevokeAccessToken(_ context.Context, jti string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	s.revoked[jti] = expiresAt
	return nil
}

func (s *MemoryStore) IsAccessTokenRevoked(_ context.Context, jti string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	expiresAt, ok := s.revoked[jti]
	return ok && s.now().Before(expiresAt), nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

// sweepLocked drops expired entries. Caller holds mu.
func (s *MemoryStore) sweepLocked() {
	now := s.now()
	for jti, entry := range s.grants {
		if !now.Before(entry.expiresAt) {
			delete(s.grants, jti)
		}
	}
	for jti, expiresAt := range s.revoked {
		if !now.Before(expiresAt) {
			delete(s.revoked, jti)
		}
	}
}
