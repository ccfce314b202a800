package stores

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RevocationStore remembers signed-token ids that must no longer verify.
// Entries only need to outlive the token they revoke.
//
// Revoke reports whether this call was the one that revoked jti; a second
// Revoke of the same live id returns false. Ids whose until is already past
// are not stored and report false.
type RevocationStore interface {
	Revoke(ctx context.Context, jti string, until time.Time) (bool, error)
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// MemoryRevocationStore keeps revoked ids in process memory.
type MemoryRevocationStore struct {
	now func() time.Time

	mu      sync.Mutex
	revoked map[string]time.Time
}

// NewMemoryRevocationStore creates an empty in-process revocation list.
func NewMemoryRevocationStore(now func() time.Time) *MemoryRevocationStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryRevocationStore{
		now:     now,
		revoked: make(map[string]time.Time),
	}
}

// Revoke implements RevocationStore.
func (s *MemoryRevocationStore) Revoke(ctx context.Context, jti string, until time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, exp := range s.revoked {
		if !now.Before(exp) {
			delete(s.revoked, id)
		}
	}
	if !now.Before(until) {
		return false, nil
	}
	if _, ok := s.revoked[jti]; ok {
		return false, nil
	}
	s.revoked[jti] = until
	return true, nil
}

// IsRevoked implements RevocationStore.
func (s *MemoryRevocationStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	exp, ok := s.revoked[jti]
	return ok && s.now().Before(exp), nil
}

// RedisRevocationStore keeps one key per revoked id, expiring with the
// token it revokes.
type RedisRevocationStore struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedisRevocationStore returns a Redis-backed RevocationStore.
func NewRedisRevocationStore(redisClient redis.UniversalClient, prefix string, now func() time.Time) *RedisRevocationStore {
	if prefix == "" {
		prefix = "trv"
	}
	if now == nil {
		now = time.Now
	}
	return &RedisRevocationStore{redis: redisClient, prefix: prefix, now: now}
}

func (s *RedisRevocationStore) key(jti string) string {
	return s.prefix + ":" + jti
}

// Revoke implements RevocationStore.
func (s *RedisRevocationStore) Revoke(ctx context.Context, jti string, until time.Time) (bool, error) {
	ttl := until.Sub(s.now())
	if ttl <= 0 {
		return false, nil
	}
	first, err := s.redis.SetNX(ctx, s.key(jti), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return first, nil
}

// IsRevoked implements RevocationStore.
func (s *RedisRevocationStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := s.redis.Exists(ctx, s.key(jti)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return n > 0, nil
}
