// Package devotp keeps issued confirmation codes by challenge id so a developer can read them back
// at GET /dev/gate/otp/{challengeId}. It is wired only when OTP_RETURN_TO_CLIENT is set.
package devotp

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store holds plain codes by challenge id until they expire.
type Store interface {
	// Put stores code for challengeID until expiresAt.
	Put(ctx context.Context, challengeID, code string, expiresAt time.Time) error
	// Get returns the code for challengeID. ok is false if it is missing or expired.
	Get(ctx context.Context, challengeID string) (code string, ok bool, err error)
}

type entry struct {
	code      string
	expiresAt time.Time
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu   sync.RWMutex
	m    map[string]entry
	nowF func() time.Time
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		m:    make(map[string]entry),
		nowF: func() time.Time { return time.Now().UTC() },
	}
}

// Put stores code for challengeID until expiresAt and drops entries that have already expired.
func (s *MemoryStore) Put(ctx context.Context, challengeID, code string, expiresAt time.Time) error {
	now := s.nowF()
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.m {
		if !e.expiresAt.After(now) {
			delete(s.m, id)
		}
	}
	s.m[challengeID] = entry{code: code, expiresAt: expiresAt}
	return nil
}

// Get returns the code for challengeID if present and not expired.
func (s *MemoryStore) Get(ctx context.Context, challengeID string) (string, bool, error) {
	s.mu.RLock()
	e, ok := s.m[challengeID]
	s.mu.RUnlock()
	if !ok {
		return "", false, nil
	}
	if !e.expiresAt.After(s.nowF()) {
		s.mu.Lock()
		delete(s.m, challengeID)
		s.mu.Unlock()
		return "", false, nil
	}
	return e.code, true, nil
}

const redisKeyPrefix = "kallied:devotp:"

// redisClient is the subset of *redis.Client the store uses.
type redisClient interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
}

// RedisStore keeps codes in Redis with the challenge TTL, so every API replica can serve them.
type RedisStore struct {
	client redisClient
	nowF   func() time.Time
}

// NewRedisStore returns a store backed by client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return newRedisStore(client)
}

func newRedisStore(client redisClient) *RedisStore {
	return &RedisStore{client: client, nowF: func() time.Time { return time.Now().UTC() }}
}

// Put stores code with a TTL ending at expiresAt. Already-expired codes are not written.
func (s *RedisStore) Put(ctx context.Context, challengeID, code string, expiresAt time.Time) error {
	ttl := expiresAt.Sub(s.nowF())
	if ttl <= 0 {
		return nil
	}
	return s.client.Set(ctx, redisKeyPrefix+challengeID, code, ttl).Err()
}

// Get returns the code for challengeID; Redis expiry removes stale entries.
func (s *RedisStore) Get(ctx context.Context, challengeID string) (string, bool, error) {
	code, err := s.client.Get(ctx, redisKeyPrefix+challengeID).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return code, true, nil
}
