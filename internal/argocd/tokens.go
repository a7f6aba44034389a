package argocd

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
)

// tokenExpirySkew is subtracted from a session token's exp claim so a cached
// token is never used right at its expiry.
const tokenExpirySkew = 30 * time.Second

// TokenStore caches session tokens keyed by instance name.
type TokenStore interface {
	// Get returns ("", false, nil) on a miss.
	Get(ctx context.Context, instance string) (string, bool, error)
	Set(ctx context.Context, instance, token string, ttl time.Duration) error
	Delete(ctx context.Context, instance string) error
}

// MemoryTokenStore is an in-process TokenStore.
type MemoryTokenStore struct {
	mu      sync.Mutex
	entries map[string]tokenEntry
	now     func() time.Time
}

type tokenEntry struct {
	token     string
	expiresAt time.Time
}

func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{entries: make(map[string]tokenEntry), now: time.Now}
}

func (s *MemoryTokenStore) Get(_ context.Context, instance string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[instance]
	if !ok {
		return "", false, nil
	}
	if !s.now().Before(e.expiresAt) {
		delete(s.entries, instance)
		return "", false, nil
	}
	return e.token, true, nil
}

func (s *MemoryTokenStore) Set(_ context.Context, instance, token string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[instance] = tokenEntry{token: token, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *MemoryTokenStore) Delete(_ context.Context, instance string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, instance)
	return nil
}

// RedisTokenStore shares session tokens between argolens processes.
type RedisTokenStore struct {
	client *redis.Client
	prefix string
}

func NewRedisTokenStore(client *redis.Client) *RedisTokenStore {
	return &RedisTokenStore{client: client, prefix: "argolens:token:"}
}

func (s *RedisTokenStore) key(instance string) string { return s.prefix + instance }

func (s *RedisTokenStore) Get(ctx context.Context, instance string) (string, bool, error) {
	val, err := s.client.Get(ctx, s.key(instance)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("token cache: get %q: %w", instance, err)
	}
	return val, true, nil
}

func (s *RedisTokenStore) Set(ctx context.Context, instance, token string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := s.client.Set(ctx, s.key(instance), token, ttl).Err(); err != nil {
		return fmt.Errorf("token cache: set %q: %w", instance, err)
	}
	return nil
}

func (s *RedisTokenStore) Delete(ctx context.Context, instance string) error {
	if err := s.client.Del(ctx, s.key(instance)).Err(); err != nil {
		return fmt.Errorf("token cache: delete %q: %w", instance, err)
	}
	return nil
}

// tokenTTL derives how long a session token may be cached from its exp claim.
// Tokens that are not JWTs, or carry no exp, get fallback. Zero means do not cache.
func tokenTTL(token string, fallback time.Duration, now time.Time) time.Duration {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil || claims.ExpiresAt == nil {
		return fallback
	}
	ttl := claims.ExpiresAt.Sub(now) - tokenExpirySkew
	if ttl < 0 {
		return 0
	}
	return ttl
}
