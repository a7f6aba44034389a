package argocd

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryTokenStore(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	s := NewMemoryTokenStore()
	s.now = func() time.Time { return clock }

	_, ok, err := s.Get(ctx, "main")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "main", "tok", time.Minute))
	tok, ok, _ := s.Get(ctx, "main")
	assert.True(t, ok)
	assert.Equal(t, "tok", tok)

	clock = clock.Add(time.Minute)
	_, ok, _ = s.Get(ctx, "main")
	assert.False(t, ok, "expired entries are dropped")

	require.NoError(t, s.Set(ctx, "main", "never", 0))
	_, ok, _ = s.Get(ctx, "main")
	assert.False(t, ok, "zero ttl is not cached")

	require.NoError(t, s.Set(ctx, "main", "tok", time.Hour))
	require.NoError(t, s.Delete(ctx, "main"))
	_, ok, _ = s.Get(ctx, "main")
	assert.False(t, ok)
}

func TestRedisTokenStore(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	s := NewRedisTokenStore(client)

	_, ok, err := s.Get(ctx, "main")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "main", "tok", time.Minute))
	assert.True(t, mr.Exists("argolens:token:main"))
	tok, ok, err := s.Get(ctx, "main")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "tok", tok)

	mr.FastForward(2 * time.Minute)
	_, ok, err = s.Get(ctx, "main")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "main", "tok", time.Hour))
	require.NoError(t, s.Delete(ctx, "main"))
	assert.False(t, mr.Exists("argolens:token:main"))
}

func TestRedisTokenStoreSharesLogins(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	m, inst := newMockInstance(t, "main")
	first := newService([]Instance{inst}, NewRedisTokenStore(client))
	second := newService([]Instance{inst}, NewRedisTokenStore(client))

	_, err := first.ListApplications(context.Background(), "main", ListOptions{})
	require.NoError(t, err)
	_, err = second.ListApplications(context.Background(), "main", ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, m.Logins())
}

func signed(t *testing.T, claims jwt.RegisteredClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("k"))
	require.NoError(t, err)
	return s
}

func TestTokenTTL(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	fallback := 15 * time.Minute

	tests := []struct {
		name  string
		token string
		want  time.Duration
	}{
		{"exp in an hour", signed(t, jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour))}), time.Hour - tokenExpirySkew},
		{"no exp", signed(t, jwt.RegisteredClaims{Subject: "admin"}), fallback},
		{"expired", signed(t, jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(now.Add(-time.Minute))}), 0},
		{"inside skew", signed(t, jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(now.Add(10 * time.Second))}), 0},
		{"opaque", "not-a-jwt", fallback},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tokenTTL(tt.token, fallback, now))
		})
	}
}
