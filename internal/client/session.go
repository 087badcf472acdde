package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"instaq/internal/users"
)

// Cache is the key-value storage a Session persists into.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// MemoryCache keeps values for the life of the process.
type MemoryCache struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{values: make(map[string]string)}
}

func (m *MemoryCache) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *MemoryCache) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *MemoryCache) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

// RedisCache stores session values under a key prefix, so several CLI
// processes on one host can share a login.
type RedisCache struct {
	client *redis.Client
	prefix string
}

func NewRedisCache(client *redis.Client, prefix string) *RedisCache {
	if prefix == "" {
		prefix = "instaq:session:"
	}
	return &RedisCache{client: client, prefix: prefix}
}

func (r *RedisCache) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.client.Get(ctx, r.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (r *RedisCache) Set(ctx context.Context, key, value string) error {
	return r.client.Set(ctx, r.prefix+key, value, 0).Err()
}

func (r *RedisCache) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.prefix+key).Err()
}

const (
	keyToken   = "token"
	keyRefresh = "refreshToken"
	keyUser    = "user"
)

// Session holds the signed-in user's tokens and cached profile.
type Session struct {
	cache Cache
}

func NewSession(cache Cache) *Session {
	if cache == nil {
		cache = NewMemoryCache()
	}
	return &Session{cache: cache}
}

// Save stores a fresh login.
func (s *Session) Save(ctx context.Context, token, refreshToken string, u users.User) error {
	if err := s.cache.Set(ctx, keyToken, token); err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	if err := s.cache.Set(ctx, keyRefresh, refreshToken); err != nil {
		return fmt.Errorf("save refresh token: %w", err)
	}
	return s.SaveProfile(ctx, u)
}

// SaveProfile replaces the cached profile.
func (s *Session) SaveProfile(ctx context.Context, u users.User) error {
	raw, err := json.Marshal(u)
	if err != nil {
		return err
	}
	if err := s.cache.Set(ctx, keyUser, string(raw)); err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	return nil
}

// Token returns the access token, or "" when signed out.
func (s *Session) Token(ctx context.Context) (string, error) {
	v, _, err := s.cache.Get(ctx, keyToken)
	return v, err
}

func (s *Session) RefreshToken(ctx context.Context) (string, error) {
	v, _, err := s.cache.Get(ctx, keyRefresh)
	return v, err
}

// Profile returns the cached user, if any.
func (s *Session) Profile(ctx context.Context) (users.User, bool, error) {
	raw, ok, err := s.cache.Get(ctx, keyUser)
	if err != nil || !ok {
		return users.User{}, false, err
	}
	var u users.User
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		return users.User{}, false, fmt.Errorf("decode cached profile: %w", err)
	}
	return u, true, nil
}

// Authenticated reports whether an access token is stored.
func (s *Session) Authenticated(ctx context.Context) bool {
	token, err := s.Token(ctx)
	return err == nil && token != ""
}

// Clear signs the session out.
func (s *Session) Clear(ctx context.Context) error {
	var errs []error
	for _, key := range []string{keyToken, keyRefresh, keyUser} {
		if err := s.cache.Delete(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
