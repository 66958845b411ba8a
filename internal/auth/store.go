package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Tyrowin/agentchat/internal/config"
)

// MemoryTokenStore keeps tokens in process memory. Tokens do not survive a
// restart.
type MemoryTokenStore struct {
	mu     sync.Mutex
	tokens map[string]memoryEntry
	now    func() time.Time
}

type memoryEntry struct {
	username string
	expires  time.Time
}

// NewMemoryTokenStore returns an empty MemoryTokenStore.
func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{tokens: make(map[string]memoryEntry), now: time.Now}
}

func (m *MemoryTokenStore) Save(_ context.Context, token, username string, ttl time.Duration) error {
	e := memoryEntry{username: username}
	if ttl > 0 {
		e.expires = m.now().Add(ttl)
	}
	m.mu.Lock()
	m.tokens[token] = e
	m.mu.Unlock()
	return nil
}

func (m *MemoryTokenStore) Lookup(_ context.Context, token string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.tokens[token]
	if !ok {
		return "", ErrInvalidToken
	}
	if !e.expires.IsZero() && !m.now().Before(e.expires) {
		delete(m.tokens, token)
		return "", ErrInvalidToken
	}
	return e.username, nil
}

func (m *MemoryTokenStore) Delete(_ context.Context, token string) error {
	m.mu.Lock()
	delete(m.tokens, token)
	m.mu.Unlock()
	return nil
}

// RedisTokenStore keeps tokens in Redis so several server instances can
// share sessions.
type RedisTokenStore struct {
	client *redis.Client
	prefix string
}

// NewRedisTokenStore connects to Redis and verifies the connection.
func NewRedisTokenStore(ctx context.Context, cfg config.RedisConfig) (*RedisTokenStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisTokenStore{client: client, prefix: cfg.Prefix}, nil
}

func (r *RedisTokenStore) key(token string) string {
	return r.prefix + ":" + token
}

func (r *RedisTokenStore) Save(ctx context.Context, token, username string, ttl time.Duration) error {
	if err := r.client.Set(ctx, r.key(token), username, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	return nil
}

func (r *RedisTokenStore) Lookup(ctx context.Context, token string) (string, error) {
	username, err := r.client.Get(ctx, r.key(token)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrInvalidToken
		}
		return "", fmt.Errorf("failed to look up token: %w", err)
	}
	return username, nil
}

func (r *RedisTokenStore) Delete(ctx context.Context, token string) error {
	if err := r.client.Del(ctx, r.key(token)).Err(); err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}
	return nil
}

// Close closes the Redis client.
func (r *RedisTokenStore) Close() error {
	return r.client.Close()
}

var (
	_ TokenStore = (*MemoryTokenStore)(nil)
	_ TokenStore = (*RedisTokenStore)(nil)
)
