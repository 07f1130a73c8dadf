// Package cache provides the short-lived key store used to deduplicate
// webhook side effects across redeliveries.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "dedup:"

// IdempotencyStore records claims on dedup keys. Claim reports true only for
// the first caller of a live key.
type IdempotencyStore interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
	Close() error
}

type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(addr string, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

func (r *RedisStore) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, keyPrefix+key, time.Now().UTC().Format(time.RFC3339), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim dedup key: %w", err)
	}
	return ok, nil
}

func (r *RedisStore) Release(ctx context.Context, key string) error {
	return r.client.Del(ctx, keyPrefix+key).Err()
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

// MemoryStore is the single-process fallback used when no Redis address is set.
type MemoryStore struct {
	data map[string]time.Time
	mu   chan struct{}
	now  func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]time.Time),
		mu:   make(chan struct{}, 1),
		now:  time.Now,
	}
}

func (m *MemoryStore) lock() {
	m.mu <- struct{}{}
}

func (m *MemoryStore) unlock() {
	<-m.mu
}

func (m *MemoryStore) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	m.lock()
	defer m.unlock()

	now := m.now()
	if expiresAt, exists := m.data[key]; exists && now.Before(expiresAt) {
		return false, nil
	}
	m.data[key] = now.Add(ttl)
	m.sweep(now)
	return true, nil
}

func (m *MemoryStore) Release(ctx context.Context, key string) error {
	m.lock()
	defer m.unlock()

	delete(m.data, key)
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}

// sweep drops expired keys. Caller holds the lock.
func (m *MemoryStore) sweep(now time.Time) {
	for k, expiresAt := range m.data {
		if !now.Before(expiresAt) {
			delete(m.data, k)
		}
	}
}

// New picks the Redis store when addr is set and the in-memory store otherwise.
func New(addr, password string, db int) (IdempotencyStore, error) {
	if addr == "" {
		return NewMemoryStore(), nil
	}
	return NewRedisStore(addr, password, db)
}
