// Package guard rejects repeated bulk submissions carrying the same request id.
package guard

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "stockledger:submission:"

type Guard interface {
	// Claim returns false when key was already claimed within the TTL.
	Claim(ctx context.Context, key string) (bool, error)
	// Release drops a claim so a failed submission can be retried.
	Release(ctx context.Context, key string) error
}

type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

func (r *Redis) Claim(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, keyPrefix+key, 1, r.ttl).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}

func (r *Redis) Release(ctx context.Context, key string) error {
	return r.client.Del(ctx, keyPrefix+key).Err()
}

type Memory struct {
	mu     sync.Mutex
	ttl    time.Duration
	now    func() time.Time
	claims map[string]time.Time
}

func NewMemory(ttl time.Duration) *Memory {
	return &Memory{ttl: ttl, now: time.Now, claims: make(map[string]time.Time)}
}

func (m *Memory) Claim(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if expires, ok := m.claims[key]; ok && now.Before(expires) {
		return false, nil
	}
	m.claims[key] = now.Add(m.ttl)
	return true, nil
}

func (m *Memory) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.claims, key)
	return nil
}
