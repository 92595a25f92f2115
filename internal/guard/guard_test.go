package guard

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func TestMemoryClaimOnce(t *testing.T) {
	ctx := context.Background()
	g := NewMemory(time.Minute)

	ok, err := g.Claim(ctx, "req-1")
	if err != nil || !ok {
		t.Fatalf("expected first claim to succeed, got %v %v", ok, err)
	}
	ok, _ = g.Claim(ctx, "req-1")
	if ok {
		t.Fatal("expected second claim to fail")
	}

	if err := g.Release(ctx, "req-1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	ok, _ = g.Claim(ctx, "req-1")
	if !ok {
		t.Fatal("expected claim after release to succeed")
	}
}

func TestMemoryClaimExpires(t *testing.T) {
	ctx := context.Background()
	g := NewMemory(time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return now }

	if ok, _ := g.Claim(ctx, "req-2"); !ok {
		t.Fatal("expected first claim to succeed")
	}
	now = now.Add(2 * time.Minute)
	if ok, _ := g.Claim(ctx, "req-2"); !ok {
		t.Fatal("expected claim to succeed after ttl")
	}
}

func getRedisClient(t *testing.T) *redis.Client {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	return client
}

func TestRedisClaimOnce(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	g := NewRedis(client, time.Minute)
	key := uuid.NewString()
	defer g.Release(ctx, key)

	ok, err := g.Claim(ctx, key)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected first claim to succeed")
	}

	ok, err = g.Claim(ctx, key)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected duplicate claim to fail")
	}
}
