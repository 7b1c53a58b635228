package middleware

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
)

// redisForTest connects to a local Redis and skips when none is running.
// Keys written through the returned prefix are removed after the test.
func redisForTest(t *testing.T) (*redis.Client, string) {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Skip("Redis not available, skipping integration test")
	}

	prefix := fmt.Sprintf("nearby-test-%d-", time.Now().UnixNano())
	t.Cleanup(func() {
		ctx := context.Background()
		keys, _ := client.Keys(ctx, "ratelimit:"+prefix+"*").Result()
		if len(keys) > 0 {
			client.Del(ctx, keys...)
		}
		_ = client.Close()
	})
	return client, prefix
}

func TestRedisRateLimitStore_SearchLimit(t *testing.T) {
	client, prefix := redisForTest(t)
	store := NewRedisRateLimitStore(client)
	cfg := RateLimitConfig{RequestsPerWindow: 3, WindowDuration: time.Minute}
	ctx := context.Background()
	key := prefix + "viewer:ada@search"

	for i := 0; i < 3; i++ {
		allowed, remaining, _ := store.Allow(ctx, key, cfg)
		if !allowed || remaining != 2-i {
			t.Fatalf("request %d: allowed=%v remaining=%d", i+1, allowed, remaining)
		}
	}

	allowed, remaining, retryAfter := store.Allow(ctx, key, cfg)
	if allowed || remaining != 0 {
		t.Errorf("fourth request: allowed=%v remaining=%d", allowed, remaining)
	}
	if retryAfter < 1 || retryAfter > 60 {
		t.Errorf("retryAfter = %d, want 1..60", retryAfter)
	}

	if allowed, _, _ := store.Allow(ctx, prefix+"viewer:ada", cfg); !allowed {
		t.Error("feed bucket affected by search requests")
	}
	if allowed, _, _ := store.Allow(ctx, prefix+"viewer:grace@search", cfg); !allowed {
		t.Error("another viewer affected by ada's requests")
	}
}

func TestRedisRateLimitStore_WindowExpiry(t *testing.T) {
	client, prefix := redisForTest(t)
	store := NewRedisRateLimitStore(client)
	cfg := RateLimitConfig{RequestsPerWindow: 1, WindowDuration: 100 * time.Millisecond}
	ctx := context.Background()
	key := prefix + "ip:10.0.0.1"

	if allowed, _, _ := store.Allow(ctx, key, cfg); !allowed {
		t.Fatal("first request refused")
	}
	if allowed, _, _ := store.Allow(ctx, key, cfg); allowed {
		t.Fatal("second request allowed inside the window")
	}

	time.Sleep(150 * time.Millisecond)
	if allowed, _, _ := store.Allow(ctx, key, cfg); !allowed {
		t.Error("request after window expiry refused")
	}
}

func TestRedisRateLimitStore_FailOpen(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:9999", DialTimeout: 100 * time.Millisecond})
	defer client.Close()

	metrics := NewMetrics()
	store := NewRedisRateLimitStore(client).WithMetrics(metrics)
	cfg := RateLimitConfig{RequestsPerWindow: 5, WindowDuration: time.Minute}

	for i := 0; i < 2; i++ {
		allowed, remaining, _ := store.Allow(context.Background(), "viewer:ada", cfg)
		if !allowed || remaining != cfg.RequestsPerWindow {
			t.Errorf("unreachable Redis: allowed=%v remaining=%d", allowed, remaining)
		}
	}
	if got := testutil.ToFloat64(metrics.rateLimitRedisErrors); got != 2 {
		t.Errorf("redis error count = %v, want 2", got)
	}
}
