package integration

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/seu-repo/ocpp-bridge/internal/adapter/cache"
)

// TestRedis_BasicOperations tests basic Redis operations
func TestRedis_BasicOperations(t *testing.T) {
	env := SetupTestEnvironment(t)
	if env == nil || env.Redis == nil {
		t.Skip("Redis not available")
	}

	FlushRedis(t, env.Redis)
	ctx := context.Background()

	t.Run("SetGet", func(t *testing.T) {
		err := env.Redis.Set(ctx, "test:key", "test-value", time.Minute).Err()
		if err != nil {
			t.Fatalf("Failed to set key: %v", err)
		}

		val, err := env.Redis.Get(ctx, "test:key").Result()
		if err != nil {
			t.Fatalf("Failed to get key: %v", err)
		}
		if val != "test-value" {
			t.Errorf("Expected 'test-value', got '%s'", val)
		}
	})

	t.Run("SetWithExpiration", func(t *testing.T) {
		err := env.Redis.Set(ctx, "test:expiring", "value", 100*time.Millisecond).Err()
		if err != nil {
			t.Fatalf("Failed to set key: %v", err)
		}

		time.Sleep(150 * time.Millisecond)

		_, err = env.Redis.Get(ctx, "test:expiring").Result()
		if err != redis.Nil {
			t.Error("Key should have expired")
		}
	})

	t.Run("Delete", func(t *testing.T) {
		env.Redis.Set(ctx, "test:delete", "value", time.Minute)

		if err := env.Redis.Del(ctx, "test:delete").Err(); err != nil {
			t.Fatalf("Failed to delete key: %v", err)
		}
		if _, err := env.Redis.Get(ctx, "test:delete").Result(); err != redis.Nil {
			t.Error("Key should have been deleted")
		}
	})
}

// TestRedis_CacheAdapter drives the cache adapter the charger service uses.
func TestRedis_CacheAdapter(t *testing.T) {
	env := SetupTestEnvironment(t)
	if env == nil || env.Redis == nil {
		t.Skip("Redis not available")
	}
	FlushRedis(t, env.Redis)

	c, err := cache.NewRedisCache(env.RedisURL, env.Logger)
	if err != nil {
		t.Fatalf("NewRedisCache failed: %v", err)
	}
	defer c.Close()

	ctx := context.Background()

	t.Run("Ping", func(t *testing.T) {
		if err := c.Ping(); err != nil {
			t.Fatalf("Ping failed: %v", err)
		}
	})

	t.Run("RoundTrip", func(t *testing.T) {
		if err := c.Set(ctx, "chargers:list", `[{"id":"CP001"}]`, 5*time.Second); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		val, err := c.Get(ctx, "chargers:list")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if val != `[{"id":"CP001"}]` {
			t.Errorf("Get returned %q", val)
		}
	})

	t.Run("DeleteThenMiss", func(t *testing.T) {
		c.Set(ctx, "test:gone", "x", time.Minute)
		if err := c.Delete(ctx, "test:gone"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if _, err := c.Get(ctx, "test:gone"); err == nil {
			t.Error("Get after Delete succeeded, want miss")
		}
	})

	t.Run("TTLExpires", func(t *testing.T) {
		if err := c.Set(ctx, "test:ttl", "x", 100*time.Millisecond); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		time.Sleep(150 * time.Millisecond)
		if _, err := c.Get(ctx, "test:ttl"); err == nil {
			t.Error("Get after TTL succeeded, want miss")
		}
	})
}
