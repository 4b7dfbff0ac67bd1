package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

const defaultRedisTestAddr = "localhost:6380"

// GetRedisTestAddr returns TEST_REDIS_ADDR or the docker-compose default.
func GetRedisTestAddr() string {
	return envOr("TEST_REDIS_ADDR", defaultRedisTestAddr)
}

// SetupRedis connects to the test Redis, skipping the test when it is unreachable,
// and flushes the selected database. The client is closed on test cleanup.
func SetupRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{Addr: GetRedisTestAddr(), DB: 0})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Skipf("Redis not available: %v", err)
	}

	require.NoError(t, client.FlushDB(ctx).Err(), "failed to flush redis")
	t.Cleanup(func() { _ = client.Close() })

	return client
}
