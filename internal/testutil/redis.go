package testutil

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultTestRedisDB = 9

// TestRedisAddr returns REDIS_ADDR when set, otherwise the docker-compose test
// profile address.
func TestRedisAddr() string {
	return getEnvOrDefault("REDIS_ADDR", "localhost:56379")
}

// SetupTestRedis returns a client on an emptied test database (TEST_REDIS_DB,
// default 9). The test is skipped when Redis is unreachable.
func SetupTestRedis(t TestingTB) *redis.Client {
	t.Helper()

	dbIndex := defaultTestRedisDB
	if v := os.Getenv("TEST_REDIS_DB"); v != "" {
		if i, err := strconv.Atoi(v); err == nil && i >= 0 {
			dbIndex = i
		} else {
			t.Logf("invalid TEST_REDIS_DB=%q, using %d", v, defaultTestRedisDB)
		}
	}

	addr := TestRedisAddr()
	client := redis.NewClient(&redis.Options{Addr: addr, DB: dbIndex})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		closeAndLog(t, "redis client", client)
		if requireRedis() {
			t.Fatalf("redis not available for testing at %s: %v", addr, err)
		}
		t.Skip("redis not available for testing at "+addr+":", err)
	}
	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Logf("warning: flush test redis db %d: %v", dbIndex, err)
	}
	t.Cleanup(func() { closeAndLog(t, "redis client", client) })
	return client
}
