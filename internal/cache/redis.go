// Package cache holds the shared Redis client used for price and metric
// cache-aside reads.
package cache

import (
	"context"
	"log"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultAddr = "localhost:6379"

// Client is the process-wide Redis client, set by InitRedis.
var Client *redis.Client

// Seams for tests.
var (
	parseRedisURL  = redis.ParseURL
	newRedisClient = func(opts *redis.Options) *redis.Client {
		return redis.NewClient(opts)
	}
	pingRedis = func(ctx context.Context, client *redis.Client) error {
		return client.Ping(ctx).Err()
	}
)

// InitRedis connects using REDIS_URL, which may be a bare host:port or a
// redis:// URL. The process exits if the initial ping fails.
func InitRedis(ctx context.Context) {
	addr := strings.TrimSpace(os.Getenv("REDIS_URL"))
	if addr == "" {
		addr = defaultAddr
	}

	var opts *redis.Options
	if strings.Contains(addr, "://") {
		parsed, err := parseRedisURL(addr)
		if err != nil {
			log.Fatalf("failed to parse REDIS_URL: %v", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: addr}
	}

	Client = newRedisClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pingRedis(pingCtx, Client); err != nil {
		log.Fatalf("failed to connect to Redis at %s: %v", opts.Addr, err)
	}
	log.Printf("Connected to Redis at %s", opts.Addr)
}
