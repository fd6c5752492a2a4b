package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisCache stores raw prediction values keyed by record hash.
type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisCache accepts either host:port or a redis:// URL.
func NewRedisCache(ctx context.Context, redisURL, password string, ttl time.Duration) (*RedisCache, error) {
	opts := &redis.Options{Addr: redisURL, Password: password}
	if strings.Contains(redisURL, "://") {
		parsed, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		if password != "" {
			parsed.Password = password
		}
		opts = parsed
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return &RedisCache{rdb: rdb, ttl: ttl}, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) (float64, bool, error) {
	val, err := c.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt cache entry %s: %w", key, err)
	}
	return f, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value float64) error {
	return c.rdb.Set(ctx, key, strconv.FormatFloat(value, 'g', -1, 64), c.ttl).Err()
}

func (c *RedisCache) Close() error {
	return c.rdb.Close()
}
