// Package redis caches recent crawl results in Redis.
package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/pagecrawl/internal/crawler"
)

const defaultPrefix = "pagecrawl:result:"

// Config holds connection and expiry settings.
type Config struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
	Prefix   string
}

type client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

// Cache implements crawler.ResultCache with JSON values under hashed keys.
type Cache struct {
	client client
	ttl    time.Duration
	prefix string
}

// New connects to Redis at cfg.Addr.
func New(cfg Config) (*Cache, error) {
	if cfg.Addr == "" {
		return nil, errors.New("cache.addr is required")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewWithClient(rdb, cfg.TTL, cfg.Prefix), nil
}

// NewWithClient wraps an existing client (primarily for testing).
func NewWithClient(c client, ttl time.Duration, prefix string) *Cache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Cache{client: c, ttl: ttl, prefix: prefix}
}

// generateKey hashes key so arbitrary URLs map onto bounded Redis keys.
func (c *Cache) generateKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return c.prefix + hex.EncodeToString(sum[:])
}

// Get returns the cached result for key. A miss is (zero, false, nil).
func (c *Cache) Get(ctx context.Context, key string) (crawler.CrawlResult, bool, error) {
	raw, err := c.client.Get(ctx, c.generateKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return crawler.CrawlResult{}, false, nil
	}
	if err != nil {
		return crawler.CrawlResult{}, false, fmt.Errorf("redis get: %w", err)
	}
	var result crawler.CrawlResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return crawler.CrawlResult{}, false, fmt.Errorf("decode cached result: %w", err)
	}
	return result, true, nil
}

// Set stores result under key for the configured TTL.
func (c *Cache) Set(ctx context.Context, key string, result crawler.CrawlResult) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	if err := c.client.Set(ctx, c.generateKey(key), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (c *Cache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Close releases the client.
func (c *Cache) Close() error {
	if err := c.client.Close(); err != nil {
		return fmt.Errorf("close redis: %w", err)
	}
	return nil
}
