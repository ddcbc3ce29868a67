// Package redis wraps the shared Redis connection used by the link cache.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Config holds the Redis connection settings.
type Config struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Client wraps go-redis with logging on failures. The zero values of the
// go-redis options (timeouts, pool sizing) are deliberately kept.
type Client struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// NewClient connects and verifies the connection with a ping.
func NewClient(cfg *Config, logger *zap.Logger) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	client := &Client{rdb: rdb, logger: logger}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Debug("Redis client connected",
		zap.String("addr", cfg.Addr),
		zap.Int("db", cfg.DB))
	return client, nil
}

// NewClientFromRDB wraps an existing go-redis client. Used by tests to
// point the wrapper at a miniredis instance.
func NewClientFromRDB(rdb *redis.Client, logger *zap.Logger) *Client {
	return &Client{rdb: rdb, logger: logger}
}

func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		c.logger.Error("Redis ping failed", zap.Error(err))
		return err
	}
	return nil
}

// Get returns the value, or ("", false) when the key does not exist.
func (c *Client) Get(ctx context.Context, key string) (string, bool, error) {
	result, err := c.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		c.logger.Error("Redis GET failed", zap.String("key", key), zap.Error(err))
		return "", false, fmt.Errorf("redis get failed: %w", err)
	}
	return result, true, nil
}

func (c *Client) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if err := c.rdb.Set(ctx, key, value, expiration).Err(); err != nil {
		c.logger.Error("Redis SET failed",
			zap.String("key", key),
			zap.Duration("expiration", expiration),
			zap.Error(err))
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (c *Client) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		c.logger.Error("Redis DEL failed", zap.Strings("keys", keys), zap.Error(err))
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}

func (c *Client) Close() error {
	return c.rdb.Close()
}
