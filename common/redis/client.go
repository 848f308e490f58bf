package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// Client wraps redis.Client with the set operations the review workflow
// needs (per-user unread-comment tracking).
type Client struct {
	redis  *redis.Client
	logger Logger
}

// NewClient creates a new Redis client wrapper
func NewClient(redisClient *redis.Client, logger Logger) *Client {
	return &Client{
		redis:  redisClient,
		logger: logger,
	}
}

// GetUnderlying returns the underlying redis.Client for advanced operations
func (c *Client) GetUnderlying() *redis.Client {
	return c.redis
}

// SetAdd adds members to a set
func (c *Client) SetAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	if err := c.redis.SAdd(ctx, key, args...).Err(); err != nil {
		c.logger.Error("redis SADD failed", "key", key, "error", err)
		return fmt.Errorf("failed to add to set %s: %w", key, err)
	}
	c.logger.Debug("redis SADD", "key", key, "members", len(members))
	return nil
}

// SetMembers returns all members of a set
func (c *Client) SetMembers(ctx context.Context, key string) ([]string, error) {
	members, err := c.redis.SMembers(ctx, key).Result()
	if err != nil {
		c.logger.Error("redis SMEMBERS failed", "key", key, "error", err)
		return nil, fmt.Errorf("failed to read set %s: %w", key, err)
	}
	return members, nil
}

// SetRemove removes members from a set
func (c *Client) SetRemove(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	if err := c.redis.SRem(ctx, key, args...).Err(); err != nil {
		c.logger.Error("redis SREM failed", "key", key, "error", err)
		return fmt.Errorf("failed to remove from set %s: %w", key, err)
	}
	return nil
}

// Delete removes keys entirely
func (c *Client) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := c.redis.Del(ctx, keys...).Err(); err != nil {
		c.logger.Error("redis DEL failed", "keys", keys, "error", err)
		return fmt.Errorf("failed to delete keys: %w", err)
	}
	return nil
}

// Health pings the Redis server
func (c *Client) Health(ctx context.Context) error {
	if err := c.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}
