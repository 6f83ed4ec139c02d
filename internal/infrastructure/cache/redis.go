// Package cache provides the redis client and the cross-process worker wake
// channel. In single-process deployments the worker falls back to its
// in-process wake channel and redis is optional.
package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/smilemakc/flowforge/internal/infrastructure/logger"
)

// wakeChannel is the pub/sub channel signal ingress publishes to.
const wakeChannel = "flowforge:wake"

// Config holds redis connection settings.
type Config struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

// RedisCache wraps the redis client used for worker wake notifications.
type RedisCache struct {
	client *redis.Client
	log    *logger.Logger
}

// New connects a redis cache. Addr comes from cfg.URL ("host:port").
func New(cfg Config, log *logger.Logger) *RedisCache {
	if log == nil {
		log = logger.Nop()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.URL,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
	return &RedisCache{client: client, log: log}
}

// NewFromClient wraps an existing client (tests use miniredis).
func NewFromClient(client *redis.Client, log *logger.Logger) *RedisCache {
	if log == nil {
		log = logger.Nop()
	}
	return &RedisCache{client: client, log: log}
}

// Ping checks connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// PublishWake nudges every subscribed worker.
func (c *RedisCache) PublishWake(ctx context.Context) {
	if err := c.client.Publish(ctx, wakeChannel, "1").Err(); err != nil {
		c.log.Warn("failed to publish worker wake", "error", err)
	}
}

// SubscribeWake delivers a tick on the returned channel for every wake
// published by any process. The subscription ends with ctx.
func (c *RedisCache) SubscribeWake(ctx context.Context) <-chan struct{} {
	out := make(chan struct{}, 1)
	sub := c.client.Subscribe(ctx, wakeChannel)

	go func() {
		defer close(out)
		defer func() { _ = sub.Close() }()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- struct{}{}:
				default: // a pending tick already covers this wake
				}
			}
		}
	}()
	return out
}

// SetNX implements a small cross-process mutex with expiry; used by
// deployments that pin schedule firing to one process.
func (c *RedisCache) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return c.client.SetNX(ctx, key, value, ttl).Result()
}
