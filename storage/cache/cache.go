// Package rediscache keeps JSON encoded values in Redis.
package rediscache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"

	"github.com/trezcool/phqcare/core"
	"github.com/trezcool/phqcare/core/analytics"
)

type Cache struct {
	client *redis.Client
	prefix string
}

var _ analytics.Cache = (*Cache)(nil)

// NewClient returns the Redis client of the configuration, or nil when no address is set.
func NewClient(conf *core.Config) *redis.Client {
	if conf.Redis.Addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     conf.Redis.Addr,
		Password: conf.Redis.Password,
		DB:       conf.Redis.DB,
	})
}

// New returns a cache prefixing every key with `prefix`.
func New(client *redis.Client, prefix string) *Cache {
	return &Cache{client: client, prefix: prefix}
}

func (c *Cache) key(k string) string { return c.prefix + k }

func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *Cache) Get(ctx context.Context, key string, dst interface{}) (bool, error) {
	b, err := c.client.Get(ctx, c.key(key)).Bytes()
	if err == redis.Nil {
		return false, nil
	} else if err != nil {
		return false, errors.Wrap(err, "redis get")
	}
	if err := json.Unmarshal(b, dst); err != nil {
		// unreadable entries count as misses and get overwritten
		return false, nil
	}
	return true, nil
}

func (c *Cache) Set(ctx context.Context, key string, val interface{}, ttl time.Duration) error {
	b, err := json.Marshal(val)
	if err != nil {
		return errors.Wrap(err, "encoding cache value")
	}
	return errors.Wrap(c.client.Set(ctx, c.key(key), b, ttl).Err(), "redis set")
}

func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.key(k)
	}
	return errors.Wrap(c.client.Del(ctx, full...).Err(), "redis del")
}
