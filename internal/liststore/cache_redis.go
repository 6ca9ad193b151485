package liststore

import (
	"context"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/d60-Lab/duowatch/pkg/logger"
)

// RedisCache keeps entries in Redis as JSON. The idle TTL is the key expiry
// and is refreshed on every read, so an entry nobody reads disappears.
type RedisCache struct {
	client *redis.Client
	idle   time.Duration
	prefix string
}

func NewRedisCache(client *redis.Client, idle time.Duration) *RedisCache {
	return &RedisCache{client: client, idle: idle, prefix: "duowatch:list"}
}

func (c *RedisCache) key(k Key) string {
	return fmt.Sprintf("%s:%s:%s", c.prefix, k.UID, k.Kind)
}

func (c *RedisCache) Get(ctx context.Context, k Key) (*Entry, bool) {
	data, err := c.client.GetEx(ctx, c.key(k), c.idle).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.Warn("list cache get failed", zap.String("key", k.String()), zap.Error(err))
		}
		return nil, false
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		logger.Warn("list cache entry corrupt", zap.String("key", k.String()), zap.Error(err))
		_ = c.client.Del(ctx, c.key(k)).Err()
		return nil, false
	}
	return &e, true
}

func (c *RedisCache) Set(ctx context.Context, k Key, e *Entry) {
	payload, err := json.Marshal(e)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, c.key(k), payload, c.idle).Err(); err != nil {
		logger.Warn("list cache set failed", zap.String("key", k.String()), zap.Error(err))
	}
}

func (c *RedisCache) Delete(ctx context.Context, k Key) {
	if err := c.client.Del(ctx, c.key(k)).Err(); err != nil {
		logger.Warn("list cache delete failed", zap.String("key", k.String()), zap.Error(err))
	}
}
