package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jonesrussell/north-cloud/partprice/infrastructure/logger"
)

const scanBatchSize = 100

// Redis is a Cache backed by a shared Redis instance. Every key is stored
// under namespace so prefix removal never touches foreign keys.
type Redis struct {
	client    redis.UniversalClient
	namespace string
	logger    logger.Logger
}

// NewRedis wraps client. namespace is prepended to every key.
func NewRedis(client redis.UniversalClient, namespace string, log logger.Logger) *Redis {
	return &Redis{client: client, namespace: namespace, logger: log}
}

func (r *Redis) key(k string) string {
	return r.namespace + k
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	raw, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return raw, true, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := r.client.Set(ctx, r.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (r *Redis) Remove(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// RemoveByPrefix walks the keyspace with SCAN MATCH and deletes each batch.
// Servers that reject SCAN (some proxies and managed tiers) get a warning
// and no deletion.
func (r *Redis) RemoveByPrefix(ctx context.Context, prefix string) error {
	pattern := escapeGlob(r.key(prefix)) + "*"
	var cursor uint64
	deleted := 0

	for {
		keys, next, err := r.client.Scan(ctx, cursor, pattern, scanBatchSize).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			r.logger.Warn("Prefix removal unsupported by cache backend, skipping",
				logger.String("pattern", pattern),
				logger.Error(err),
			)
			return nil
		}

		if len(keys) > 0 {
			n, delErr := r.client.Del(ctx, keys...).Result()
			if delErr != nil {
				return fmt.Errorf("redis del batch: %w", delErr)
			}
			deleted += int(n)
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	r.logger.Debug("Removed cache keys by prefix",
		logger.String("pattern", pattern),
		logger.Int("keys_deleted", deleted),
	)
	return nil
}

func escapeGlob(s string) string {
	return strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`).Replace(s)
}
