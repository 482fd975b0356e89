package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Compile-time interface check.
var _ KV = (*RedisKV)(nil)

// RedisKV implements KV on Redis strings. All keys are namespaced under a
// fixed prefix so several deployments can share one database.
type RedisKV struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisKV connects to Redis and pings it.
func NewRedisKV(ctx context.Context, addr, password string, db int, namespace string) (*RedisKV, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisKV{rdb: rdb, prefix: namespace}, nil
}

// Close closes the Redis client.
func (r *RedisKV) Close() error {
	return r.rdb.Close()
}

// Get implements KV.
func (r *RedisKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := r.rdb.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return b, true, nil
}

// Set implements KV.
func (r *RedisKV) Set(ctx context.Context, key string, value []byte) error {
	if err := r.rdb.Set(ctx, r.prefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Delete implements KV.
func (r *RedisKV) Delete(ctx context.Context, key string) error {
	if err := r.rdb.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// Keys implements KV using SCAN so large keyspaces do not block the server.
func (r *RedisKV) Keys(ctx context.Context, prefix string) ([]string, error) {
	pattern := globEscape(r.prefix+prefix) + "*"
	var keys []string
	iter := r.rdb.Scan(ctx, 0, pattern, 256).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), r.prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan %q: %w", prefix, err)
	}
	sort.Strings(keys)
	return keys, nil
}

func globEscape(s string) string {
	var b strings.Builder
	for _, c := range s {
		switch c {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(c)
	}
	return b.String()
}
