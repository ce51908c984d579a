package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/greendrake/hlsstream/metrics"
	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

// RedisCache keeps the marker mapping in Redis instead of a native server.
// Values are stored msgpack encoded, the same as on the native wire.
type RedisCache struct {
	rdb     *redis.Client
	timeout time.Duration
}

func NewRedisCache(ctx context.Context, addr, secret string) (*RedisCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        addr,
		Password:    secret,
		DialTimeout: DialTimeout,
	})
	pingCtx, cancel := context.WithTimeout(ctx, DialTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return &RedisCache{rdb: rdb, timeout: RequestTimeout}, nil
}

func (r *RedisCache) Set(key string, value any) error {
	b, err := msgpack.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	err = r.rdb.Set(ctx, key, b, 0).Err()
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	metrics.CacheResult("update", err)
	return err
}

func (r *RedisCache) Get(key string, out any) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	b, err := r.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.CacheResult("get", nil)
		return false, nil
	}
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrUnavailable, err)
		metrics.CacheResult("get", err)
		return false, err
	}
	metrics.CacheResult("get", nil)
	if err := msgpack.Unmarshal(b, out); err != nil {
		return true, fmt.Errorf("decode %q: %w", key, err)
	}
	return true, nil
}

func (r *RedisCache) Close() error {
	return r.rdb.Close()
}
