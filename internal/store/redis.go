package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/2025tf20/KTB-LoadTest-team-20/internal/metrics"
)

// RedisStore is the Redis-backed KV shared across nodes.
type RedisStore struct {
	client *redis.Client
}

var _ KV = (*RedisStore)(nil)

// NewRedisStore creates a new Redis store.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

// Client exposes the underlying client for pub/sub and middleware.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func observe(start time.Time) {
	metrics.RedisLatency.Observe(time.Since(start).Seconds())
}

// Get decodes the value at key into dst. It reports false when the key is absent.
func (s *RedisStore) Get(ctx context.Context, key string, dst any) (bool, error) {
	defer observe(time.Now())

	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// Set stores value at key. A nil value deletes the key. ttl of zero means no expiry.
func (s *RedisStore) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if isNil(value) {
		return s.Delete(ctx, key)
	}
	defer observe(time.Now())

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	defer observe(time.Now())

	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// Size returns the number of keys in the current database.
func (s *RedisStore) Size(ctx context.Context) (int64, error) {
	defer observe(time.Now())
	return s.client.DBSize(ctx).Result()
}

// Incr atomically increments the counter at key and (re)arms its expiry.
func (s *RedisStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	defer observe(time.Now())

	var incr *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		if ttl > 0 {
			pipe.Expire(ctx, key, ttl)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("redis incr %s: %w", key, err)
	}
	return incr.Val(), nil
}

const maxUpdateAttempts = 5

// Update is an optimistic read-modify-write guarded by WATCH.
func (s *RedisStore) Update(ctx context.Context, key string, dst any, ttl time.Duration, fn func(found bool) (bool, error)) error {
	defer observe(time.Now())

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		found := err == nil
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("redis get %s: %w", key, err)
		}
		if found {
			if err := json.Unmarshal(data, dst); err != nil {
				return fmt.Errorf("decode %s: %w", key, err)
			}
		}

		write, err := fn(found)
		if err != nil || !write {
			return err
		}

		out, err := json.Marshal(dst)
		if err != nil {
			return fmt.Errorf("encode %s: %w", key, err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, ttl)
			return nil
		})
		return err
	}

	for i := 0; i < maxUpdateAttempts; i++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("redis update %s: %w", key, ErrConflict)
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
