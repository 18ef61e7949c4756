package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/heathcliff26/buildhook/pkg/config"
)

// RedisStore keeps every partition in a redis list.
// New entries are added with LPUSH and taken with RPOP, the list head is the oldest entry.
type RedisStore struct {
	rdb *redis.Client
}

// Connect to redis and verify the connection
func NewRedisStore(ctx context.Context, cfg config.RedisConfig) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	err := rdb.Ping(ctx).Err()
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	return NewRedisStoreFromClient(rdb), nil
}

func NewRedisStoreFromClient(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) Push(ctx context.Context, key string, data []byte) (int64, error) {
	return s.rdb.LPush(ctx, key, data).Result()
}

func (s *RedisStore) Pop(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := s.rdb.RPop(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (s *RedisStore) Len(ctx context.Context, key string) (int64, error) {
	return s.rdb.LLen(ctx, key).Result()
}

// Remove scans the list and deletes matching entries by value.
// Identical entries are removed together.
func (s *RedisStore) Remove(ctx context.Context, key string, match func([]byte) bool) (int, error) {
	entries, err := s.rdb.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, entry := range entries {
		if !match([]byte(entry)) {
			continue
		}
		n, err := s.rdb.LRem(ctx, key, 1, entry).Result()
		if err != nil {
			return removed, err
		}
		removed += int(n)
	}
	return removed, nil
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
