package settings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "pipesync"

// RedisStore keeps settings in one Redis hash, shared by every client that
// uses the same prefix.
type RedisStore struct {
	client *redis.Client
	key    string
}

var _ Store = (*RedisStore)(nil)

// OpenRedis connects to addr, which is either host:port or a redis:// URL.
func OpenRedis(ctx context.Context, addr, prefix string) (*RedisStore, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	opts := &redis.Options{Addr: addr, DialTimeout: 2 * time.Second}
	if strings.Contains(addr, "://") {
		parsed, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opts = parsed
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", addr, err)
	}
	return newRedisStore(client, prefix), nil
}

func newRedisStore(client *redis.Client, prefix string) *RedisStore {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{client: client, key: prefix + ":settings"}
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	key, err := normalizeKey(key)
	if err != nil {
		return "", err
	}
	value, err := s.client.HGet(ctx, s.key, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", fmt.Errorf("%w: %q", ErrNotFound, key)
		}
		return "", fmt.Errorf("get setting %q: %w", key, err)
	}
	return value, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	key, err := normalizeKey(key)
	if err != nil {
		return err
	}
	if err := s.client.HSet(ctx, s.key, key, value).Err(); err != nil {
		return fmt.Errorf("set setting %q: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	key, err := normalizeKey(key)
	if err != nil {
		return err
	}
	n, err := s.client.HDel(ctx, s.key, key).Result()
	if err != nil {
		return fmt.Errorf("delete setting %q: %w", key, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %q", ErrNotFound, key)
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context) (map[string]string, error) {
	out, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	return out, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
