package expiringstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/eko/gocache/lib/v4/cache"
	"github.com/eko/gocache/lib/v4/store"
	redisstore "github.com/eko/gocache/store/redis/v4"
	"github.com/redis/go-redis/v9"
)

const redisBatchSize = 500

// RedisStore keeps every entry as a JSON string under "<namespace>:<key>"
// and lets Redis enforce the per-key TTL. Single-key operations go through
// gocache, the scanning ones use the client directly.
type RedisStore[K ~string, V any] struct {
	client    *redis.Client
	cache     *cache.Cache[string]
	namespace string
}

func NewRedisStore[K ~string, V any](client *redis.Client, namespace string) *RedisStore[K, V] {
	redisStore := redisstore.NewRedis(client)

	return &RedisStore[K, V]{
		client:    client,
		cache:     cache.New[string](redisStore),
		namespace: namespace,
	}
}

func (s *RedisStore[K, V]) redisKey(key K) string {
	return s.namespace + ":" + string(key)
}

func (s *RedisStore[K, V]) Put(ctx context.Context, key K, value V, ttl time.Duration) error {
	if ttl <= 0 {
		return ErrNonPositiveTTL
	}

	valueBytes, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}

	return s.cache.Set(ctx, s.redisKey(key), string(valueBytes), store.WithExpiration(ttl))
}

func (s *RedisStore[K, V]) Get(ctx context.Context, key K) (V, bool, error) {
	var value V

	valueString, err := s.cache.Get(ctx, s.redisKey(key))
	if isNotFound(err) {
		return value, false, nil
	} else if err != nil {
		return value, false, err
	}

	if err := json.Unmarshal([]byte(valueString), &value); err != nil {
		return value, false, fmt.Errorf("decoding %s: %w", key, err)
	}

	return value, true, nil
}

func (s *RedisStore[K, V]) GetAll(ctx context.Context, keys []K) (map[K]V, error) {
	values := make(map[K]V, len(keys))

	for start := 0; start < len(keys); start += redisBatchSize {
		end := min(start+redisBatchSize, len(keys))
		batch := keys[start:end]

		redisKeys := make([]string, len(batch))
		for i, key := range batch {
			redisKeys[i] = s.redisKey(key)
		}

		results, err := s.client.MGet(ctx, redisKeys...).Result()
		if err != nil {
			return nil, err
		}

		for i, result := range results {
			valueString, ok := result.(string)
			if !ok {
				// Expired or never written
				continue
			}

			var value V
			if err := json.Unmarshal([]byte(valueString), &value); err != nil {
				return nil, fmt.Errorf("decoding %s: %w", batch[i], err)
			}
			values[batch[i]] = value
		}
	}

	return values, nil
}

func (s *RedisStore[K, V]) Delete(ctx context.Context, key K) error {
	return s.cache.Delete(ctx, s.redisKey(key))
}

func (s *RedisStore[K, V]) Keys(ctx context.Context, prefix string) ([]K, error) {
	namespacePrefix := s.namespace + ":"
	match := escapeMatchPattern(namespacePrefix+prefix) + "*"

	var keys []K
	iter := s.client.Scan(ctx, 0, match, 1000).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, K(strings.TrimPrefix(iter.Val(), namespacePrefix)))
	}

	if err := iter.Err(); err != nil {
		return nil, err
	}

	return keys, nil
}

func (s *RedisStore[K, V]) Values(ctx context.Context, prefix string) ([]V, error) {
	keys, err := s.Keys(ctx, prefix)
	if err != nil {
		return nil, err
	}

	valueMap, err := s.GetAll(ctx, keys)
	if err != nil {
		return nil, err
	}

	values := make([]V, 0, len(valueMap))
	for _, key := range keys {
		if value, exists := valueMap[key]; exists {
			values = append(values, value)
		}
	}

	return values, nil
}

func (s *RedisStore[K, V]) Size(ctx context.Context) (int, error) {
	keys, err := s.Keys(ctx, "")
	if err != nil {
		return 0, err
	}

	return len(keys), nil
}

// Clear only removes this store's namespace, never the whole database.
func (s *RedisStore[K, V]) Clear(ctx context.Context) error {
	keys, err := s.Keys(ctx, "")
	if err != nil {
		return err
	}

	for start := 0; start < len(keys); start += redisBatchSize {
		end := min(start+redisBatchSize, len(keys))

		redisKeys := make([]string, 0, end-start)
		for _, key := range keys[start:end] {
			redisKeys = append(redisKeys, s.redisKey(key))
		}

		if err := s.client.Del(ctx, redisKeys...).Err(); err != nil {
			return err
		}
	}

	return nil
}

func isNotFound(err error) bool {
	return err != nil && (errors.Is(err, store.NotFound{}) || errors.Is(err, redis.Nil))
}

func escapeMatchPattern(pattern string) string {
	var escaped strings.Builder
	for _, r := range pattern {
		switch r {
		case '*', '?', '[', ']', '\\':
			escaped.WriteRune('\\')
		}
		escaped.WriteRune(r)
	}

	return escaped.String()
}
