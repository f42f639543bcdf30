package changetracker

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
)

const maxTransactionAttempts = 50

var ErrTooMuchContention = errors.New("changetracker: requestor transaction kept conflicting")

// RedisTracker shares change sets between processes. Every requestor has a
// "polled" key carrying its tracking TTL and a "pending" set. All
// read-modify-write steps run as WATCH/MULTI transactions on those keys and
// are retried when another client got in first.
type RedisTracker struct {
	clock     clockwork.Clock
	client    *redis.Client
	namespace string
}

func NewRedisTracker(clock clockwork.Clock, client *redis.Client, namespace string) *RedisTracker {
	return &RedisTracker{
		clock:     clock,
		client:    client,
		namespace: namespace,
	}
}

func (t *RedisTracker) requestorsKey() string {
	return t.namespace + ":requestors"
}

func (t *RedisTracker) polledKey(requestorID string) string {
	return t.namespace + ":polled:" + requestorID
}

func (t *RedisTracker) pendingKey(requestorID string) string {
	return t.namespace + ":pending:" + requestorID
}

func (t *RedisTracker) transaction(ctx context.Context, fn func(tx *redis.Tx) error, keys ...string) error {
	for attempt := 0; attempt < maxTransactionAttempts; attempt++ {
		err := t.client.Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}

	return ErrTooMuchContention
}

func (t *RedisTracker) Touch(ctx context.Context, requestorID string, trackingPeriod time.Duration) (bool, error) {
	polledKey := t.polledKey(requestorID)
	pendingKey := t.pendingKey(requestorID)

	var created bool
	err := t.transaction(ctx, func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, polledKey).Result()
		if err != nil {
			return err
		}
		created = exists == 0

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if created {
				pipe.Del(ctx, pendingKey)
				pipe.SAdd(ctx, t.requestorsKey(), requestorID)
			}
			pipe.Set(ctx, polledKey, t.clock.Now().UnixMilli(), trackingPeriod)

			return nil
		})

		return err
	}, polledKey)

	return created, err
}

func (t *RedisTracker) Add(ctx context.Context, requestorID string, keys []string) error {
	if len(keys) == 0 {
		return nil
	}

	polledKey := t.polledKey(requestorID)

	return t.transaction(ctx, func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, polledKey).Result()
		if err != nil || exists == 0 {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SAdd(ctx, t.pendingKey(requestorID), toMembers(keys)...)
			return nil
		})

		return err
	}, polledKey)
}

func (t *RedisTracker) Take(ctx context.Context, requestorID string, selector Selector) (Selection, error) {
	polledKey := t.polledKey(requestorID)
	pendingKey := t.pendingKey(requestorID)

	var selection Selection
	err := t.transaction(ctx, func(tx *redis.Tx) error {
		selection = Selection{}

		exists, err := tx.Exists(ctx, polledKey).Result()
		if err != nil || exists == 0 {
			return err
		}

		pending, err := tx.SMembers(ctx, pendingKey).Result()
		if err != nil {
			return err
		}

		selection = selector.Apply(pending)
		if len(selection.Keys) == 0 {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SRem(ctx, pendingKey, toMembers(selection.Keys)...)
			return nil
		})

		return err
	}, polledKey, pendingKey)

	return selection, err
}

func (t *RedisTracker) MarkChanged(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}

	requestorIDs, err := t.client.SMembers(ctx, t.requestorsKey()).Result()
	if err != nil {
		return err
	}

	members := toMembers(keys)

	for _, requestorID := range requestorIDs {
		polledKey := t.polledKey(requestorID)
		pendingKey := t.pendingKey(requestorID)

		err := t.transaction(ctx, func(tx *redis.Tx) error {
			exists, err := tx.Exists(ctx, polledKey).Result()
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				if exists == 0 {
					pipe.SRem(ctx, t.requestorsKey(), requestorID)
					pipe.Del(ctx, pendingKey)
				} else {
					pipe.SAdd(ctx, pendingKey, members...)
				}

				return nil
			})

			return err
		}, polledKey)
		if err != nil {
			return err
		}
	}

	return nil
}

func (t *RedisTracker) Clear(ctx context.Context) error {
	requestorIDs, err := t.client.SMembers(ctx, t.requestorsKey()).Result()
	if err != nil {
		return err
	}

	keys := []string{t.requestorsKey()}
	for _, requestorID := range requestorIDs {
		keys = append(keys, t.polledKey(requestorID), t.pendingKey(requestorID))
	}

	return t.client.Del(ctx, keys...).Err()
}

func toMembers(keys []string) []any {
	members := make([]any, len(keys))
	for i, key := range keys {
		members[i] = key
	}

	return members
}
