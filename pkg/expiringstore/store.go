package expiringstore

import (
	"context"
	"errors"
	"time"
)

// ErrNonPositiveTTL is returned by Put when the entry would already be expired.
var ErrNonPositiveTTL = errors.New("expiringstore: ttl must be positive")

// Store is a keyed map where every entry carries its own time-to-live.
// Expired entries are never returned, whether or not they have been
// physically removed yet. Keys and Values filter by key prefix, which is
// how dataset scoping works ("<datasetId>:...").
type Store[K ~string, V any] interface {
	Put(ctx context.Context, key K, value V, ttl time.Duration) error
	Get(ctx context.Context, key K) (V, bool, error)
	GetAll(ctx context.Context, keys []K) (map[K]V, error)
	Delete(ctx context.Context, key K) error

	Keys(ctx context.Context, prefix string) ([]K, error)
	Values(ctx context.Context, prefix string) ([]V, error)

	Size(ctx context.Context) (int, error)
	Clear(ctx context.Context) error
}
