package expiringstore

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testJourney struct {
	LineRef    string
	AimedTimes []time.Time
}

func newTestRedisStore(t *testing.T) (*RedisStore[string, testJourney], *miniredis.Miniredis, *redis.Client) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewRedisStore[string, testJourney](client, "et"), server, client
}

func TestRedisStorePutGet(t *testing.T) {
	ctx := context.Background()
	store, server, _ := newTestRedisStore(t)

	journey := testJourney{
		LineRef:    "NSB:Line:L1",
		AimedTimes: []time.Time{time.Date(2026, 2, 13, 10, 0, 0, 0, time.UTC)},
	}
	require.NoError(t, store.Put(ctx, "X:1", journey, time.Minute))

	value, found, err := store.Get(ctx, "X:1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, journey.LineRef, value.LineRef)
	assert.True(t, journey.AimedTimes[0].Equal(value.AimedTimes[0]))

	server.FastForward(time.Minute)

	_, found, err = store.Get(ctx, "X:1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisStoreMissingKey(t *testing.T) {
	store, _, _ := newTestRedisStore(t)

	_, found, err := store.Get(context.Background(), "X:unknown")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisStoreRejectsNonPositiveTTL(t *testing.T) {
	store, server, _ := newTestRedisStore(t)

	assert.ErrorIs(t, store.Put(context.Background(), "X:1", testJourney{}, 0), ErrNonPositiveTTL)
	assert.Empty(t, server.Keys())
}

func TestRedisStoreNamespacesAndPrefixes(t *testing.T) {
	ctx := context.Background()
	store, server, client := newTestRedisStore(t)
	other := NewRedisStore[string, testJourney](client, "vm")

	require.NoError(t, store.Put(ctx, "X:1", testJourney{LineRef: "1"}, time.Minute))
	require.NoError(t, store.Put(ctx, "X:2", testJourney{LineRef: "2"}, time.Hour))
	require.NoError(t, store.Put(ctx, "Y:1", testJourney{LineRef: "3"}, time.Hour))
	require.NoError(t, other.Put(ctx, "X:9", testJourney{LineRef: "9"}, time.Hour))

	keys, err := store.Keys(ctx, "X:")
	require.NoError(t, err)
	sort.Strings(keys)
	assert.Equal(t, []string{"X:1", "X:2"}, keys)

	server.FastForward(2 * time.Minute)

	values, err := store.Values(ctx, "X:")
	require.NoError(t, err)
	require.Len(t, values, 1)
	assert.Equal(t, "2", values[0].LineRef)

	all, err := store.GetAll(ctx, []string{"X:1", "X:2", "Y:1"})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	size, err := store.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, size)

	require.NoError(t, store.Clear(ctx))
	size, _ = store.Size(ctx)
	assert.Equal(t, 0, size)

	otherSize, _ := other.Size(ctx)
	assert.Equal(t, 1, otherSize, "clearing one namespace must leave the others alone")
}

func TestRedisStoreDelete(t *testing.T) {
	ctx := context.Background()
	store, _, _ := newTestRedisStore(t)

	require.NoError(t, store.Put(ctx, "X:1", testJourney{}, time.Minute))
	require.NoError(t, store.Delete(ctx, "X:1"))

	_, found, err := store.Get(ctx, "X:1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestEscapeMatchPattern(t *testing.T) {
	assert.Equal(t, `et:a\*b\?c\[d\]`, escapeMatchPattern("et:a*b?c[d]"))
}
