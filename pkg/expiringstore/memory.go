package expiringstore

import (
	"container/heap"
	"context"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

type memoryEntry[K any, V any] struct {
	value     V
	expiresAt time.Time
	item      *expiryItem[K]
}

// MemoryStore keeps entries in a map and checks expiry on every read.
// A min-heap of expiry times, one item per key, lets Sweep reclaim memory
// without scanning the whole map.
type MemoryStore[K ~string, V any] struct {
	clock clockwork.Clock

	mutex    sync.RWMutex
	entries  map[K]memoryEntry[K, V]
	expiries expiryHeap[K]
}

func NewMemoryStore[K ~string, V any](clock clockwork.Clock) *MemoryStore[K, V] {
	return &MemoryStore[K, V]{
		clock:   clock,
		entries: map[K]memoryEntry[K, V]{},
	}
}

func (s *MemoryStore[K, V]) Put(_ context.Context, key K, value V, ttl time.Duration) error {
	if ttl <= 0 {
		return ErrNonPositiveTTL
	}

	expiresAt := s.clock.Now().Add(ttl)

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if entry, exists := s.entries[key]; exists {
		entry.value = value
		entry.expiresAt = expiresAt
		entry.item.expiresAt = expiresAt
		heap.Fix(&s.expiries, entry.item.index)
		s.entries[key] = entry

		return nil
	}

	item := &expiryItem[K]{key: key, expiresAt: expiresAt}
	heap.Push(&s.expiries, item)
	s.entries[key] = memoryEntry[K, V]{value: value, expiresAt: expiresAt, item: item}

	return nil
}

func (s *MemoryStore[K, V]) Get(_ context.Context, key K) (V, bool, error) {
	now := s.clock.Now()

	s.mutex.RLock()
	defer s.mutex.RUnlock()

	entry, exists := s.entries[key]
	if !exists || !now.Before(entry.expiresAt) {
		var zero V
		return zero, false, nil
	}

	return entry.value, true, nil
}

func (s *MemoryStore[K, V]) GetAll(_ context.Context, keys []K) (map[K]V, error) {
	now := s.clock.Now()
	values := make(map[K]V, len(keys))

	s.mutex.RLock()
	defer s.mutex.RUnlock()

	for _, key := range keys {
		if entry, exists := s.entries[key]; exists && now.Before(entry.expiresAt) {
			values[key] = entry.value
		}
	}

	return values, nil
}

func (s *MemoryStore[K, V]) Delete(_ context.Context, key K) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if entry, exists := s.entries[key]; exists {
		heap.Remove(&s.expiries, entry.item.index)
		delete(s.entries, key)
	}

	return nil
}

func (s *MemoryStore[K, V]) Keys(_ context.Context, prefix string) ([]K, error) {
	now := s.clock.Now()

	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var keys []K
	for key, entry := range s.entries {
		if now.Before(entry.expiresAt) && strings.HasPrefix(string(key), prefix) {
			keys = append(keys, key)
		}
	}

	return keys, nil
}

func (s *MemoryStore[K, V]) Values(_ context.Context, prefix string) ([]V, error) {
	now := s.clock.Now()

	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var values []V
	for key, entry := range s.entries {
		if now.Before(entry.expiresAt) && strings.HasPrefix(string(key), prefix) {
			values = append(values, entry.value)
		}
	}

	return values, nil
}

func (s *MemoryStore[K, V]) Size(_ context.Context) (int, error) {
	now := s.clock.Now()

	s.mutex.RLock()
	defer s.mutex.RUnlock()

	size := 0
	for _, entry := range s.entries {
		if now.Before(entry.expiresAt) {
			size++
		}
	}

	return size, nil
}

func (s *MemoryStore[K, V]) Clear(_ context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.entries = map[K]memoryEntry[K, V]{}
	s.expiries = nil

	return nil
}

// Sweep removes every entry that has expired and returns how many went.
func (s *MemoryStore[K, V]) Sweep() int {
	now := s.clock.Now()

	s.mutex.Lock()
	defer s.mutex.Unlock()

	removed := 0
	for len(s.expiries) > 0 && !now.Before(s.expiries[0].expiresAt) {
		item := heap.Pop(&s.expiries).(*expiryItem[K])
		delete(s.entries, item.key)
		removed++
	}

	return removed
}

// StartSweeper runs Sweep every interval until ctx is done.
func (s *MemoryStore[K, V]) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := s.clock.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				if removed := s.Sweep(); removed > 0 {
					log.Debug().Int("removed", removed).Msg("Swept expired entries")
				}
			}
		}
	}()
}

type expiryItem[K any] struct {
	key       K
	expiresAt time.Time
	index     int
}

type expiryHeap[K any] []*expiryItem[K]

func (h expiryHeap[K]) Len() int           { return len(h) }
func (h expiryHeap[K]) Less(i, j int) bool { return h[i].expiresAt.Before(h[j].expiresAt) }

func (h expiryHeap[K]) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *expiryHeap[K]) Push(x any) {
	item := x.(*expiryItem[K])
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *expiryHeap[K]) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
