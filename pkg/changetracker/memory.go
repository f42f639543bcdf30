package changetracker

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

type requestorState struct {
	mutex     sync.Mutex
	pending   map[string]struct{}
	expiresAt time.Time

	// removed is terminal, a pruned state is never revived
	removed bool
}

func (s *requestorState) live(now time.Time) bool {
	return !s.removed && now.Before(s.expiresAt)
}

// MemoryTracker guards each requestor with its own mutex. The outer lock
// only protects the requestor map itself.
type MemoryTracker struct {
	clock clockwork.Clock

	mutex      sync.RWMutex
	requestors map[string]*requestorState
}

func NewMemoryTracker(clock clockwork.Clock) *MemoryTracker {
	return &MemoryTracker{
		clock:      clock,
		requestors: map[string]*requestorState{},
	}
}

func (t *MemoryTracker) Touch(_ context.Context, requestorID string, trackingPeriod time.Duration) (bool, error) {
	now := t.clock.Now()

	t.mutex.Lock()
	defer t.mutex.Unlock()

	state := t.requestors[requestorID]
	if state != nil {
		state.mutex.Lock()
		if state.removed {
			state.mutex.Unlock()
			state = nil
		}
	}
	if state == nil {
		state = &requestorState{pending: map[string]struct{}{}}
		state.mutex.Lock()
		t.requestors[requestorID] = state
	}
	defer state.mutex.Unlock()

	created := !now.Before(state.expiresAt)
	if created {
		state.pending = map[string]struct{}{}
	}
	state.expiresAt = now.Add(trackingPeriod)

	return created, nil
}

func (t *MemoryTracker) lookup(requestorID string) *requestorState {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	return t.requestors[requestorID]
}

func (t *MemoryTracker) Add(_ context.Context, requestorID string, keys []string) error {
	state := t.lookup(requestorID)
	if state == nil {
		return nil
	}

	state.mutex.Lock()
	defer state.mutex.Unlock()

	if !state.live(t.clock.Now()) {
		return nil
	}

	for _, key := range keys {
		state.pending[key] = struct{}{}
	}

	return nil
}

func (t *MemoryTracker) Take(_ context.Context, requestorID string, selector Selector) (Selection, error) {
	state := t.lookup(requestorID)
	if state == nil {
		return Selection{}, nil
	}

	state.mutex.Lock()
	defer state.mutex.Unlock()

	if !state.live(t.clock.Now()) {
		return Selection{}, nil
	}

	pending := make([]string, 0, len(state.pending))
	for key := range state.pending {
		pending = append(pending, key)
	}

	selection := selector.Apply(pending)
	for _, key := range selection.Keys {
		delete(state.pending, key)
	}

	return selection, nil
}

func (t *MemoryTracker) MarkChanged(_ context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}

	now := t.clock.Now()

	t.mutex.RLock()
	states := make(map[string]*requestorState, len(t.requestors))
	for requestorID, state := range t.requestors {
		states[requestorID] = state
	}
	t.mutex.RUnlock()

	var expired []string
	for requestorID, state := range states {
		state.mutex.Lock()
		if state.live(now) {
			for _, key := range keys {
				state.pending[key] = struct{}{}
			}
		} else {
			state.removed = true
			expired = append(expired, requestorID)
		}
		state.mutex.Unlock()
	}

	if len(expired) == 0 {
		return nil
	}

	t.mutex.Lock()
	defer t.mutex.Unlock()

	for _, requestorID := range expired {
		// Touch may already have replaced the pruned state
		if t.requestors[requestorID] == states[requestorID] {
			delete(t.requestors, requestorID)
		}
	}

	return nil
}

func (t *MemoryTracker) Clear(_ context.Context) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	for _, state := range t.requestors {
		state.mutex.Lock()
		state.removed = true
		state.mutex.Unlock()
	}
	t.requestors = map[string]*requestorState{}

	return nil
}

// Requestors returns how many requestors are currently held, live or not.
func (t *MemoryTracker) Requestors() int {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	return len(t.requestors)
}
