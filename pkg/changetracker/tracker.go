package changetracker

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// Tracker holds one pending key set per requestor. A requestor stays
// tracked for as long as it keeps polling within its tracking period.
//
// Implementations serialise every mutation of a single requestor's set,
// so a Take racing a MarkChanged for the same requestor never loses keys.
type Tracker interface {
	// Touch refreshes the requestor's tracking period. created is true when
	// the requestor was unknown or had expired, in which case its pending
	// set starts out empty.
	Touch(ctx context.Context, requestorID string, trackingPeriod time.Duration) (created bool, err error)

	// Add unions keys into a tracked requestor's pending set.
	Add(ctx context.Context, requestorID string, keys []string) error

	// Take removes and returns the keys chosen by selector from the
	// requestor's pending set in one atomic step.
	Take(ctx context.Context, requestorID string, selector Selector) (Selection, error)

	// MarkChanged adds keys to every live requestor and drops the expired ones.
	MarkChanged(ctx context.Context, keys []string) error

	Clear(ctx context.Context) error
}

// FlushPartial marks the keys a failed batch had already stored, so they
// still reach every tracked requestor, and returns cause joined with any
// tracking failure.
func FlushPartial(ctx context.Context, tracker Tracker, stored []string, cause error) error {
	if len(stored) == 0 {
		return cause
	}

	if err := tracker.MarkChanged(ctx, stored); err != nil {
		return errors.Join(cause, fmt.Errorf("mark changed: %w", err))
	}

	return cause
}

// Selector decides which pending keys a single poll consumes. It runs
// inside the per-requestor critical section, so Eligible must be a pure
// lookup.
type Selector struct {
	// Prefix scopes the pending set to a dataset, "" for everything
	Prefix string

	// Eligible is nil when every key may be delivered
	Eligible func(key string) bool

	// Limit of zero or less means no limit
	Limit int
}

type Selection struct {
	Keys []string

	// Requested is the size of the prefix-filtered pending set
	Requested int

	// Excluded counts keys Eligible turned down before the limit was hit
	Excluded int
}

// MoreData reports whether keys were left behind for a later poll.
func (s Selection) MoreData() bool {
	return s.Excluded+len(s.Keys) < s.Requested
}

// Apply picks keys out of pending in sorted order. Keys past the limit are
// never inspected by Eligible.
func (s Selector) Apply(pending []string) Selection {
	requested := make([]string, 0, len(pending))
	for _, key := range pending {
		if strings.HasPrefix(key, s.Prefix) {
			requested = append(requested, key)
		}
	}
	slices.Sort(requested)

	selection := Selection{Requested: len(requested)}

	for _, key := range requested {
		if s.Limit > 0 && len(selection.Keys) >= s.Limit {
			break
		}

		if s.Eligible != nil && !s.Eligible(key) {
			selection.Excluded++
			continue
		}

		selection.Keys = append(selection.Keys, key)
	}

	return selection
}

// DatasetPrefix is the key prefix shared by every entity of a dataset.
func DatasetPrefix(datasetID string) string {
	if datasetID == "" {
		return ""
	}

	return datasetID + ":"
}
