package changetracker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// KeyLister returns every live key starting with prefix.
type KeyLister func(ctx context.Context, prefix string) ([]string, error)

// Differential runs the "what changed since your last poll" protocol on top
// of a Tracker for one entity kind.
type Differential struct {
	Kind string

	Tracker Tracker
	Keys    KeyLister

	TrackingPeriod      time.Duration
	AdHocTrackingPeriod time.Duration
}

type PollRequest struct {
	// RequestorID is empty for one-off polls that should not be tracked
	RequestorID string
	DatasetID   string

	// MaxSize of zero or less means no limit
	MaxSize int

	// Eligible is nil when every pending key may be delivered now
	Eligible func(key string) bool
}

type PollResult struct {
	Keys        []string
	MoreData    bool
	RequestorID string
	AdHoc       bool
}

// Poll consumes up to MaxSize keys for the requestor. An unknown or expired
// requestor is seeded with every current key in the dataset, so its first
// poll pages through a full snapshot.
func (d *Differential) Poll(ctx context.Context, request PollRequest) (PollResult, error) {
	selector := Selector{
		Prefix:   DatasetPrefix(request.DatasetID),
		Eligible: request.Eligible,
		Limit:    request.MaxSize,
	}

	if request.RequestorID == "" {
		keys, err := d.Keys(ctx, selector.Prefix)
		if err != nil {
			return PollResult{}, err
		}

		selection := selector.Apply(keys)
		result := PollResult{
			Keys:        selection.Keys,
			MoreData:    selection.MoreData(),
			RequestorID: uuid.NewString(),
			AdHoc:       true,
		}

		log.Info().
			Str("kind", d.Kind).
			Str("requestor", result.RequestorID).
			Str("trackingPeriod", d.AdHocTrackingPeriod.String()).
			Int("returned", len(result.Keys)).
			Msg("Returning ad-hoc delivery, no requestor set")

		return result, nil
	}

	if err := d.ensureTracked(ctx, request.RequestorID, selector.Prefix); err != nil {
		return PollResult{}, err
	}

	selection, err := d.Tracker.Take(ctx, request.RequestorID, selector)
	if err != nil {
		return PollResult{}, err
	}

	log.Info().
		Str("kind", d.Kind).
		Str("requestor", request.RequestorID).
		Int("returned", len(selection.Keys)).
		Int("left", selection.Requested-len(selection.Keys)).
		Msg("Returning delivery")

	return PollResult{
		Keys:        selection.Keys,
		MoreData:    selection.MoreData(),
		RequestorID: request.RequestorID,
	}, nil
}

// PollAll drains every pending key for the requestor. snapshot is true
// when the requestor has no change history yet (or is ad-hoc); the caller
// should then answer with the full dataset. The new requestor starts with
// an empty pending set since the snapshot already covers everything.
func (d *Differential) PollAll(ctx context.Context, requestorID string, datasetID string) (keys []string, snapshot bool, err error) {
	if requestorID == "" {
		return nil, true, nil
	}

	created, err := d.Tracker.Touch(ctx, requestorID, d.TrackingPeriod)
	if err != nil {
		return nil, false, err
	}
	if created {
		log.Info().Str("kind", d.Kind).Str("requestor", requestorID).Msg("Returning all to new requestor")
		return nil, true, nil
	}

	selection, err := d.Tracker.Take(ctx, requestorID, Selector{Prefix: DatasetPrefix(datasetID)})
	if err != nil {
		return nil, false, err
	}

	return selection.Keys, false, nil
}

// ensureTracked registers the requestor before listing keys for its seed,
// so writes landing in between are caught by either the seed or MarkChanged.
func (d *Differential) ensureTracked(ctx context.Context, requestorID string, prefix string) error {
	created, err := d.Tracker.Touch(ctx, requestorID, d.TrackingPeriod)
	if err != nil || !created {
		return err
	}

	seed, err := d.Keys(ctx, prefix)
	if err != nil {
		return err
	}

	return d.Tracker.Add(ctx, requestorID, seed)
}
