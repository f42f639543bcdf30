package situations

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/travigo/sirihub/pkg/changetracker"
	"github.com/travigo/sirihub/pkg/expiringstore"
	"github.com/travigo/sirihub/pkg/metrics"
	"github.com/travigo/sirihub/pkg/siri"
)

type Options struct {
	GracePeriod         time.Duration
	TrackingPeriod      time.Duration
	AdHocTrackingPeriod time.Duration

	// OpenEndedRetention is how long a situation without an end time is kept
	// after its last update
	OpenEndedRetention time.Duration
}

type Repository struct {
	situations expiringstore.Store[string, *siri.PtSituationElement]
	tracker    changetracker.Tracker
	clock      clockwork.Clock
	metrics    metrics.Sink

	options      Options
	differential *changetracker.Differential
}

type Delivery struct {
	Situations  []*siri.PtSituationElement
	MoreData    bool
	RequestorID string
}

func NewRepository(situations expiringstore.Store[string, *siri.PtSituationElement], tracker changetracker.Tracker, clock clockwork.Clock, sink metrics.Sink, options Options) *Repository {
	return &Repository{
		situations: situations,
		tracker:    tracker,
		clock:      clock,
		metrics:    sink,
		options:    options,
		differential: &changetracker.Differential{
			Kind:                string(siri.DataTypeSituationExchange),
			Tracker:             tracker,
			Keys:                situations.Keys,
			TrackingPeriod:      options.TrackingPeriod,
			AdHocTrackingPeriod: options.AdHocTrackingPeriod,
		},
	}
}

func Key(datasetID string, situation *siri.PtSituationElement) string {
	situationNumber := situation.SituationNumber
	if situationNumber == "" {
		situationNumber = "null"
	}
	participantRef := situation.ParticipantRef
	if participantRef == "" {
		participantRef = "null"
	}

	return strings.Join([]string{datasetID, situationNumber, participantRef}, ":")
}

// Expiry runs to the latest validity end time plus the grace period.
// Situations that are open ended, or carry no validity at all, are kept for
// at least OpenEndedRetention from now.
func (r *Repository) Expiry(situation *siri.PtSituationElement) time.Duration {
	now := r.clock.Now()

	latest, openEnded := situation.LatestEndTime()

	var expiresAt time.Time
	if !latest.IsZero() {
		expiresAt = latest.Add(r.options.GracePeriod)
	}

	if openEnded || len(situation.ValidityPeriods) == 0 {
		retained := now.Add(r.options.OpenEndedRetention)
		if retained.After(expiresAt) {
			expiresAt = retained
		}
	}

	if expiresAt.IsZero() {
		return -1
	}

	return expiresAt.Sub(now)
}

// isNewer keeps the stored situation unless the incoming one was created
// later. Without creation times on both sides the update is accepted.
func isNewer(existing *siri.PtSituationElement, incoming *siri.PtSituationElement) bool {
	if existing == nil || existing.CreationTime.IsZero() || incoming.CreationTime.IsZero() {
		return true
	}

	return incoming.CreationTime.After(existing.CreationTime)
}

func (r *Repository) AddAll(ctx context.Context, datasetID string, situations []*siri.PtSituationElement) ([]*siri.PtSituationElement, error) {
	if len(situations) == 0 {
		return nil, nil
	}

	var stored []*siri.PtSituationElement
	var changes []string
	var skipped, outdated int

	for _, situation := range situations {
		if situation == nil {
			continue
		}

		key := Key(datasetID, situation)

		existing, _, err := r.situations.Get(ctx, key)
		if err != nil {
			return stored, changetracker.FlushPartial(ctx, r.tracker, changes, fmt.Errorf("get situation %s: %w", key, err))
		}
		if !isNewer(existing, situation) {
			skipped++
			continue
		}

		expiry := r.Expiry(situation)
		if expiry <= 0 {
			outdated++
			continue
		}

		situation = situation.Clone()
		if err := r.situations.Put(ctx, key, situation, expiry); err != nil {
			return stored, changetracker.FlushPartial(ctx, r.tracker, changes, fmt.Errorf("put situation %s: %w", key, err))
		}

		stored = append(stored, situation)
		changes = append(changes, key)
	}

	log.Info().
		Str("dataset", datasetID).
		Msgf("Updated %d (of %d), %d already known, %d outdated", len(changes), len(situations), skipped, outdated)

	r.metrics.IncomingData(siri.DataTypeSituationExchange, datasetID, len(situations), len(changes))
	r.metrics.Rejected(siri.DataTypeSituationExchange, datasetID, "stale", skipped)
	r.metrics.Rejected(siri.DataTypeSituationExchange, datasetID, "outdated", outdated)

	if err := r.tracker.MarkChanged(ctx, changes); err != nil {
		return stored, fmt.Errorf("mark changed: %w", err)
	}

	if size, err := r.Size(ctx); err == nil {
		r.metrics.StoreSize(siri.DataTypeSituationExchange, size)
	}

	return stored, nil
}

func (r *Repository) Add(ctx context.Context, datasetID string, situation *siri.PtSituationElement) (*siri.PtSituationElement, error) {
	if situation == nil {
		return nil, nil
	}

	if _, err := r.AddAll(ctx, datasetID, []*siri.PtSituationElement{situation}); err != nil {
		return nil, err
	}

	stored, _, err := r.situations.Get(ctx, Key(datasetID, situation))
	return stored, err
}

func (r *Repository) ServiceDelivery(ctx context.Context, requestorID string, datasetID string, maxSize int) (Delivery, error) {
	result, err := r.differential.Poll(ctx, changetracker.PollRequest{
		RequestorID: requestorID,
		DatasetID:   datasetID,
		MaxSize:     maxSize,
	})
	if err != nil {
		return Delivery{}, err
	}

	situations, err := r.fetch(ctx, result.Keys)
	if err != nil {
		return Delivery{}, err
	}

	r.metrics.Delivered(siri.DataTypeSituationExchange, len(situations), result.MoreData)

	return Delivery{
		Situations:  situations,
		MoreData:    result.MoreData,
		RequestorID: result.RequestorID,
	}, nil
}

func (r *Repository) fetch(ctx context.Context, keys []string) ([]*siri.PtSituationElement, error) {
	if len(keys) == 0 {
		return []*siri.PtSituationElement{}, nil
	}

	found, err := r.situations.GetAll(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("get situations: %w", err)
	}

	situations := make([]*siri.PtSituationElement, 0, len(found))
	for _, key := range keys {
		if situation, exists := found[key]; exists {
			situations = append(situations, situation)
		}
	}

	return situations, nil
}

func (r *Repository) GetAllUpdates(ctx context.Context, requestorID string, datasetID string) ([]*siri.PtSituationElement, error) {
	keys, snapshot, err := r.differential.PollAll(ctx, requestorID, datasetID)
	if err != nil {
		return nil, err
	}
	if snapshot {
		return r.GetAll(ctx, datasetID)
	}

	return r.fetch(ctx, keys)
}

func (r *Repository) GetAll(ctx context.Context, datasetID string) ([]*siri.PtSituationElement, error) {
	return r.situations.Values(ctx, changetracker.DatasetPrefix(datasetID))
}

func (r *Repository) Size(ctx context.Context) (int, error) {
	return r.situations.Size(ctx)
}

func (r *Repository) ClearAll(ctx context.Context) error {
	log.Warn().Msg("Deleting all situation data")

	if err := r.situations.Clear(ctx); err != nil {
		return err
	}

	return r.tracker.Clear(ctx)
}
