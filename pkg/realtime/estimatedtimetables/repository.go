package estimatedtimetables

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/travigo/sirihub/pkg/changetracker"
	"github.com/travigo/sirihub/pkg/expiringstore"
	"github.com/travigo/sirihub/pkg/journeymerger"
	"github.com/travigo/sirihub/pkg/metrics"
	"github.com/travigo/sirihub/pkg/siri"
)

type Stores struct {
	Journeys expiringstore.Store[string, *siri.EstimatedVehicleJourney]

	// PatternChanges holds a key for every stored journey that is cancelled,
	// extra or has a cancelled call
	PatternChanges expiringstore.Store[string, bool]

	// StartTimes holds the first aimed time of every stored journey
	StartTimes expiringstore.Store[string, time.Time]
}

type Options struct {
	GracePeriod         time.Duration
	TrackingPeriod      time.Duration
	AdHocTrackingPeriod time.Duration
}

type Repository struct {
	stores  Stores
	tracker changetracker.Tracker
	clock   clockwork.Clock
	metrics metrics.Sink

	gracePeriod  time.Duration
	differential *changetracker.Differential
}

type Delivery struct {
	Journeys    []*siri.EstimatedVehicleJourney
	MoreData    bool
	RequestorID string
}

func NewRepository(stores Stores, tracker changetracker.Tracker, clock clockwork.Clock, sink metrics.Sink, options Options) *Repository {
	repository := &Repository{
		stores:      stores,
		tracker:     tracker,
		clock:       clock,
		metrics:     sink,
		gracePeriod: options.GracePeriod,
	}

	repository.differential = &changetracker.Differential{
		Kind:                string(siri.DataTypeEstimatedTimetable),
		Tracker:             tracker,
		Keys:                repository.stores.Journeys.Keys,
		TrackingPeriod:      options.TrackingPeriod,
		AdHocTrackingPeriod: options.AdHocTrackingPeriod,
	}

	return repository
}

// Expiry is how long the journey should be kept: its last call time plus
// the grace period, relative to now. Journeys without any call time get a
// negative expiry.
func (r *Repository) Expiry(journey *siri.EstimatedVehicleJourney) time.Duration {
	last := lastCallTime(journey)
	if last.IsZero() {
		return -1
	}

	return last.Add(r.gracePeriod).Sub(r.clock.Now())
}

// FirstAimedTime falls back to now when the journey has no aimed times.
func (r *Repository) FirstAimedTime(journey *siri.EstimatedVehicleJourney) time.Time {
	first := firstAimedTime(journey)
	if first.IsZero() {
		log.Warn().
			Str("line", journey.LineRef).
			Str("vehicle", journey.VehicleRef).
			Str("datedVehicleJourney", journey.DatedVehicleJourneyRef).
			Msg("Unable to find aimed time for journey, using now")

		return r.clock.Now()
	}

	return first
}

// AddAll stores every journey that survives merging and expiry checks and
// returns the stored versions. Only stored journeys are marked as changed.
func (r *Repository) AddAll(ctx context.Context, datasetID string, journeys []*siri.EstimatedVehicleJourney) ([]*siri.EstimatedVehicleJourney, error) {
	if len(journeys) == 0 {
		return nil, nil
	}

	var stored []*siri.EstimatedVehicleJourney
	var changes []string
	var stale, outdated, empty int

	for _, incoming := range journeys {
		if incoming == nil {
			continue
		}

		key := Key(datasetID, incoming)

		existing, found, err := r.stores.Journeys.Get(ctx, key)
		if err != nil {
			return stored, changetracker.FlushPartial(ctx, r.tracker, changes, fmt.Errorf("get journey %s: %w", key, err))
		}
		if !found {
			incoming = journeymerger.RemapFutureRecordedCalls(incoming, r.clock.Now())
		}

		merged, ok := journeymerger.Merge(existing, incoming, siri.OriginalID)
		if !ok {
			log.Debug().Str("key", key).Msg("Newer data has already been processed, ignoring journey")
			stale++
			continue
		}

		expiry := r.Expiry(merged)
		if expiry <= 0 {
			outdated++
			continue
		}
		if len(merged.EstimatedCalls) == 0 {
			empty++
			continue
		}

		if err := r.stores.Journeys.Put(ctx, key, merged, expiry); err != nil {
			return stored, changetracker.FlushPartial(ctx, r.tracker, changes, fmt.Errorf("put journey %s: %w", key, err))
		}

		stored = append(stored, merged)
		changes = append(changes, key)

		if err := r.storeIndexes(ctx, key, merged, expiry); err != nil {
			return stored, changetracker.FlushPartial(ctx, r.tracker, changes, err)
		}
	}

	log.Info().
		Str("dataset", datasetID).
		Msgf("Updated %d (of %d), %d outdated", len(changes), len(journeys), outdated)

	r.metrics.IncomingData(siri.DataTypeEstimatedTimetable, datasetID, len(journeys), len(changes))
	r.metrics.Rejected(siri.DataTypeEstimatedTimetable, datasetID, "stale", stale)
	r.metrics.Rejected(siri.DataTypeEstimatedTimetable, datasetID, "outdated", outdated)
	r.metrics.Rejected(siri.DataTypeEstimatedTimetable, datasetID, "empty", empty)

	if err := r.tracker.MarkChanged(ctx, changes); err != nil {
		return stored, fmt.Errorf("mark changed: %w", err)
	}

	r.reportSize(ctx)

	return stored, nil
}

// storeIndexes rewrites both side indexes on every store so they never
// describe an older version of the journey.
func (r *Repository) storeIndexes(ctx context.Context, key string, journey *siri.EstimatedVehicleJourney, expiry time.Duration) error {
	if journey.HasPatternChange() {
		if err := r.stores.PatternChanges.Put(ctx, key, true, expiry); err != nil {
			return fmt.Errorf("put pattern change %s: %w", key, err)
		}
	} else if err := r.stores.PatternChanges.Delete(ctx, key); err != nil {
		return fmt.Errorf("delete pattern change %s: %w", key, err)
	}

	if err := r.stores.StartTimes.Put(ctx, key, r.FirstAimedTime(journey), expiry); err != nil {
		return fmt.Errorf("put start time %s: %w", key, err)
	}

	return nil
}

// Add stores a single journey and returns what is now held for its key, nil
// if nothing is.
func (r *Repository) Add(ctx context.Context, datasetID string, journey *siri.EstimatedVehicleJourney) (*siri.EstimatedVehicleJourney, error) {
	if journey == nil {
		return nil, nil
	}

	if _, err := r.AddAll(ctx, datasetID, []*siri.EstimatedVehicleJourney{journey}); err != nil {
		return nil, err
	}

	stored, _, err := r.stores.Journeys.Get(ctx, Key(datasetID, journey))
	return stored, err
}

// ServiceDelivery returns the next page of changed journeys for the
// requestor. A negative previewInterval disables the preview window,
// otherwise only journeys with a pattern change or starting before
// now+previewInterval are delivered and the rest stay pending.
func (r *Repository) ServiceDelivery(ctx context.Context, requestorID string, datasetID string, maxSize int, previewInterval time.Duration) (Delivery, error) {
	request := changetracker.PollRequest{
		RequestorID: requestorID,
		DatasetID:   datasetID,
		MaxSize:     maxSize,
	}

	if previewInterval >= 0 {
		eligible, err := r.previewEligible(ctx, datasetID, previewInterval)
		if err != nil {
			return Delivery{}, err
		}

		request.Eligible = func(key string) bool { return eligible[key] }
	}

	result, err := r.differential.Poll(ctx, request)
	if err != nil {
		return Delivery{}, err
	}

	journeys, err := r.fetch(ctx, result.Keys)
	if err != nil {
		return Delivery{}, err
	}

	r.metrics.Delivered(siri.DataTypeEstimatedTimetable, len(journeys), result.MoreData)

	return Delivery{
		Journeys:    journeys,
		MoreData:    result.MoreData,
		RequestorID: result.RequestorID,
	}, nil
}

func (r *Repository) previewEligible(ctx context.Context, datasetID string, previewInterval time.Duration) (map[string]bool, error) {
	prefix := changetracker.DatasetPrefix(datasetID)
	previewExpiry := r.clock.Now().Add(previewInterval)

	eligible := map[string]bool{}

	patternChanges, err := r.stores.PatternChanges.Keys(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list pattern changes: %w", err)
	}
	for _, key := range patternChanges {
		eligible[key] = true
	}

	startTimeKeys, err := r.stores.StartTimes.Keys(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list start times: %w", err)
	}
	startTimes, err := r.stores.StartTimes.GetAll(ctx, startTimeKeys)
	if err != nil {
		return nil, fmt.Errorf("get start times: %w", err)
	}

	starting := 0
	for key, startTime := range startTimes {
		if startTime.Before(previewExpiry) {
			eligible[key] = true
			starting++
		}
	}

	log.Debug().Msgf("Found %d journeys starting within %s", starting, previewInterval)

	return eligible, nil
}

// fetch keeps the order of keys and skips journeys that expired after
// being marked as changed.
func (r *Repository) fetch(ctx context.Context, keys []string) ([]*siri.EstimatedVehicleJourney, error) {
	if len(keys) == 0 {
		return []*siri.EstimatedVehicleJourney{}, nil
	}

	found, err := r.stores.Journeys.GetAll(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("get journeys: %w", err)
	}

	journeys := make([]*siri.EstimatedVehicleJourney, 0, len(found))
	for _, key := range keys {
		if journey, exists := found[key]; exists {
			journeys = append(journeys, journey)
		}
	}

	return journeys, nil
}

// LineDelivery returns every journey on the line regardless of requestor,
// in order of first call.
func (r *Repository) LineDelivery(ctx context.Context, lineRef string) ([]*siri.EstimatedVehicleJourney, error) {
	all, err := r.stores.Journeys.Values(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("list journeys: %w", err)
	}

	journeys := []*siri.EstimatedVehicleJourney{}
	for _, journey := range all {
		if siri.MatchesLine(journey.LineRef, lineRef) {
			journeys = append(journeys, journey)
		}
	}

	slices.SortStableFunc(journeys, func(a, b *siri.EstimatedVehicleJourney) int {
		return lineSortTime(a).Compare(lineSortTime(b))
	})

	return journeys, nil
}

// GetAllUpdates drains everything pending for the requestor. Unknown
// requestors get the whole dataset and start tracking from here.
func (r *Repository) GetAllUpdates(ctx context.Context, requestorID string, datasetID string) ([]*siri.EstimatedVehicleJourney, error) {
	keys, snapshot, err := r.differential.PollAll(ctx, requestorID, datasetID)
	if err != nil {
		return nil, err
	}
	if snapshot {
		return r.GetAll(ctx, datasetID)
	}

	log.Info().Str("requestor", requestorID).Msgf("Returning %d changes", len(keys))

	return r.fetch(ctx, keys)
}

// GetAll returns every live journey, scoped to a dataset unless datasetID
// is empty.
func (r *Repository) GetAll(ctx context.Context, datasetID string) ([]*siri.EstimatedVehicleJourney, error) {
	return r.stores.Journeys.Values(ctx, changetracker.DatasetPrefix(datasetID))
}

func (r *Repository) Size(ctx context.Context) (int, error) {
	return r.stores.Journeys.Size(ctx)
}

func (r *Repository) reportSize(ctx context.Context) {
	size, err := r.Size(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to get estimated timetable store size")
		return
	}

	r.metrics.StoreSize(siri.DataTypeEstimatedTimetable, size)
}

// ClearAll drops every journey and all change tracking state.
func (r *Repository) ClearAll(ctx context.Context) error {
	log.Warn().Msg("Deleting all estimated timetable data")

	for _, clearStore := range []func(context.Context) error{
		r.stores.Journeys.Clear,
		r.stores.PatternChanges.Clear,
		r.stores.StartTimes.Clear,
		r.tracker.Clear,
	} {
		if err := clearStore(ctx); err != nil {
			return err
		}
	}

	return nil
}
