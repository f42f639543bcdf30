package vehicleactivities

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/travigo/sirihub/pkg/changetracker"
	"github.com/travigo/sirihub/pkg/expiringstore"
	"github.com/travigo/sirihub/pkg/metrics"
	"github.com/travigo/sirihub/pkg/publisher"
	"github.com/travigo/sirihub/pkg/siri"
)

type Options struct {
	GracePeriod         time.Duration
	TrackingPeriod      time.Duration
	AdHocTrackingPeriod time.Duration
}

type Repository struct {
	activities expiringstore.Store[string, *siri.VehicleActivity]
	tracker    changetracker.Tracker
	clock      clockwork.Clock
	metrics    metrics.Sink
	publisher  publisher.Publisher

	gracePeriod  time.Duration
	differential *changetracker.Differential
}

type Delivery struct {
	Activities  []*siri.VehicleActivity
	MoreData    bool
	RequestorID string
}

func NewRepository(activities expiringstore.Store[string, *siri.VehicleActivity], tracker changetracker.Tracker, clock clockwork.Clock, sink metrics.Sink, pub publisher.Publisher, options Options) *Repository {
	return &Repository{
		activities:  activities,
		tracker:     tracker,
		clock:       clock,
		metrics:     sink,
		publisher:   pub,
		gracePeriod: options.GracePeriod,
		differential: &changetracker.Differential{
			Kind:                string(siri.DataTypeVehicleMonitoring),
			Tracker:             tracker,
			Keys:                activities.Keys,
			TrackingPeriod:      options.TrackingPeriod,
			AdHocTrackingPeriod: options.AdHocTrackingPeriod,
		},
	}
}

func Key(datasetID string, vehicleRef string) string {
	return datasetID + ":" + vehicleRef
}

// Expiry is ValidUntilTime plus the grace period relative to now, negative
// when the activity has no ValidUntilTime.
func (r *Repository) Expiry(activity *siri.VehicleActivity) time.Duration {
	if activity.ValidUntilTime.IsZero() {
		return -1
	}

	return activity.ValidUntilTime.Add(r.gracePeriod).Sub(r.clock.Now())
}

// IsLocationValid requires both coordinates to be set. Feeds send 0,0 for
// vehicles they cannot place.
func IsLocationValid(activity *siri.VehicleActivity) bool {
	valid := activity.MonitoredVehicleJourney.VehicleLocation.IsSet()
	if !valid {
		log.Debug().Str("vehicle", activity.MonitoredVehicleJourney.VehicleRef).Msg("Skipping activity without location")
	}

	return valid
}

// IsMeaningful is false for activities that cannot be tied to a line,
// course or direction.
func IsMeaningful(activity *siri.VehicleActivity) bool {
	journey := activity.MonitoredVehicleJourney

	return journey.LineRef != "" || journey.CourseOfJourneyRef != "" || journey.DirectionRef != ""
}

// AddAll stores and publishes every valid activity. Activities without a
// monitored journey or vehicle reference are ignored outright.
func (r *Repository) AddAll(ctx context.Context, datasetID string, activities []*siri.VehicleActivity) ([]*siri.VehicleActivity, error) {
	if len(activities) == 0 {
		return nil, nil
	}

	var stored []*siri.VehicleActivity
	var changes []string
	var invalidLocation, notMeaningful, outdated int

	for _, activity := range activities {
		if activity == nil || activity.MonitoredVehicleJourney == nil || activity.MonitoredVehicleJourney.VehicleRef == "" {
			continue
		}

		locationValid := IsLocationValid(activity)
		meaningful := IsMeaningful(activity)
		if !locationValid || !meaningful {
			if !locationValid {
				invalidLocation++
			}
			if !meaningful {
				notMeaningful++
			}
			continue
		}

		expiry := r.Expiry(activity)
		if expiry <= 0 {
			outdated++
			continue
		}

		key := Key(datasetID, activity.MonitoredVehicleJourney.VehicleRef)
		activity = activity.Clone()
		if err := r.activities.Put(ctx, key, activity, expiry); err != nil {
			return stored, changetracker.FlushPartial(ctx, r.tracker, changes, fmt.Errorf("put activity %s: %w", key, err))
		}

		r.publisher.Publish(datasetID, activity)

		stored = append(stored, activity)
		changes = append(changes, key)
	}

	log.Info().
		Str("dataset", datasetID).
		Msgf("Updated %d (of %d) :: Ignored elements - Missing location: %d, Missing values: %d, Skipped: %d", len(changes), len(activities), invalidLocation, notMeaningful, outdated)

	r.metrics.IncomingData(siri.DataTypeVehicleMonitoring, datasetID, len(activities), len(changes))
	r.metrics.Rejected(siri.DataTypeVehicleMonitoring, datasetID, "location", invalidLocation)
	r.metrics.Rejected(siri.DataTypeVehicleMonitoring, datasetID, "meaningless", notMeaningful)
	r.metrics.Rejected(siri.DataTypeVehicleMonitoring, datasetID, "outdated", outdated)

	if err := r.tracker.MarkChanged(ctx, changes); err != nil {
		return stored, fmt.Errorf("mark changed: %w", err)
	}

	size, err := r.Size(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to get vehicle activity store size")
	} else {
		r.metrics.StoreSize(siri.DataTypeVehicleMonitoring, size)
	}

	return stored, nil
}

func (r *Repository) Add(ctx context.Context, datasetID string, activity *siri.VehicleActivity) (*siri.VehicleActivity, error) {
	if activity == nil || activity.MonitoredVehicleJourney == nil {
		return nil, nil
	}

	if _, err := r.AddAll(ctx, datasetID, []*siri.VehicleActivity{activity}); err != nil {
		return nil, err
	}

	stored, _, err := r.activities.Get(ctx, Key(datasetID, activity.MonitoredVehicleJourney.VehicleRef))
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

	activities, err := r.fetch(ctx, result.Keys)
	if err != nil {
		return Delivery{}, err
	}

	r.metrics.Delivered(siri.DataTypeVehicleMonitoring, len(activities), result.MoreData)

	return Delivery{
		Activities:  activities,
		MoreData:    result.MoreData,
		RequestorID: result.RequestorID,
	}, nil
}

func (r *Repository) fetch(ctx context.Context, keys []string) ([]*siri.VehicleActivity, error) {
	if len(keys) == 0 {
		return []*siri.VehicleActivity{}, nil
	}

	found, err := r.activities.GetAll(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("get activities: %w", err)
	}

	activities := make([]*siri.VehicleActivity, 0, len(found))
	for _, key := range keys {
		if activity, exists := found[key]; exists {
			activities = append(activities, activity)
		}
	}

	return activities, nil
}

// LineDelivery returns every activity on the line ordered by RecordedAtTime.
func (r *Repository) LineDelivery(ctx context.Context, lineRef string) ([]*siri.VehicleActivity, error) {
	all, err := r.activities.Values(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}

	activities := []*siri.VehicleActivity{}
	for _, activity := range all {
		if activity.MonitoredVehicleJourney != nil && siri.MatchesLine(activity.MonitoredVehicleJourney.LineRef, lineRef) {
			activities = append(activities, activity)
		}
	}

	slices.SortStableFunc(activities, func(a, b *siri.VehicleActivity) int {
		return a.RecordedAtTime.Compare(b.RecordedAtTime)
	})

	return activities, nil
}

func (r *Repository) GetAllUpdates(ctx context.Context, requestorID string, datasetID string) ([]*siri.VehicleActivity, error) {
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

func (r *Repository) GetAll(ctx context.Context, datasetID string) ([]*siri.VehicleActivity, error) {
	return r.activities.Values(ctx, changetracker.DatasetPrefix(datasetID))
}

func (r *Repository) Size(ctx context.Context) (int, error) {
	return r.activities.Size(ctx)
}

func (r *Repository) ClearAll(ctx context.Context) error {
	log.Warn().Msg("Deleting all vehicle activity data")

	if err := r.activities.Clear(ctx); err != nil {
		return err
	}

	return r.tracker.Clear(ctx)
}
