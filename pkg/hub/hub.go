// Package hub assembles the three SIRI repositories on top of the configured
// store backend and routes ingested deliveries to them.
package hub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/travigo/sirihub/pkg/changetracker"
	"github.com/travigo/sirihub/pkg/config"
	"github.com/travigo/sirihub/pkg/database"
	"github.com/travigo/sirihub/pkg/elastic_client"
	"github.com/travigo/sirihub/pkg/expiringstore"
	"github.com/travigo/sirihub/pkg/metrics"
	"github.com/travigo/sirihub/pkg/publisher"
	"github.com/travigo/sirihub/pkg/realtime/estimatedtimetables"
	"github.com/travigo/sirihub/pkg/realtime/situations"
	"github.com/travigo/sirihub/pkg/realtime/vehicleactivities"
	"github.com/travigo/sirihub/pkg/redis_client"
	"github.com/travigo/sirihub/pkg/siri"
	"github.com/travigo/sirihub/pkg/transforms"
)

const publisherGoroutines = 10

type Hub struct {
	Config   *config.Config
	Clock    clockwork.Clock
	Recorder *metrics.Recorder

	EstimatedTimetables *estimatedtimetables.Repository
	VehicleActivities   *vehicleactivities.Repository
	Situations          *situations.Repository

	datasets      map[string]*transforms.Dataset
	datasetsMutex sync.Mutex

	publisher publisher.Publisher
}

// Connect opens the external connections the configuration asks for.
// Redis is needed by the redis backend and by any queue, MongoDB only by
// the mongo backend and Elasticsearch is optional.
func Connect(cfg *config.Config) error {
	if cfg.Redis.Enabled {
		if err := redis_client.Connect(cfg.Redis); err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
	}

	if cfg.StoreBackend == "mongo" {
		if err := database.ConnectMongoDB(cfg.Mongo); err != nil {
			return fmt.Errorf("connect to mongodb: %w", err)
		}
	}

	return elastic_client.Connect(elastic_client.Config{
		Address:  cfg.Elasticsearch.Address,
		Username: cfg.Elasticsearch.Username,
		Password: cfg.Elasticsearch.Password,
	}, false)
}

// New builds the repositories. Connect must have been called for any
// backend other than memory. Background sweepers stop with ctx.
func New(ctx context.Context, cfg *config.Config, clock clockwork.Clock) (*Hub, error) {
	datasets, err := transforms.NewDatasets(cfg.Datasets)
	if err != nil {
		return nil, err
	}

	hub := &Hub{
		Config:    cfg,
		Clock:     clock,
		Recorder:  metrics.NewRecorder(),
		datasets:  datasets,
		publisher: publisher.Noop{},
	}

	var sink metrics.Sink = hub.Recorder
	if elastic_client.Client != nil {
		sink = metrics.Multi{hub.Recorder, &metrics.ElasticSink{Clock: clock, IndexPrefix: "sirihub-metrics"}}
	}

	if cfg.Queues.VehicleActivityPush != "" {
		queue, err := redis_client.QueueConnection.OpenQueue(cfg.Queues.VehicleActivityPush)
		if err != nil {
			return nil, fmt.Errorf("open vehicle activity queue: %w", err)
		}
		hub.publisher = publisher.NewQueuePublisher(queue, clock, publisherGoroutines)
	}

	journeys, err := newStore[*siri.EstimatedVehicleJourney](ctx, cfg, clock, "et", database.EstimatedTimetablesCollection)
	if err != nil {
		return nil, err
	}
	patternChanges, err := newStore[bool](ctx, cfg, clock, "et-pattern-changes", database.PatternChangesCollection)
	if err != nil {
		return nil, err
	}
	startTimes, err := newStore[time.Time](ctx, cfg, clock, "et-start-times", database.StartTimesCollection)
	if err != nil {
		return nil, err
	}
	activities, err := newStore[*siri.VehicleActivity](ctx, cfg, clock, "vm", database.VehicleActivitiesCollection)
	if err != nil {
		return nil, err
	}
	situationStore, err := newStore[*siri.PtSituationElement](ctx, cfg, clock, "sx", database.SituationsCollection)
	if err != nil {
		return nil, err
	}

	hub.EstimatedTimetables = estimatedtimetables.NewRepository(
		estimatedtimetables.Stores{
			Journeys:       journeys,
			PatternChanges: patternChanges,
			StartTimes:     startTimes,
		},
		newTracker(clock, siri.DataTypeEstimatedTimetable),
		clock,
		sink,
		estimatedtimetables.Options{
			GracePeriod:         cfg.GracePeriod.EstimatedTimetable,
			TrackingPeriod:      cfg.TrackingPeriod,
			AdHocTrackingPeriod: cfg.AdHocTrackingPeriod,
		},
	)

	hub.VehicleActivities = vehicleactivities.NewRepository(
		activities,
		newTracker(clock, siri.DataTypeVehicleMonitoring),
		clock,
		sink,
		hub.publisher,
		vehicleactivities.Options{
			GracePeriod:         cfg.GracePeriod.VehicleMonitoring,
			TrackingPeriod:      cfg.TrackingPeriod,
			AdHocTrackingPeriod: cfg.AdHocTrackingPeriod,
		},
	)

	hub.Situations = situations.NewRepository(
		situationStore,
		newTracker(clock, siri.DataTypeSituationExchange),
		clock,
		sink,
		situations.Options{
			GracePeriod:         cfg.GracePeriod.SituationExchange,
			TrackingPeriod:      cfg.TrackingPeriod,
			AdHocTrackingPeriod: cfg.AdHocTrackingPeriod,
			OpenEndedRetention:  cfg.SituationOpenEndedRetention,
		},
	)

	log.Info().Str("backend", cfg.StoreBackend).Int("datasets", len(datasets)).Msg("Hub ready")

	return hub, nil
}

func newStore[V any](ctx context.Context, cfg *config.Config, clock clockwork.Clock, namespace string, collection string) (expiringstore.Store[string, V], error) {
	switch cfg.StoreBackend {
	case "redis":
		return expiringstore.NewRedisStore[string, V](redis_client.Client, "sirihub:"+namespace), nil
	case "mongo":
		store := expiringstore.NewMongoStore[string, V](clock, database.GetCollection(collection))
		if err := store.EnsureIndexes(ctx); err != nil {
			return nil, fmt.Errorf("create indexes on %s: %w", collection, err)
		}
		return store, nil
	default:
		store := expiringstore.NewMemoryStore[string, V](clock)
		if cfg.SweepInterval > 0 {
			store.StartSweeper(ctx, cfg.SweepInterval)
		}
		return store, nil
	}
}

// newTracker keeps change tracking in redis whenever redis is connected so
// every instance shares requestor state. Each kind gets its own tracker
// since requestor ids are not unique across kinds.
func newTracker(clock clockwork.Clock, dataType siri.DataType) changetracker.Tracker {
	if redis_client.Client != nil {
		return changetracker.NewRedisTracker(clock, redis_client.Client, "sirihub:tracker:"+string(dataType))
	}

	return changetracker.NewMemoryTracker(clock)
}

// Dataset returns the transforms for a dataset, creating pass-through ones
// for datasets without configuration.
func (h *Hub) Dataset(datasetID string) *transforms.Dataset {
	h.datasetsMutex.Lock()
	defer h.datasetsMutex.Unlock()

	if dataset, exists := h.datasets[datasetID]; exists {
		return dataset
	}

	// Cannot fail without a filter expression
	dataset, _ := transforms.NewDataset(config.DatasetConfig{ID: datasetID})
	h.datasets[datasetID] = dataset

	return dataset
}

// Ingest applies the dataset transforms and stores every element of the
// delivery in its repository.
func (h *Hub) Ingest(ctx context.Context, datasetID string, delivery siri.ServiceDelivery) error {
	dataset := h.Dataset(datasetID)

	if journeys := dataset.EstimatedVehicleJourneys(delivery.EstimatedVehicleJourneys); len(journeys) > 0 {
		if _, err := h.EstimatedTimetables.AddAll(ctx, datasetID, journeys); err != nil {
			return fmt.Errorf("add estimated vehicle journeys: %w", err)
		}
	}

	if activities := dataset.VehicleActivities(delivery.VehicleActivities); len(activities) > 0 {
		if _, err := h.VehicleActivities.AddAll(ctx, datasetID, activities); err != nil {
			return fmt.Errorf("add vehicle activities: %w", err)
		}
	}

	if situationElements := dataset.Situations(delivery.Situations); len(situationElements) > 0 {
		if _, err := h.Situations.AddAll(ctx, datasetID, situationElements); err != nil {
			return fmt.Errorf("add situations: %w", err)
		}
	}

	return nil
}

// ClearAll drops every stored element and all requestor state.
func (h *Hub) ClearAll(ctx context.Context) error {
	for _, clearRepository := range []func(context.Context) error{
		h.EstimatedTimetables.ClearAll,
		h.VehicleActivities.ClearAll,
		h.Situations.ClearAll,
	} {
		if err := clearRepository(ctx); err != nil {
			return err
		}
	}

	return nil
}

// Close flushes pending vehicle activity pushes and metrics, then drops the
// MongoDB connection.
func (h *Hub) Close() {
	if queuePublisher, ok := h.publisher.(*publisher.QueuePublisher); ok {
		queuePublisher.Close()
	}

	elastic_client.WaitUntilQueueEmpty()

	if err := database.Disconnect(context.Background()); err != nil {
		log.Error().Err(err).Msg("Failed to disconnect from MongoDB")
	}
}
