package publisher

import (
	"encoding/json"
	"time"

	"github.com/adjust/rmq/v5"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"
	"github.com/travigo/sirihub/pkg/siri"
)

// Publisher pushes stored vehicle activities to downstream subscribers.
// Publish never blocks the ingest path on failure and never returns errors.
type Publisher interface {
	Publish(datasetID string, activity *siri.VehicleActivity)
}

type Noop struct{}

func (Noop) Publish(string, *siri.VehicleActivity) {}

type VehicleActivityEvent struct {
	DatasetID       string
	PublishedAt     time.Time
	VehicleActivity *siri.VehicleActivity
}

type QueuePublisher struct {
	queue rmq.Queue
	clock clockwork.Clock
	pool  *pool.Pool
}

func NewQueuePublisher(queue rmq.Queue, clock clockwork.Clock, maxGoroutines int) *QueuePublisher {
	p := pool.New()
	if maxGoroutines > 0 {
		p = p.WithMaxGoroutines(maxGoroutines)
	}

	return &QueuePublisher{
		queue: queue,
		clock: clock,
		pool:  p,
	}
}

func (p *QueuePublisher) Publish(datasetID string, activity *siri.VehicleActivity) {
	event := VehicleActivityEvent{
		DatasetID:       datasetID,
		PublishedAt:     p.clock.Now(),
		VehicleActivity: activity,
	}

	p.pool.Go(func() {
		eventJson, err := json.Marshal(event)
		if err != nil {
			log.Error().Err(err).Str("dataset", datasetID).Msg("Failed to encode vehicle activity event")
			return
		}

		if err := p.queue.PublishBytes(eventJson); err != nil {
			log.Error().Err(err).Str("dataset", datasetID).Msg("Failed to publish vehicle activity event")
		}
	})
}

// Close waits for in-flight publishes. The publisher cannot be used afterwards.
func (p *QueuePublisher) Close() {
	p.pool.Wait()
}
