package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/adjust/rmq/v5"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"
	"github.com/travigo/sirihub/pkg/siri"
	"github.com/travigo/sirihub/pkg/util"
)

var ErrInvalidMessage = errors.New("invalid ingest message")

// IngestMessage is one queued delivery of a single data type. Payload is a
// JSON array of that type's elements.
type IngestMessage struct {
	Type      siri.DataType   `json:"type"`
	DatasetID string          `json:"datasetId"`
	Payload   json.RawMessage `json:"payload"`
}

// Decode unpacks the payload into a delivery holding only Type's elements.
func (m *IngestMessage) Decode() (siri.ServiceDelivery, error) {
	var delivery siri.ServiceDelivery
	var err error

	switch m.Type {
	case siri.DataTypeEstimatedTimetable:
		err = json.Unmarshal(m.Payload, &delivery.EstimatedVehicleJourneys)
	case siri.DataTypeVehicleMonitoring:
		err = json.Unmarshal(m.Payload, &delivery.VehicleActivities)
	case siri.DataTypeSituationExchange:
		err = json.Unmarshal(m.Payload, &delivery.Situations)
	default:
		return delivery, fmt.Errorf("%w: unknown type %q", ErrInvalidMessage, m.Type)
	}
	if err != nil {
		return delivery, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}

	return delivery, nil
}

// NewIngestMessages splits a delivery into one message per data type.
func NewIngestMessages(datasetID string, delivery siri.ServiceDelivery) ([]IngestMessage, error) {
	parts := []struct {
		dataType siri.DataType
		size     int
		elements any
	}{
		{siri.DataTypeEstimatedTimetable, len(delivery.EstimatedVehicleJourneys), delivery.EstimatedVehicleJourneys},
		{siri.DataTypeVehicleMonitoring, len(delivery.VehicleActivities), delivery.VehicleActivities},
		{siri.DataTypeSituationExchange, len(delivery.Situations), delivery.Situations},
	}

	var messages []IngestMessage
	for _, part := range parts {
		if part.size == 0 {
			continue
		}

		payload, err := json.Marshal(part.elements)
		if err != nil {
			return nil, err
		}

		messages = append(messages, IngestMessage{
			Type:      part.dataType,
			DatasetID: datasetID,
			Payload:   payload,
		})
	}

	return messages, nil
}

// Ingester is what consumed messages are handed to, normally the hub.
type Ingester interface {
	Ingest(ctx context.Context, datasetID string, delivery siri.ServiceDelivery) error
}

// IngestConsumer stores queued deliveries. Deliveries are processed
// concurrently, each one acked once stored and rejected when it cannot be
// decoded. Deliveries that fail to store are pushed back for a retry.
type IngestConsumer struct {
	ingester      Ingester
	maxGoroutines int
}

func NewIngestConsumer(ingester Ingester, maxGoroutines int) *IngestConsumer {
	return &IngestConsumer{
		ingester:      ingester,
		maxGoroutines: maxGoroutines,
	}
}

func (c *IngestConsumer) Consume(batch rmq.Deliveries) {
	processingPool := pool.New().WithMaxGoroutines(c.maxGoroutines)

	for _, delivery := range batch {
		delivery := delivery
		processingPool.Go(func() {
			c.consume(context.Background(), delivery)
		})
	}

	processingPool.Wait()
}

func (c *IngestConsumer) consume(ctx context.Context, delivery rmq.Delivery) {
	var message IngestMessage
	err := json.Unmarshal([]byte(delivery.Payload()), &message)

	var serviceDelivery siri.ServiceDelivery
	if err == nil {
		serviceDelivery, err = message.Decode()
	}
	if err != nil {
		log.Error().Err(err).Str("payload", util.TrimString(delivery.Payload(), 200)).Msg("Rejecting ingest message")
		if err := delivery.Reject(); err != nil {
			log.Error().Err(err).Msg("Failed to reject ingest message")
		}
		return
	}

	if err := c.ingester.Ingest(ctx, message.DatasetID, serviceDelivery); err != nil {
		log.Error().Err(err).Str("dataset", message.DatasetID).Str("type", string(message.Type)).Msg("Failed to ingest message")
		if err := delivery.Push(); err != nil {
			log.Error().Err(err).Msg("Failed to push back ingest message")
		}
		return
	}

	if err := delivery.Ack(); err != nil {
		log.Error().Err(err).Msg("Failed to ack ingest message")
	}
}

// QueueIngester publishes deliveries onto the ingest queue instead of
// storing them, so imports can run apart from the instances holding state.
type QueueIngester struct {
	Queue rmq.Queue
}

func (q *QueueIngester) Ingest(_ context.Context, datasetID string, delivery siri.ServiceDelivery) error {
	messages, err := NewIngestMessages(datasetID, delivery)
	if err != nil {
		return err
	}

	for _, message := range messages {
		encoded, err := json.Marshal(message)
		if err != nil {
			return err
		}

		if err := q.Queue.PublishBytes(encoded); err != nil {
			return fmt.Errorf("publish ingest message: %w", err)
		}
	}

	log.Info().Str("dataset", datasetID).Int("messages", len(messages)).Int("elements", delivery.Size()).Msg("Queued delivery")

	return nil
}
