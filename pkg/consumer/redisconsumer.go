package consumer

import (
	"fmt"
	"time"

	"github.com/adjust/rmq/v5"
	"github.com/rs/zerolog/log"
	"github.com/travigo/sirihub/pkg/config"
)

type RedisConsumer struct {
	Connection rmq.Connection
	QueueName  string

	NumberConsumers int
	BatchSize       int

	Timeout time.Duration

	Consumer rmq.BatchConsumer
}

func NewRedisConsumer(connection rmq.Connection, queueName string, consumersConfig config.ConsumersConfig, consumer rmq.BatchConsumer) *RedisConsumer {
	return &RedisConsumer{
		Connection:      connection,
		QueueName:       queueName,
		NumberConsumers: consumersConfig.Count,
		BatchSize:       consumersConfig.BatchSize,
		Timeout:         consumersConfig.Timeout,
		Consumer:        consumer,
	}
}

// Setup starts consuming the queue in the background. Stop it with
// Connection.StopAllConsuming.
func (c *RedisConsumer) Setup() error {
	log.Info().Str("queue", c.QueueName).Msg("Starting consumers")

	queue, err := c.Connection.OpenQueue(c.QueueName)
	if err != nil {
		return err
	}
	if err := queue.StartConsuming(int64(c.NumberConsumers*c.BatchSize), 1*time.Second); err != nil {
		return err
	}

	for i := 0; i < c.NumberConsumers; i++ {
		log.Info().Msgf("Starting %s consumer %d", c.QueueName, i)

		if _, err := queue.AddBatchConsumer(fmt.Sprintf("%s-%d", c.QueueName, i), int64(c.BatchSize), c.Timeout, c.Consumer); err != nil {
			return err
		}
	}

	return nil
}
