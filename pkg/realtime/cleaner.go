package realtime

import (
	"context"
	"time"

	"github.com/adjust/rmq/v5"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

const cleanInterval = 5 * time.Minute

// StartCleaner returns deliveries held by dead consumers to their queues
// every interval until ctx is done.
func StartCleaner(ctx context.Context, connection rmq.Connection, clock clockwork.Clock, interval time.Duration) {
	cleaner := rmq.NewCleaner(connection)

	log.Info().Msg("Starting queue cleaner process")

	ticker := clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			returned, err := cleaner.Clean()
			if err != nil {
				log.Error().Err(err).Msg("Failed to clean")
				continue
			}

			if returned != 0 {
				log.Info().Msgf("Cleaned %d records", returned)
			}
		}
	}
}
