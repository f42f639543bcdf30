package dataimporter

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/travigo/sirihub/pkg/config"
	"github.com/travigo/sirihub/pkg/consumer"
	"github.com/travigo/sirihub/pkg/hub"
	"github.com/travigo/sirihub/pkg/redis_client"
	"github.com/urfave/cli/v2"

	_ "time/tzdata"
)

func RegisterCLI() *cli.Command {
	queueFlag := &cli.BoolFlag{
		Name:  "queue",
		Usage: "Publish onto the ingest queue instead of storing directly",
	}

	return &cli.Command{
		Name:  "import",
		Usage: "Import SIRI and GTFS-RT feeds",
		Subcommands: []*cli.Command{
			{
				Name:  "dataset",
				Usage: "Import a dataset",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "id",
						Usage:    "ID of the dataset",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "source",
						Usage: "URL or file to import, overrides the configured source",
					},
					&cli.StringFlag{
						Name:  "format",
						Usage: "siri-xml or gtfs-rt, overrides the configured format",
					},
					&cli.StringFlag{
						Name:     "repeat-every",
						Usage:    "Repeat this import every X (e.g. 30s)",
						Required: false,
					},
					queueFlag,
				},
				Action: func(c *cli.Context) error {
					cfg, err := config.Load(c.String("config"))
					if err != nil {
						return err
					}

					dataset := cfg.Dataset(c.String("id"))
					if c.String("source") != "" {
						dataset.Source = c.String("source")
					}
					if c.String("format") != "" {
						dataset.Format = c.String("format")
					}

					var repeatDuration time.Duration
					if repeatEvery := c.String("repeat-every"); repeatEvery != "" {
						repeatDuration, err = time.ParseDuration(repeatEvery)
						if err != nil {
							return err
						}
					}

					ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
					defer stop()

					importer, closeImporter, err := newImporter(ctx, cfg, c.Bool("queue"))
					if err != nil {
						return err
					}
					defer closeImporter()

					return importer.Run(ctx, dataset, repeatDuration)
				},
			},
			{
				Name:  "all",
				Usage: "Poll every dataset with a configured source",
				Flags: []cli.Flag{queueFlag},
				Action: func(c *cli.Context) error {
					cfg, err := config.Load(c.String("config"))
					if err != nil {
						return err
					}

					ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
					defer stop()

					importer, closeImporter, err := newImporter(ctx, cfg, c.Bool("queue"))
					if err != nil {
						return err
					}
					defer closeImporter()

					importer.RunAll(ctx, cfg.Datasets)

					return nil
				},
			},
		},
	}
}

func newImporter(ctx context.Context, cfg *config.Config, useQueue bool) (*Importer, func(), error) {
	clock := clockwork.NewRealClock()

	if useQueue {
		if err := redis_client.Connect(cfg.Redis); err != nil {
			return nil, nil, fmt.Errorf("connect to redis: %w", err)
		}

		queue, err := redis_client.QueueConnection.OpenQueue(cfg.Queues.Ingest)
		if err != nil {
			return nil, nil, err
		}

		log.Info().Str("queue", cfg.Queues.Ingest).Msg("Importing onto ingest queue")

		return NewImporter(&consumer.QueueIngester{Queue: queue}, clock), func() {}, nil
	}

	if err := hub.Connect(cfg); err != nil {
		return nil, nil, err
	}

	h, err := hub.New(ctx, cfg, clock)
	if err != nil {
		return nil, nil, err
	}

	return NewImporter(h, clock), h.Close, nil
}
