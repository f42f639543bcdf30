package realtime

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
	"github.com/travigo/sirihub/pkg/api"
	"github.com/travigo/sirihub/pkg/config"
	"github.com/travigo/sirihub/pkg/consumer"
	"github.com/travigo/sirihub/pkg/dataimporter"
	"github.com/travigo/sirihub/pkg/hub"
	"github.com/travigo/sirihub/pkg/redis_client"
	"github.com/travigo/sirihub/pkg/siri"
	"github.com/urfave/cli/v2"
)

func RegisterCLI() *cli.Command {
	return &cli.Command{
		Name:  "realtime",
		Usage: "Run and inspect the realtime hub",
		Subcommands: []*cli.Command{
			{
				Name:  "run",
				Usage: "Serve the API, consume the ingest queue and poll dataset sources in one process",
				Action: func(c *cli.Context) error {
					cfg, err := config.Load(c.String("config"))
					if err != nil {
						return err
					}

					ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
					defer stop()

					return run(ctx, cfg)
				},
			},
			{
				Name:  "inspect",
				Usage: "Print what is currently stored",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "type",
						Usage:    "et, vm or sx",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "dataset",
						Usage: "Only print elements of this dataset",
					},
					&cli.StringFlag{
						Name:  "format",
						Value: "text",
						Usage: "text or csv",
					},
				},
				Action: func(c *cli.Context) error {
					cfg, err := config.Load(c.String("config"))
					if err != nil {
						return err
					}

					dataType := siri.DataType(c.String("type"))
					if !dataType.IsValid() {
						return fmt.Errorf("unknown data type %q", dataType)
					}

					if err := hub.Connect(cfg); err != nil {
						return err
					}

					h, err := hub.New(c.Context, cfg, clockwork.NewRealClock())
					if err != nil {
						return err
					}
					defer h.Close()

					return Inspect(c.Context, h, dataType, c.String("dataset"), c.String("format") == "csv", os.Stdout)
				},
			},
			{
				Name:  "cleaner",
				Usage: "Return deliveries of dead consumers to their queues",
				Action: func(c *cli.Context) error {
					cfg, err := config.Load(c.String("config"))
					if err != nil {
						return err
					}

					if err := redis_client.Connect(cfg.Redis); err != nil {
						return err
					}

					ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
					defer stop()

					StartCleaner(ctx, redis_client.QueueConnection, clockwork.NewRealClock(), cleanInterval)

					return nil
				},
			},
		},
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	server, closeHub, err := api.Setup(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeHub()

	h := server.Hub()

	if redis_client.QueueConnection != nil && cfg.Queues.Ingest != "" {
		ingestConsumer := consumer.NewRedisConsumer(
			redis_client.QueueConnection,
			cfg.Queues.Ingest,
			cfg.Consumers,
			consumer.NewIngestConsumer(h, cfg.Consumers.BatchSize),
		)
		if err := ingestConsumer.Setup(); err != nil {
			return fmt.Errorf("start ingest consumers: %w", err)
		}
		defer func() {
			<-redis_client.QueueConnection.StopAllConsuming()
			log.Info().Msg("Stopped consumers")
		}()
	}

	app, err := server.App()
	if err != nil {
		return err
	}

	var wg conc.WaitGroup
	defer wg.Wait()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	wg.Go(func() {
		dataimporter.NewImporter(h, h.Clock).RunAll(ctx, cfg.Datasets)
	})

	if redis_client.QueueConnection != nil {
		wg.Go(func() {
			StartCleaner(ctx, redis_client.QueueConnection, h.Clock, cleanInterval)
		})
	}

	listenErr := make(chan error, 1)
	go func() {
		log.Info().Str("listen", cfg.API.Listen).Msg("Starting API server")
		listenErr <- app.Listen(cfg.API.Listen)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down")
		return app.Shutdown()
	case err := <-listenErr:
		return err
	}
}
