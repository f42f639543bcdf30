package api

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"
	"github.com/travigo/sirihub/pkg/config"
	"github.com/travigo/sirihub/pkg/consumer"
	"github.com/travigo/sirihub/pkg/hub"
	"github.com/travigo/sirihub/pkg/redis_client"
	"github.com/urfave/cli/v2"
)

func RegisterCLI() *cli.Command {
	return &cli.Command{
		Name:  "api",
		Usage: "Provides the SIRI delivery and ingest API",
		Subcommands: []*cli.Command{
			{
				Name:  "run",
				Usage: "run api server",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "listen",
						Usage: "listen target for the web server, overrides the configured one",
					},
				},
				Action: func(c *cli.Context) error {
					cfg, err := config.Load(c.String("config"))
					if err != nil {
						return err
					}
					if c.String("listen") != "" {
						cfg.API.Listen = c.String("listen")
					}

					ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
					defer stop()

					server, closeServer, err := Setup(ctx, cfg)
					if err != nil {
						return err
					}
					defer closeServer()

					return server.Listen(cfg.API.Listen)
				},
			},
		},
	}
}

// Setup connects the configured backends and builds a server around a new
// hub. The returned func releases the hub.
func Setup(ctx context.Context, cfg *config.Config) (*Server, func(), error) {
	if err := hub.Connect(cfg); err != nil {
		return nil, nil, err
	}

	h, err := hub.New(ctx, cfg, clockwork.NewRealClock())
	if err != nil {
		return nil, nil, err
	}

	server := NewServer(h, consumer.NewHealthHandler(redis_client.Client))
	if redis_client.QueueConnection != nil {
		server.QueueConnection = redis_client.QueueConnection
	}

	return server, h.Close, nil
}
