package main

import (
	"os"

	"github.com/rs/zerolog/log"
	"github.com/travigo/sirihub/pkg/api"
	"github.com/travigo/sirihub/pkg/dataimporter"
	"github.com/travigo/sirihub/pkg/logger"
	"github.com/travigo/sirihub/pkg/realtime"
	"github.com/travigo/sirihub/pkg/util"
	"github.com/urfave/cli/v2"

	_ "time/tzdata"
)

func main() {
	logger.Setup(logger.ConfigFromEnvironment(util.GetEnvironmentVariables()))

	app := &cli.App{
		Name:        "sirihub",
		Description: "SIRI real-time hub - ingests ET, VM and SX data and serves it to subscribers",

		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the YAML configuration file",
				EnvVars: []string{"SIRIHUB_CONFIG"},
			},
		},

		Commands: []*cli.Command{
			api.RegisterCLI(),
			realtime.RegisterCLI(),
			dataimporter.RegisterCLI(),
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		log.Fatal().Err(err).Send()
	}
}
