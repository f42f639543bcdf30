package logger

import (
	"io"
	"os"
	"time"

	"github.com/natefinch/lumberjack"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Config struct {
	JSON  bool
	Debug bool

	// File enables a rotated log file next to the console output
	File string
}

// ConfigFromEnvironment reads SIRIHUB_LOG_FORMAT, SIRIHUB_DEBUG and SIRIHUB_LOG_FILE.
func ConfigFromEnvironment(env map[string]string) Config {
	return Config{
		JSON:  env["SIRIHUB_LOG_FORMAT"] == "JSON",
		Debug: env["SIRIHUB_DEBUG"] == "YES",
		File:  env["SIRIHUB_LOG_FILE"],
	}
}

// Setup replaces the global zerolog logger.
func Setup(config Config) {
	var output io.Writer = os.Stdout
	if !config.JSON {
		output = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	if config.File != "" {
		output = zerolog.MultiLevelWriter(output, &lumberjack.Logger{
			Filename:   config.File,
			MaxSize:    50,
			MaxBackups: 5,
			MaxAge:     14,
			Compress:   true,
		})
	}

	level := zerolog.InfoLevel
	if config.Debug {
		level = zerolog.DebugLevel
	}

	log.Logger = zerolog.New(output).With().Timestamp().Logger().Level(level)
}
