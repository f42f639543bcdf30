package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/travigo/sirihub/pkg/util"
	"gopkg.in/yaml.v3"
)

var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	TrackingPeriod      time.Duration `yaml:"trackingPeriod" validate:"gt=0"`
	AdHocTrackingPeriod time.Duration `yaml:"adHocTrackingPeriod" validate:"gt=0"`
	DefaultMaxSize      int           `yaml:"defaultMaxSize" validate:"gt=0"`

	GracePeriod                 GracePeriodConfig `yaml:"gracePeriod"`
	SituationOpenEndedRetention time.Duration     `yaml:"situationOpenEndedRetention" validate:"gte=0"`

	StoreBackend  string        `yaml:"storeBackend" validate:"oneof=memory redis mongo"`
	SweepInterval time.Duration `yaml:"sweepInterval" validate:"gte=0"`

	Redis         RedisConfig         `yaml:"redis"`
	Mongo         MongoConfig         `yaml:"mongo"`
	Elasticsearch ElasticsearchConfig `yaml:"elasticsearch"`
	API           APIConfig           `yaml:"api"`
	Auth          AuthConfig          `yaml:"auth"`
	Queues        QueuesConfig        `yaml:"queues"`
	Consumers     ConsumersConfig     `yaml:"consumers"`

	Datasets []DatasetConfig `yaml:"datasets" validate:"dive"`
}

type GracePeriodConfig struct {
	EstimatedTimetable time.Duration `yaml:"et" validate:"gte=0"`
	VehicleMonitoring  time.Duration `yaml:"vm" validate:"gte=0"`
	SituationExchange  time.Duration `yaml:"sx" validate:"gte=0"`
}

type RedisConfig struct {
	Address  string `yaml:"address" validate:"required_if=Enabled true"`
	Password string `yaml:"password"`
	Database int    `yaml:"database" validate:"gte=0"`

	// Enabled is set when the store backend or any queue needs redis
	Enabled bool `yaml:"-"`
}

type MongoConfig struct {
	Connection string `yaml:"connection"`
	Database   string `yaml:"database"`
}

type ElasticsearchConfig struct {
	Address  string `yaml:"address" validate:"omitempty,url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type APIConfig struct {
	Listen string `yaml:"listen" validate:"required"`
}

type AuthConfig struct {
	Domain   string `yaml:"domain"`
	Audience string `yaml:"audience" validate:"required_with=Domain"`
}

type QueuesConfig struct {
	Ingest              string `yaml:"ingest"`
	VehicleActivityPush string `yaml:"vehicleActivityPush"`
}

type ConsumersConfig struct {
	Count     int           `yaml:"count" validate:"gt=0"`
	BatchSize int           `yaml:"batchSize" validate:"gt=0"`
	Timeout   time.Duration `yaml:"timeout" validate:"gt=0"`
}

type DatasetConfig struct {
	ID string `yaml:"id" validate:"required,excludesall=:"`

	// Source is a URL or file polled every RefreshInterval, empty for
	// datasets that only arrive through the ingest queue
	Source          string            `yaml:"source"`
	Format          string            `yaml:"format" validate:"omitempty,oneof=siri-xml gtfs-rt"`
	RefreshInterval time.Duration     `yaml:"refreshInterval" validate:"gte=0"`
	Headers         map[string]string `yaml:"headers"`

	IgnoreOperators   []string          `yaml:"ignoreOperators"`
	OperatorOverrides map[string]string `yaml:"operatorOverrides"`

	// Filter is an expression that must evaluate to true for an element to be kept
	Filter string `yaml:"filter"`

	Transforms []TransformConfig `yaml:"transforms" validate:"dive"`
}

type TransformConfig struct {
	Type  string            `yaml:"type" validate:"omitempty,oneof=et vm sx"`
	Match map[string]string `yaml:"match"`
	Data  map[string]any    `yaml:"data" validate:"required"`
}

func Default() *Config {
	return &Config{
		TrackingPeriod:      30 * time.Minute,
		AdHocTrackingPeriod: time.Minute,
		DefaultMaxSize:      1000,
		GracePeriod: GracePeriodConfig{
			EstimatedTimetable: 5 * time.Minute,
			VehicleMonitoring:  5 * time.Minute,
		},
		SituationOpenEndedRetention: 24 * time.Hour,
		StoreBackend:                "memory",
		SweepInterval:               time.Minute,
		Redis: RedisConfig{
			Address: "localhost:6379",
		},
		Mongo: MongoConfig{
			Connection: "mongodb://localhost:27017/",
			Database:   "sirihub",
		},
		API: APIConfig{
			Listen: ":8080",
		},
		Queues: QueuesConfig{
			Ingest: "sirihub-ingest",
		},
		Consumers: ConsumersConfig{
			Count:     5,
			BatchSize: 20,
			Timeout:   2 * time.Second,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file, an
// optional .env file and finally SIRIHUB_ environment variables.
func Load(path string) (*Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}

		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("Failed to load .env file")
	}

	if err := config.applyEnvironment(util.GetEnvironmentVariables()); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) applyEnvironment(env map[string]string) error {
	strings := map[string]*string{
		"SIRIHUB_STORE_BACKEND":          &c.StoreBackend,
		"SIRIHUB_REDIS_ADDRESS":          &c.Redis.Address,
		"SIRIHUB_REDIS_PASSWORD":         &c.Redis.Password,
		"SIRIHUB_MONGODB_CONNECTION":     &c.Mongo.Connection,
		"SIRIHUB_MONGODB_DATABASE":       &c.Mongo.Database,
		"SIRIHUB_ELASTICSEARCH_ADDRESS":  &c.Elasticsearch.Address,
		"SIRIHUB_ELASTICSEARCH_USERNAME": &c.Elasticsearch.Username,
		"SIRIHUB_ELASTICSEARCH_PASSWORD": &c.Elasticsearch.Password,
		"SIRIHUB_API_LISTEN":             &c.API.Listen,
		"SIRIHUB_AUTH_DOMAIN":            &c.Auth.Domain,
		"SIRIHUB_AUTH_AUDIENCE":          &c.Auth.Audience,
		"SIRIHUB_INGEST_QUEUE":           &c.Queues.Ingest,
		"SIRIHUB_VEHICLE_ACTIVITY_QUEUE": &c.Queues.VehicleActivityPush,
	}
	for name, target := range strings {
		if env[name] != "" {
			*target = env[name]
		}
	}

	durations := map[string]*time.Duration{
		"SIRIHUB_TRACKING_PERIOD":         &c.TrackingPeriod,
		"SIRIHUB_ADHOC_TRACKING_PERIOD":   &c.AdHocTrackingPeriod,
		"SIRIHUB_ET_GRACE_PERIOD":         &c.GracePeriod.EstimatedTimetable,
		"SIRIHUB_VM_GRACE_PERIOD":         &c.GracePeriod.VehicleMonitoring,
		"SIRIHUB_SX_GRACE_PERIOD":         &c.GracePeriod.SituationExchange,
		"SIRIHUB_SWEEP_INTERVAL":          &c.SweepInterval,
		"SIRIHUB_SX_OPEN_ENDED_RETENTION": &c.SituationOpenEndedRetention,
	}
	for name, target := range durations {
		if env[name] == "" {
			continue
		}

		duration, err := time.ParseDuration(env[name])
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalid, name, err)
		}
		*target = duration
	}

	integers := map[string]*int{
		"SIRIHUB_REDIS_DATABASE":   &c.Redis.Database,
		"SIRIHUB_DEFAULT_MAX_SIZE": &c.DefaultMaxSize,
		"SIRIHUB_CONSUMERS":        &c.Consumers.Count,
	}
	for name, target := range integers {
		if env[name] == "" {
			continue
		}

		n, err := strconv.Atoi(env[name])
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalid, name, err)
		}
		*target = n
	}

	return nil
}

func (c *Config) Validate() error {
	c.Redis.Enabled = c.StoreBackend == "redis" || c.Queues.Ingest != "" || c.Queues.VehicleActivityPush != ""

	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	seen := map[string]bool{}
	for _, dataset := range c.Datasets {
		if seen[dataset.ID] {
			return fmt.Errorf("%w: dataset %s defined twice", ErrInvalid, dataset.ID)
		}
		seen[dataset.ID] = true

		if dataset.Source != "" && dataset.Format == "" {
			return fmt.Errorf("%w: dataset %s has a source but no format", ErrInvalid, dataset.ID)
		}
	}

	return nil
}

// Dataset returns the configuration for a dataset, or an empty one with
// just the id when the dataset has no explicit configuration.
func (c *Config) Dataset(id string) DatasetConfig {
	for _, dataset := range c.Datasets {
		if dataset.ID == id {
			return dataset
		}
	}

	return DatasetConfig{ID: id}
}
