package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	path := filepath.Join(t.TempDir(), "sirihub.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	return path
}

func TestLoadDefaults(t *testing.T) {
	config, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 30*time.Minute, config.TrackingPeriod)
	assert.Equal(t, time.Minute, config.AdHocTrackingPeriod)
	assert.Equal(t, 1000, config.DefaultMaxSize)
	assert.Equal(t, 5*time.Minute, config.GracePeriod.EstimatedTimetable)
	assert.Equal(t, "memory", config.StoreBackend)
}

func TestLoadYAMLAndEnvironment(t *testing.T) {
	path := writeConfig(t, `
trackingPeriod: 10m
gracePeriod:
  et: 2m
storeBackend: redis
datasets:
  - id: ATB
    ignoreOperators: [BAD]
    operatorOverrides:
      "177": ATB
    filter: 'LineRef != ""'
    source: https://api.example.com/siri/et
    format: siri-xml
    refreshInterval: 30s
    transforms:
      - type: et
        match:
          OperatorRef: ATB
        data:
          PublishedLineName: Metro
`)

	t.Setenv("SIRIHUB_TRACKING_PERIOD", "15m")
	t.Setenv("SIRIHUB_DEFAULT_MAX_SIZE", "50")

	config, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 15*time.Minute, config.TrackingPeriod)
	assert.Equal(t, 2*time.Minute, config.GracePeriod.EstimatedTimetable)
	assert.Equal(t, 50, config.DefaultMaxSize)
	assert.Equal(t, "redis", config.StoreBackend)

	dataset := config.Dataset("ATB")
	assert.Equal(t, []string{"BAD"}, dataset.IgnoreOperators)
	assert.Equal(t, "ATB", dataset.OperatorOverrides["177"])
	assert.Equal(t, "siri-xml", dataset.Format)
	assert.Equal(t, 30*time.Second, dataset.RefreshInterval)
	require.Len(t, dataset.Transforms, 1)
	assert.Equal(t, "Metro", dataset.Transforms[0].Data["PublishedLineName"])

	assert.Equal(t, DatasetConfig{ID: "unknown"}, config.Dataset("unknown"))
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name     string
		contents string
		env      map[string]string
	}{
		{name: "unknown backend", contents: "storeBackend: etcd"},
		{name: "zero tracking period", contents: "trackingPeriod: 0s"},
		{name: "dataset id with separator", contents: "datasets:\n  - id: 'A:B'"},
		{name: "duplicate dataset", contents: "datasets:\n  - id: A\n  - id: A"},
		{name: "source without format", contents: "datasets:\n  - id: A\n    source: https://example.com/et"},
		{name: "unknown format", contents: "datasets:\n  - id: A\n    source: feed.xml\n    format: netex"},
		{name: "audience missing", contents: "auth:\n  domain: example.eu.auth0.com"},
		{name: "bad duration", env: map[string]string{"SIRIHUB_TRACKING_PERIOD": "soon"}},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			for name, value := range test.env {
				t.Setenv(name, value)
			}

			path := ""
			if test.contents != "" {
				path = writeConfig(t, test.contents)
			}

			_, err := Load(path)
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}
