package api

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEffectiveMaxSize(t *testing.T) {
	tests := []struct {
		name      string
		maxSize   int
		datasetID string
		expected  int
	}{
		{name: "explicit", maxSize: 50, expected: 50},
		{name: "explicit with dataset", maxSize: 50, datasetID: "ATB", expected: 50},
		{name: "absent", maxSize: -1, expected: 1000},
		{name: "zero", maxSize: 0, expected: 1000},
		{name: "absent with dataset", maxSize: -1, datasetID: "ATB", expected: 0},
		{name: "zero with dataset", maxSize: 0, datasetID: "ATB", expected: 0},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.expected, effectiveMaxSize(test.maxSize, test.datasetID, 1000))
		})
	}
}

func TestParsePreviewInterval(t *testing.T) {
	now := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		value    string
		expected time.Duration
		invalid  bool
	}{
		{value: "30", expected: 30 * time.Minute},
		{value: "0", expected: 0},
		{value: "PT2H", expected: 2 * time.Hour},
		{value: "PT1H30M", expected: 90 * time.Minute},
		{value: "P1D", expected: 24 * time.Hour},
		{value: "-5", invalid: true},
		{value: "later", invalid: true},
	}

	for _, test := range tests {
		t.Run(test.value, func(t *testing.T) {
			interval, err := parsePreviewInterval(test.value, now)
			if test.invalid {
				assert.ErrorIs(t, err, errInvalidParameter)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, test.expected, interval)
		})
	}
}
