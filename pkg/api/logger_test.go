package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/travigo/sirihub/pkg/siri"
)

func captureLog(t *testing.T) *bytes.Buffer {
	buffer := &bytes.Buffer{}

	previous := log.Logger
	log.Logger = zerolog.New(buffer)
	t.Cleanup(func() { log.Logger = previous })

	return buffer
}

func accessLines(t *testing.T, buffer *bytes.Buffer) []map[string]any {
	var lines []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buffer.String()), "\n") {
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))

		if entry["message"] == "HTTP Request" || entry["status"] != nil {
			lines = append(lines, entry)
		}
	}

	return lines
}

func TestLoggerRecordsDelivery(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.hub.Ingest(context.Background(), "ATB", siri.ServiceDelivery{
		EstimatedVehicleJourneys: []*siri.EstimatedVehicleJourney{journey("1"), journey("2")},
	}))

	buffer := captureLog(t)
	f.get(t, "/siri/et?datasetId=ATB&requestorId=r1&maxSize=1")

	lines := accessLines(t, buffer)
	require.Len(t, lines, 1)

	entry := lines[0]
	assert.Equal(t, "debug", entry["level"])
	assert.Equal(t, float64(http.StatusOK), entry["status"])
	assert.Equal(t, "/siri/et", entry["route"])
	assert.Equal(t, "ATB", entry["dataset"])
	assert.Equal(t, "r1", entry["requestor"])
	assert.Equal(t, float64(1), entry["delivered"])
	assert.Equal(t, true, entry["moreData"])
	assert.Greater(t, entry["bytes"], float64(0))
}

func TestLoggerReportsAssignedRequestor(t *testing.T) {
	f := newFixture(t)

	buffer := captureLog(t)
	response := f.get(t, "/siri/sx?datasetId=ATB")

	lines := accessLines(t, buffer)
	require.Len(t, lines, 1)
	assert.Equal(t, response["requestorId"], lines[0]["requestor"])
	assert.NotEmpty(t, lines[0]["requestor"])
	assert.Equal(t, float64(0), lines[0]["delivered"])
}

func TestLoggerWarnsOnClientErrors(t *testing.T) {
	f := newFixture(t)

	buffer := captureLog(t)
	status, _ := f.request(t, http.MethodPost, "/ingest/A:B?format=gtfsrt", nil)
	require.Equal(t, http.StatusBadRequest, status)

	lines := accessLines(t, buffer)
	require.Len(t, lines, 1)
	assert.Equal(t, "warn", lines[0]["level"])
	assert.Equal(t, "/ingest/:datasetId", lines[0]["route"])
	assert.Equal(t, "A:B", lines[0]["dataset"])
	assert.Equal(t, "gtfsrt", lines[0]["format"])
	assert.NotContains(t, lines[0], "delivered")
}
