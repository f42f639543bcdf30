package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/travigo/sirihub/pkg/config"
	"github.com/travigo/sirihub/pkg/consumer"
	"github.com/travigo/sirihub/pkg/hub"
	"github.com/travigo/sirihub/pkg/siri"
)

var testNow = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

type fixture struct {
	hub *hub.Hub
	app *fiber.App
}

func newFixture(t *testing.T) *fixture {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	h, err := hub.New(ctx, config.Default(), clockwork.NewFakeClockAt(testNow))
	require.NoError(t, err)

	app, err := NewServer(h, consumer.NewHealthHandler(nil)).App()
	require.NoError(t, err)

	return &fixture{hub: h, app: app}
}

func (f *fixture) request(t *testing.T, method string, target string, body io.Reader) (int, []byte) {
	response, err := f.app.Test(httptest.NewRequest(method, target, body))
	require.NoError(t, err)
	defer response.Body.Close()

	content, err := io.ReadAll(response.Body)
	require.NoError(t, err)

	return response.StatusCode, content
}

func (f *fixture) get(t *testing.T, target string) map[string]any {
	status, content := f.request(t, http.MethodGet, target, nil)
	require.Equal(t, http.StatusOK, status, string(content))

	var response map[string]any
	require.NoError(t, json.Unmarshal(content, &response))

	return response
}

func elements(t *testing.T, response map[string]any, field string) []any {
	list, ok := response[field].([]any)
	require.True(t, ok, "%s missing from %v", field, response)

	return list
}

func journey(vehicleRef string) *siri.EstimatedVehicleJourney {
	return &siri.EstimatedVehicleJourney{
		OperatorRef:  "ATB",
		LineRef:      "ATB:Line:3",
		VehicleRef:   vehicleRef,
		DirectionRef: "1",
		EstimatedCalls: []siri.EstimatedCall{
			{StopPointRef: "A", Order: 1, AimedDepartureTime: testNow.Add(10 * time.Minute)},
			{StopPointRef: "B", Order: 2, AimedArrivalTime: testNow.Add(20 * time.Minute)},
		},
	}
}

func activity(vehicleRef string) *siri.VehicleActivity {
	return &siri.VehicleActivity{
		RecordedAtTime: testNow,
		ItemIdentifier: "item-" + vehicleRef,
		ValidUntilTime: testNow.Add(10 * time.Minute),
		MonitoredVehicleJourney: &siri.MonitoredVehicleJourney{
			OperatorRef:     "ATB",
			LineRef:         "ATB:Line:3",
			VehicleRef:      vehicleRef,
			VehicleLocation: &siri.VehicleLocation{Longitude: 10.39, Latitude: 63.43},
		},
	}
}

func situation(number string) *siri.PtSituationElement {
	return &siri.PtSituationElement{
		SituationNumber: number,
		ParticipantRef:  "ATB",
		ValidityPeriods: []siri.ValidityPeriod{{StartTime: testNow, EndTime: testNow.Add(time.Hour)}},
	}
}

func TestEstimatedTimetables(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.hub.Ingest(context.Background(), "ATB", siri.ServiceDelivery{
		EstimatedVehicleJourneys: []*siri.EstimatedVehicleJourney{journey("1"), journey("2")},
	}))

	response := f.get(t, "/siri/et?requestorId=r1")
	assert.Equal(t, "r1", response["requestorId"])
	assert.Equal(t, false, response["moreData"])
	assert.Len(t, elements(t, response, "estimatedVehicleJourneys"), 2)

	response = f.get(t, "/siri/et?requestorId=r1")
	assert.Empty(t, elements(t, response, "estimatedVehicleJourneys"))

	response = f.get(t, "/siri/et?lineRef=atb:line:3")
	assert.Len(t, elements(t, response, "estimatedVehicleJourneys"), 2)

	response = f.get(t, "/siri/et?lineRef=ATB:Line:4")
	assert.Empty(t, elements(t, response, "estimatedVehicleJourneys"))

	response = f.get(t, "/siri/et?requestorId=r2&previewInterval=PT5M")
	assert.Empty(t, elements(t, response, "estimatedVehicleJourneys"))

	response = f.get(t, "/siri/et?requestorId=r2&previewInterval=15")
	assert.Len(t, elements(t, response, "estimatedVehicleJourneys"), 2)
}

func TestEstimatedTimetableUpdates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.hub.Ingest(ctx, "ATB", siri.ServiceDelivery{
		EstimatedVehicleJourneys: []*siri.EstimatedVehicleJourney{journey("1")},
	}))

	response := f.get(t, "/siri/et/updates?requestorId=r1")
	assert.Len(t, elements(t, response, "estimatedVehicleJourneys"), 1)

	response = f.get(t, "/siri/et/updates?requestorId=r1")
	assert.Empty(t, elements(t, response, "estimatedVehicleJourneys"))

	require.NoError(t, f.hub.Ingest(ctx, "ATB", siri.ServiceDelivery{
		EstimatedVehicleJourneys: []*siri.EstimatedVehicleJourney{journey("2")},
	}))

	response = f.get(t, "/siri/et/updates?requestorId=r1")
	assert.Len(t, elements(t, response, "estimatedVehicleJourneys"), 1)
}

func TestVehicleMonitoring(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.hub.Ingest(context.Background(), "ATB", siri.ServiceDelivery{
		VehicleActivities: []*siri.VehicleActivity{activity("1")},
	}))

	response := f.get(t, "/siri/vm?detail=basic")
	activities := elements(t, response, "vehicleActivities")
	require.Len(t, activities, 1)
	assert.NotEmpty(t, response["requestorId"])

	first := activities[0].(map[string]any)
	assert.Contains(t, first, "RecordedAtTime")
	assert.NotContains(t, first, "ItemIdentifier")

	response = f.get(t, "/siri/vm")
	first = elements(t, response, "vehicleActivities")[0].(map[string]any)
	assert.Equal(t, "item-1", first["ItemIdentifier"])

	response = f.get(t, "/siri/vm?lineRef=ATB:Line:3")
	assert.Len(t, elements(t, response, "vehicleActivities"), 1)

	response = f.get(t, "/siri/vm/updates?requestorId=r1")
	assert.Len(t, elements(t, response, "vehicleActivities"), 1)
}

func TestSituationExchangeMaxSize(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.hub.Ingest(context.Background(), "ATB", siri.ServiceDelivery{
		Situations: []*siri.PtSituationElement{situation("1"), situation("2"), situation("3")},
	}))

	response := f.get(t, "/siri/sx?requestorId=r1&maxSize=2")
	assert.Len(t, elements(t, response, "situations"), 2)
	assert.Equal(t, true, response["moreData"])

	response = f.get(t, "/siri/sx?requestorId=r1&maxSize=2")
	assert.Len(t, elements(t, response, "situations"), 1)
	assert.Equal(t, false, response["moreData"])

	response = f.get(t, "/siri/sx/updates?requestorId=r1")
	assert.Empty(t, elements(t, response, "situations"))

	response = f.get(t, "/siri/sx?datasetId=ATB&maxSize=0")
	assert.Len(t, elements(t, response, "situations"), 3)

	response = f.get(t, "/siri/sx?datasetId=RUT")
	assert.Empty(t, elements(t, response, "situations"))
}

func TestInvalidParameters(t *testing.T) {
	f := newFixture(t)

	for _, target := range []string{
		"/siri/et?maxSize=many",
		"/siri/et?previewInterval=soon",
		"/siri/vm?detail=everything",
		"/siri/sx?maxSize=1.5",
	} {
		t.Run(target, func(t *testing.T) {
			status, content := f.request(t, http.MethodGet, target, nil)
			assert.Equal(t, http.StatusBadRequest, status)
			assert.Contains(t, string(content), "invalid parameter")
		})
	}
}

const vehicleMonitoringXML = `<?xml version="1.0" encoding="UTF-8"?>
<Siri xmlns="http://www.siri.org.uk/siri" version="2.0">
  <ServiceDelivery>
    <VehicleMonitoringDelivery version="2.0">
      <VehicleActivity>
        <RecordedAtTime>2024-03-04T10:00:00Z</RecordedAtTime>
        <ValidUntilTime>2024-03-04T10:10:00Z</ValidUntilTime>
        <MonitoredVehicleJourney>
          <LineRef>RUT:Line:31</LineRef>
          <OperatorRef>RUT</OperatorRef>
          <VehicleLocation>
            <Longitude>10.75</Longitude>
            <Latitude>59.91</Latitude>
          </VehicleLocation>
          <VehicleRef>200</VehicleRef>
        </MonitoredVehicleJourney>
      </VehicleActivity>
    </VehicleMonitoringDelivery>
  </ServiceDelivery>
</Siri>`

func TestIngest(t *testing.T) {
	tests := []struct {
		name   string
		target string
		body   string
		status int
	}{
		{name: "siri xml", target: "/ingest/RUT", body: vehicleMonitoringXML, status: http.StatusAccepted},
		{name: "explicit format", target: "/ingest/RUT?format=siri-xml", body: vehicleMonitoringXML, status: http.StatusAccepted},
		{name: "unknown format", target: "/ingest/RUT?format=netex", body: vehicleMonitoringXML, status: http.StatusBadRequest},
		{name: "malformed", target: "/ingest/RUT", body: "<Siri><ServiceDelivery>", status: http.StatusBadRequest},
		{name: "invalid dataset", target: "/ingest/RUT:1", body: vehicleMonitoringXML, status: http.StatusBadRequest},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			f := newFixture(t)

			status, content := f.request(t, http.MethodPost, test.target, strings.NewReader(test.body))
			require.Equal(t, test.status, status, string(content))

			if status == http.StatusAccepted {
				response := f.get(t, "/siri/vm?datasetId=RUT")
				assert.Len(t, elements(t, response, "vehicleActivities"), 1)
			}
		})
	}
}

func TestAdmin(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.hub.Ingest(context.Background(), "ATB", siri.ServiceDelivery{
		EstimatedVehicleJourneys: []*siri.EstimatedVehicleJourney{journey("1")},
		Situations:               []*siri.PtSituationElement{situation("1"), situation("2")},
	}))

	response := f.get(t, "/admin/stats")
	assert.Equal(t, map[string]any{"et": float64(1), "vm": float64(0), "sx": float64(2)}, response["sizes"])
	assert.Contains(t, response["counters"], "et")

	status, _ := f.request(t, http.MethodPost, "/admin/clear", nil)
	require.Equal(t, http.StatusNoContent, status)

	response = f.get(t, "/admin/stats")
	assert.Equal(t, map[string]any{"et": float64(0), "vm": float64(0), "sx": float64(0)}, response["sizes"])
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	status, content := f.request(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "OK", string(content))
}

func TestAdminRequiresTokenWhenAuthConfigured(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	cfg := config.Default()
	cfg.Auth = config.AuthConfig{Domain: "auth.example.com", Audience: "sirihub"}

	h, err := hub.New(ctx, cfg, clockwork.NewFakeClockAt(testNow))
	require.NoError(t, err)

	app, err := NewServer(h, consumer.NewHealthHandler(nil)).App()
	require.NoError(t, err)

	for _, target := range []string{"/admin/stats", "/ingest/ATB"} {
		method := http.MethodGet
		if strings.HasPrefix(target, "/ingest") {
			method = http.MethodPost
		}

		response, err := app.Test(httptest.NewRequest(method, target, nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, response.StatusCode, fmt.Sprintf("%s %s", method, target))
	}

	response, err := app.Test(httptest.NewRequest(http.MethodGet, "/siri/sx", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, response.StatusCode)
}
