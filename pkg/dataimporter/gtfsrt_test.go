package dataimporter

import (
	"bytes"
	"testing"
	"time"

	"github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
)

var gtfsNow = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

func unix(t time.Time) *int64 {
	return proto.Int64(t.Unix())
}

func encodeFeed(t *testing.T, entities ...*gtfs.FeedEntity) *bytes.Reader {
	feed := &gtfs.FeedMessage{
		Header: &gtfs.FeedHeader{
			GtfsRealtimeVersion: proto.String("2.0"),
			Timestamp:           proto.Uint64(uint64(gtfsNow.Add(-30 * time.Second).Unix())),
		},
		Entity: entities,
	}

	body, err := proto.Marshal(feed)
	require.NoError(t, err)

	return bytes.NewReader(body)
}

func TestParseGTFSRealtimeVehiclePositions(t *testing.T) {
	reader := encodeFeed(t,
		&gtfs.FeedEntity{
			Id: proto.String("v1"),
			Vehicle: &gtfs.VehiclePosition{
				Trip: &gtfs.TripDescriptor{
					TripId:      proto.String("trip-1"),
					RouteId:     proto.String("route-1"),
					DirectionId: proto.Uint32(1),
					StartDate:   proto.String("20240304"),
				},
				Vehicle: &gtfs.VehicleDescriptor{Id: proto.String("bus-1")},
				Position: &gtfs.Position{
					Latitude:  proto.Float32(59.9),
					Longitude: proto.Float32(10.7),
					Bearing:   proto.Float32(90),
				},
				Timestamp:       proto.Uint64(uint64(gtfsNow.Add(-time.Minute).Unix())),
				OccupancyStatus: gtfs.VehiclePosition_FULL.Enum(),
			},
		},
		&gtfs.FeedEntity{
			Id: proto.String("v2"),
			Vehicle: &gtfs.VehiclePosition{
				Vehicle:  &gtfs.VehicleDescriptor{Label: proto.String("tram-7")},
				Position: &gtfs.Position{Latitude: proto.Float32(59.91), Longitude: proto.Float32(10.75)},
			},
		},
		&gtfs.FeedEntity{
			Id: proto.String("no-vehicle"),
			Vehicle: &gtfs.VehiclePosition{
				Position: &gtfs.Position{Latitude: proto.Float32(59.91), Longitude: proto.Float32(10.75)},
			},
		},
		&gtfs.FeedEntity{
			Id:        proto.String("deleted"),
			IsDeleted: proto.Bool(true),
			Vehicle:   &gtfs.VehiclePosition{Vehicle: &gtfs.VehicleDescriptor{Id: proto.String("bus-9")}},
		},
	)

	delivery, err := ParseGTFSRealtime(reader, gtfsNow, 10*time.Minute)
	require.NoError(t, err)
	require.Len(t, delivery.VehicleActivities, 2)
	assert.Empty(t, delivery.EstimatedVehicleJourneys)

	bus := delivery.VehicleActivities[0]
	assert.Equal(t, gtfsNow.Add(-time.Minute), bus.RecordedAtTime.UTC())
	assert.Equal(t, gtfsNow.Add(9*time.Minute), bus.ValidUntilTime.UTC())

	journey := bus.MonitoredVehicleJourney
	assert.Equal(t, "bus-1", journey.VehicleRef)
	assert.Equal(t, "route-1", journey.LineRef)
	assert.Equal(t, "1", journey.DirectionRef)
	assert.Equal(t, "full", journey.Occupancy)
	assert.InDelta(t, 59.9, journey.VehicleLocation.Latitude, 0.0001)
	assert.InDelta(t, 10.7, journey.VehicleLocation.Longitude, 0.0001)
	assert.Equal(t, 90.0, journey.Bearing)
	require.NotNil(t, journey.FramedVehicleJourneyRef)
	assert.Equal(t, "2024-03-04", journey.FramedVehicleJourneyRef.DataFrameRef)
	assert.Equal(t, "trip-1", journey.FramedVehicleJourneyRef.DatedVehicleJourneyRef)

	tram := delivery.VehicleActivities[1]
	assert.Equal(t, "tram-7", tram.MonitoredVehicleJourney.VehicleRef)
	assert.Equal(t, "", tram.MonitoredVehicleJourney.Occupancy)
	assert.Nil(t, tram.MonitoredVehicleJourney.FramedVehicleJourneyRef)
	// falls back to the feed header timestamp
	assert.Equal(t, gtfsNow.Add(-30*time.Second), tram.RecordedAtTime.UTC())
}

func TestParseGTFSRealtimeTripUpdates(t *testing.T) {
	reader := encodeFeed(t,
		&gtfs.FeedEntity{
			Id: proto.String("t1"),
			TripUpdate: &gtfs.TripUpdate{
				Trip: &gtfs.TripDescriptor{
					TripId:    proto.String("trip-1"),
					RouteId:   proto.String("route-1"),
					StartDate: proto.String("20240304"),
				},
				Vehicle:   &gtfs.VehicleDescriptor{Id: proto.String("bus-1")},
				Timestamp: proto.Uint64(uint64(gtfsNow.Add(-10 * time.Second).Unix())),
				StopTimeUpdate: []*gtfs.TripUpdate_StopTimeUpdate{
					{
						StopSequence: proto.Uint32(1),
						StopId:       proto.String("stop-1"),
						Departure:    &gtfs.TripUpdate_StopTimeEvent{Time: unix(gtfsNow.Add(-5 * time.Minute)), Delay: proto.Int32(60)},
					},
					{
						StopSequence: proto.Uint32(2),
						StopId:       proto.String("stop-2"),
						Arrival:      &gtfs.TripUpdate_StopTimeEvent{Time: unix(gtfsNow.Add(5 * time.Minute)), Delay: proto.Int32(120)},
					},
					{
						StopSequence:         proto.Uint32(3),
						StopId:               proto.String("stop-3"),
						ScheduleRelationship: gtfs.TripUpdate_StopTimeUpdate_SKIPPED.Enum(),
					},
				},
			},
		},
		&gtfs.FeedEntity{
			Id: proto.String("t2"),
			TripUpdate: &gtfs.TripUpdate{
				Trip: &gtfs.TripDescriptor{
					TripId:               proto.String("trip-2"),
					ScheduleRelationship: gtfs.TripDescriptor_CANCELED.Enum(),
				},
			},
		},
	)

	delivery, err := ParseGTFSRealtime(reader, gtfsNow, 10*time.Minute)
	require.NoError(t, err)
	require.Len(t, delivery.EstimatedVehicleJourneys, 2)

	journey := delivery.EstimatedVehicleJourneys[0]
	assert.Equal(t, "route-1", journey.LineRef)
	assert.Equal(t, "bus-1", journey.VehicleRef)
	assert.Equal(t, "trip-1", journey.DatedVehicleJourneyRef)
	assert.Equal(t, gtfsNow.Add(-10*time.Second), journey.RecordedAtTime.UTC())
	assert.False(t, journey.Cancellation)

	require.Len(t, journey.RecordedCalls, 1)
	assert.Equal(t, "stop-1", journey.RecordedCalls[0].StopPointRef)
	assert.Equal(t, gtfsNow.Add(-5*time.Minute), journey.RecordedCalls[0].ActualDepartureTime.UTC())
	assert.Equal(t, gtfsNow.Add(-6*time.Minute), journey.RecordedCalls[0].AimedDepartureTime.UTC())

	require.Len(t, journey.EstimatedCalls, 2)
	assert.Equal(t, gtfsNow.Add(5*time.Minute), journey.EstimatedCalls[0].ExpectedArrivalTime.UTC())
	assert.Equal(t, gtfsNow.Add(3*time.Minute), journey.EstimatedCalls[0].AimedArrivalTime.UTC())
	assert.Equal(t, 3, journey.EstimatedCalls[1].Order)
	assert.True(t, journey.EstimatedCalls[1].Cancellation)
	assert.True(t, journey.HasPatternChange())

	cancelled := delivery.EstimatedVehicleJourneys[1]
	assert.True(t, cancelled.Cancellation)
	assert.Nil(t, cancelled.FramedVehicleJourneyRef)
}

func TestParseGTFSRealtimeInvalid(t *testing.T) {
	_, err := ParseGTFSRealtime(bytes.NewReader([]byte("not a protobuf")), gtfsNow, time.Minute)
	assert.ErrorIs(t, err, ErrInvalidInput)
}
