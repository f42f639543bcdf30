package dataimporter

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/rs/zerolog/log"
	"github.com/travigo/sirihub/pkg/siri"
	"google.golang.org/protobuf/proto"
)

// ParseGTFSRealtime converts a GTFS-RT feed. Vehicle positions become
// vehicle activities valid for vehicleValidity after they were recorded,
// trip updates become estimated vehicle journeys. Stop time updates before
// now are treated as recorded calls.
func ParseGTFSRealtime(reader io.Reader, now time.Time, vehicleValidity time.Duration) (siri.ServiceDelivery, error) {
	var delivery siri.ServiceDelivery

	body, err := io.ReadAll(reader)
	if err != nil {
		return delivery, err
	}

	feed := gtfs.FeedMessage{}
	if err := proto.Unmarshal(body, &feed); err != nil {
		return delivery, fmt.Errorf("%w: parse gtfs-rt protobuf: %w", ErrInvalidInput, err)
	}

	feedTime := now
	if feed.GetHeader().GetTimestamp() > 0 {
		feedTime = time.Unix(int64(feed.GetHeader().GetTimestamp()), 0)
	}

	for _, entity := range feed.Entity {
		if entity.GetIsDeleted() {
			continue
		}

		if vehiclePosition := entity.GetVehicle(); vehiclePosition != nil {
			if activity := vehicleActivity(vehiclePosition, feedTime, vehicleValidity); activity != nil {
				delivery.VehicleActivities = append(delivery.VehicleActivities, activity)
			}
		}

		if tripUpdate := entity.GetTripUpdate(); tripUpdate != nil {
			delivery.EstimatedVehicleJourneys = append(delivery.EstimatedVehicleJourneys, estimatedVehicleJourney(tripUpdate, feedTime, now))
		}
	}

	log.Info().
		Int("entities", len(feed.Entity)).
		Int("journeys", len(delivery.EstimatedVehicleJourneys)).
		Int("activities", len(delivery.VehicleActivities)).
		Msg("Parsed GTFS-RT feed")

	return delivery, nil
}

func vehicleActivity(vehiclePosition *gtfs.VehiclePosition, feedTime time.Time, vehicleValidity time.Duration) *siri.VehicleActivity {
	vehicleRef := vehiclePosition.GetVehicle().GetId()
	if vehicleRef == "" {
		vehicleRef = vehiclePosition.GetVehicle().GetLabel()
	}
	if vehicleRef == "" {
		return nil
	}

	recordedAtTime := feedTime
	if vehiclePosition.GetTimestamp() > 0 {
		recordedAtTime = time.Unix(int64(vehiclePosition.GetTimestamp()), 0)
	}

	trip := vehiclePosition.GetTrip()
	journey := &siri.MonitoredVehicleJourney{
		LineRef:      trip.GetRouteId(),
		DirectionRef: directionRef(trip),
		VehicleRef:   vehicleRef,
		Monitored:    true,
		Occupancy:    occupancy(vehiclePosition.OccupancyStatus),
	}
	if trip.GetTripId() != "" {
		journey.FramedVehicleJourneyRef = &siri.FramedVehicleJourneyRef{
			DataFrameRef:           dataFrameRef(trip.GetStartDate()),
			DatedVehicleJourneyRef: trip.GetTripId(),
		}
	}
	if position := vehiclePosition.GetPosition(); position != nil {
		journey.VehicleLocation = &siri.VehicleLocation{
			Longitude: float64(position.GetLongitude()),
			Latitude:  float64(position.GetLatitude()),
		}
		journey.Bearing = float64(position.GetBearing())
	}

	return &siri.VehicleActivity{
		RecordedAtTime:          recordedAtTime,
		ValidUntilTime:          recordedAtTime.Add(vehicleValidity),
		MonitoredVehicleJourney: journey,
	}
}

func estimatedVehicleJourney(tripUpdate *gtfs.TripUpdate, feedTime time.Time, now time.Time) *siri.EstimatedVehicleJourney {
	trip := tripUpdate.GetTrip()

	recordedAtTime := feedTime
	if tripUpdate.GetTimestamp() > 0 {
		recordedAtTime = time.Unix(int64(tripUpdate.GetTimestamp()), 0)
	}

	journey := &siri.EstimatedVehicleJourney{
		RecordedAtTime:         recordedAtTime,
		LineRef:                trip.GetRouteId(),
		DirectionRef:           directionRef(trip),
		VehicleRef:             tripUpdate.GetVehicle().GetId(),
		DatedVehicleJourneyRef: trip.GetTripId(),
		Cancellation:           trip.GetScheduleRelationship() == gtfs.TripDescriptor_CANCELED,
		ExtraJourney:           trip.GetScheduleRelationship() == gtfs.TripDescriptor_ADDED,
	}
	if trip.GetStartDate() != "" {
		journey.FramedVehicleJourneyRef = &siri.FramedVehicleJourneyRef{
			DataFrameRef:           dataFrameRef(trip.GetStartDate()),
			DatedVehicleJourneyRef: trip.GetTripId(),
		}
	}

	for _, stopTimeUpdate := range tripUpdate.GetStopTimeUpdate() {
		aimedArrival, expectedArrival := eventTimes(stopTimeUpdate.GetArrival())
		aimedDeparture, expectedDeparture := eventTimes(stopTimeUpdate.GetDeparture())
		skipped := stopTimeUpdate.GetScheduleRelationship() == gtfs.TripUpdate_StopTimeUpdate_SKIPPED

		passed := expectedDeparture
		if passed.IsZero() {
			passed = expectedArrival
		}

		if !passed.IsZero() && passed.Before(now) {
			journey.RecordedCalls = append(journey.RecordedCalls, siri.RecordedCall{
				StopPointRef:        stopTimeUpdate.GetStopId(),
				Order:               int(stopTimeUpdate.GetStopSequence()),
				Cancellation:        skipped,
				AimedArrivalTime:    aimedArrival,
				ActualArrivalTime:   expectedArrival,
				AimedDepartureTime:  aimedDeparture,
				ActualDepartureTime: expectedDeparture,
			})
			continue
		}

		journey.EstimatedCalls = append(journey.EstimatedCalls, siri.EstimatedCall{
			StopPointRef:          stopTimeUpdate.GetStopId(),
			Order:                 int(stopTimeUpdate.GetStopSequence()),
			Cancellation:          skipped,
			AimedArrivalTime:      aimedArrival,
			ExpectedArrivalTime:   expectedArrival,
			AimedDepartureTime:    aimedDeparture,
			ExpectedDepartureTime: expectedDeparture,
		})
	}

	return journey
}

// eventTimes derives the aimed time from the delay when the feed gives both
func eventTimes(event *gtfs.TripUpdate_StopTimeEvent) (aimed time.Time, expected time.Time) {
	if event == nil || event.Time == nil {
		return time.Time{}, time.Time{}
	}

	expected = time.Unix(event.GetTime(), 0)
	aimed = expected
	if event.Delay != nil {
		aimed = expected.Add(-time.Duration(event.GetDelay()) * time.Second)
	}

	return aimed, expected
}

func directionRef(trip *gtfs.TripDescriptor) string {
	if trip == nil || trip.DirectionId == nil {
		return ""
	}

	return strconv.FormatUint(uint64(trip.GetDirectionId()), 10)
}

// dataFrameRef turns a GTFS start date (20240304) into a SIRI data frame
// reference (2024-03-04).
func dataFrameRef(startDate string) string {
	date, err := time.Parse("20060102", startDate)
	if err != nil {
		return startDate
	}

	return date.Format(time.DateOnly)
}

func occupancy(status *gtfs.VehiclePosition_OccupancyStatus) string {
	if status == nil {
		return ""
	}

	switch *status {
	case gtfs.VehiclePosition_EMPTY, gtfs.VehiclePosition_MANY_SEATS_AVAILABLE:
		return "manySeatsAvailable"
	case gtfs.VehiclePosition_FEW_SEATS_AVAILABLE:
		return "seatsAvailable"
	case gtfs.VehiclePosition_STANDING_ROOM_ONLY:
		return "standingAvailable"
	case gtfs.VehiclePosition_CRUSHED_STANDING_ROOM_ONLY, gtfs.VehiclePosition_FULL, gtfs.VehiclePosition_NOT_ACCEPTING_PASSENGERS:
		return "full"
	}

	return ""
}
