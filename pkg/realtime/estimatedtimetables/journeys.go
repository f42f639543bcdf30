package estimatedtimetables

import (
	"strings"
	"time"

	"github.com/travigo/sirihub/pkg/siri"
)

const keyPlaceholder = "null"

func orPlaceholder(value string) string {
	if value == "" {
		return keyPlaceholder
	}

	return value
}

// Key identifies a journey within a dataset. The framed reference is used
// when the journey has no top level DatedVehicleJourneyRef.
func Key(datasetID string, journey *siri.EstimatedVehicleJourney) string {
	if journey.DatedVehicleJourneyRef == "" && journey.FramedVehicleJourneyRef != nil {
		return strings.Join([]string{
			datasetID,
			orPlaceholder(journey.FramedVehicleJourneyRef.DataFrameRef),
			orPlaceholder(journey.FramedVehicleJourneyRef.DatedVehicleJourneyRef),
		}, ":")
	}

	return strings.Join([]string{
		datasetID,
		orPlaceholder(journey.OperatorRef),
		orPlaceholder(journey.LineRef),
		orPlaceholder(journey.VehicleRef),
		orPlaceholder(journey.DirectionRef),
		orPlaceholder(journey.DatedVehicleJourneyRef),
	}, ":")
}

// lastCallTime reads the last recorded call, then lets the last estimated
// call override it. Within a call expected times win over aimed ones.
func lastCallTime(journey *siri.EstimatedVehicleJourney) time.Time {
	var last time.Time

	pick := func(times ...time.Time) {
		for _, t := range times {
			if !t.IsZero() {
				last = t
			}
		}
	}

	if len(journey.RecordedCalls) > 0 {
		call := journey.RecordedCalls[len(journey.RecordedCalls)-1]
		pick(call.AimedArrivalTime, call.AimedDepartureTime, call.ExpectedArrivalTime, call.ExpectedDepartureTime)
	}

	if len(journey.EstimatedCalls) > 0 {
		call := journey.EstimatedCalls[len(journey.EstimatedCalls)-1]
		pick(call.AimedArrivalTime, call.AimedDepartureTime, call.ExpectedArrivalTime, call.ExpectedDepartureTime)
	}

	return last
}

// firstAimedTime is zero when neither the first recorded nor the first
// estimated call has an aimed time.
func firstAimedTime(journey *siri.EstimatedVehicleJourney) time.Time {
	if len(journey.RecordedCalls) > 0 {
		call := journey.RecordedCalls[0]

		if !call.AimedDepartureTime.IsZero() {
			return call.AimedDepartureTime
		}
		if !call.AimedArrivalTime.IsZero() {
			return call.AimedArrivalTime
		}
	}

	if len(journey.EstimatedCalls) > 0 {
		call := journey.EstimatedCalls[0]

		if !call.AimedDepartureTime.IsZero() {
			return call.AimedDepartureTime
		}
		if !call.AimedArrivalTime.IsZero() {
			return call.AimedArrivalTime
		}
	}

	return time.Time{}
}

// lineSortTime orders line deliveries by the first recorded call when there
// is one, otherwise by the first estimated call.
func lineSortTime(journey *siri.EstimatedVehicleJourney) time.Time {
	if len(journey.RecordedCalls) > 0 {
		call := journey.RecordedCalls[0]
		if !call.AimedDepartureTime.IsZero() {
			return call.AimedDepartureTime
		}

		return call.AimedArrivalTime
	}

	if len(journey.EstimatedCalls) > 0 {
		call := journey.EstimatedCalls[0]
		if !call.AimedDepartureTime.IsZero() {
			return call.AimedDepartureTime
		}

		return call.AimedArrivalTime
	}

	return time.Time{}
}
