// Package journeymerger reconciles estimated timetable updates with the
// version already held for the same journey. Every function here is pure:
// inputs are never modified and results never share call slices with them.
package journeymerger

import (
	"slices"
	"time"

	"github.com/jinzhu/copier"
	"github.com/rs/zerolog/log"
	"github.com/travigo/sirihub/pkg/siri"
)

// IsNewer reports whether incoming may replace existing. Only when both
// carry a RecordedAtTime is the incoming one required to be strictly later;
// if either is missing the update is taken as-is.
func IsNewer(existing *siri.EstimatedVehicleJourney, incoming *siri.EstimatedVehicleJourney) bool {
	if existing == nil || existing.RecordedAtTime.IsZero() || incoming.RecordedAtTime.IsZero() {
		return true
	}

	return incoming.RecordedAtTime.After(existing.RecordedAtTime)
}

// Merge returns the journey to store for incoming. ok is false when
// incoming is older than existing and should be dropped.
func Merge(existing *siri.EstimatedVehicleJourney, incoming *siri.EstimatedVehicleJourney, originalID func(string) string) (merged *siri.EstimatedVehicleJourney, ok bool) {
	if !IsNewer(existing, incoming) {
		return existing, false
	}

	merged = Clone(incoming)

	if existing != nil && incoming.IsCompleteStopSequence != nil && !*incoming.IsCompleteStopSequence {
		merged.RecordedCalls, merged.EstimatedCalls = mergeCalls(existing, incoming, originalID)
	}

	// Once known complete, a journey stays complete across partial updates
	if existing != nil && existing.IsCompleteStopSequence != nil {
		complete := *existing.IsCompleteStopSequence
		merged.IsCompleteStopSequence = &complete
	}

	return merged, true
}

func mergeCalls(existing *siri.EstimatedVehicleJourney, incoming *siri.EstimatedVehicleJourney, originalID func(string) string) ([]siri.RecordedCall, []siri.EstimatedCall) {
	recordedCalls := make([]siri.RecordedCall, 0, len(existing.RecordedCalls)+len(incoming.RecordedCalls))
	recordedCalls = append(recordedCalls, existing.RecordedCalls...)
	recordedCalls = append(recordedCalls, incoming.RecordedCalls...)

	recordedStops := map[string]bool{}
	for _, call := range recordedCalls {
		recordedStops[originalID(call.StopPointRef)] = true
	}

	// An existing estimated call whose stop has since been recorded means
	// every estimated call before it has been passed too
	var carried []siri.EstimatedCall
	for _, call := range existing.EstimatedCalls {
		if recordedStops[originalID(call.StopPointRef)] {
			for _, passed := range carried {
				recordedCall := ToRecordedCall(passed)
				recordedCalls = append(recordedCalls, recordedCall)
				recordedStops[originalID(recordedCall.StopPointRef)] = true
			}
			carried = nil
		} else {
			carried = append(carried, call)
		}
	}

	estimatedCalls := make([]siri.EstimatedCall, 0, len(carried)+len(incoming.EstimatedCalls))
	positions := map[string]int{}
	put := func(call siri.EstimatedCall) {
		stop := originalID(call.StopPointRef)
		if position, exists := positions[stop]; exists {
			estimatedCalls[position] = call
			return
		}

		positions[stop] = len(estimatedCalls)
		estimatedCalls = append(estimatedCalls, call)
	}

	for _, call := range carried {
		put(call)
	}
	for _, call := range incoming.EstimatedCalls {
		put(call)
	}

	return recordedCalls, estimatedCalls
}

// RemapFutureRecordedCalls handles producers that flag upcoming stops as
// recorded to keep station displays right. It only applies to journeys
// with recorded calls and no estimated calls. From the first recorded call
// with any aimed or expected time after now, that call and all following
// calls become estimated calls, regardless of their own times.
func RemapFutureRecordedCalls(journey *siri.EstimatedVehicleJourney, now time.Time) *siri.EstimatedVehicleJourney {
	if len(journey.RecordedCalls) == 0 || len(journey.EstimatedCalls) > 0 {
		return journey
	}

	remapped := Clone(journey)
	remapped.RecordedCalls = nil
	remapped.EstimatedCalls = nil

	estimatedFromHere := false
	for _, call := range journey.RecordedCalls {
		estimatedFromHere = estimatedFromHere || isFuture(call, now)

		if estimatedFromHere {
			remapped.EstimatedCalls = append(remapped.EstimatedCalls, ToEstimatedCall(call))
		} else {
			remapped.RecordedCalls = append(remapped.RecordedCalls, call)
		}
	}

	if len(remapped.EstimatedCalls) > 0 {
		log.Warn().
			Str("line", journey.LineRef).
			Str("vehicle", journey.VehicleRef).
			Int("calls", len(journey.RecordedCalls)).
			Int("recorded", len(remapped.RecordedCalls)).
			Int("estimated", len(remapped.EstimatedCalls)).
			Msg("Remapped future recorded calls to estimated calls")
	}

	return remapped
}

func isFuture(call siri.RecordedCall, now time.Time) bool {
	return call.AimedDepartureTime.After(now) ||
		call.ExpectedDepartureTime.After(now) ||
		call.AimedArrivalTime.After(now) ||
		call.ExpectedArrivalTime.After(now)
}

// ToRecordedCall converts a passed estimated call. The expected times are
// what actually happened, so they become the actual times as well.
func ToRecordedCall(call siri.EstimatedCall) siri.RecordedCall {
	var recordedCall siri.RecordedCall
	if err := copier.Copy(&recordedCall, &call); err != nil {
		log.Error().Err(err).Str("stop", call.StopPointRef).Msg("Failed to convert estimated call")
	}

	if !call.ExpectedArrivalTime.IsZero() {
		recordedCall.ActualArrivalTime = call.ExpectedArrivalTime
	}
	if !call.ExpectedDepartureTime.IsZero() {
		recordedCall.ActualDepartureTime = call.ExpectedDepartureTime
	}

	return recordedCall
}

// ToEstimatedCall converts a recorded call, falling back to the actual
// times where no expected time is present.
func ToEstimatedCall(call siri.RecordedCall) siri.EstimatedCall {
	var estimatedCall siri.EstimatedCall
	if err := copier.Copy(&estimatedCall, &call); err != nil {
		log.Error().Err(err).Str("stop", call.StopPointRef).Msg("Failed to convert recorded call")
	}

	if estimatedCall.ExpectedArrivalTime.IsZero() {
		estimatedCall.ExpectedArrivalTime = call.ActualArrivalTime
	}
	if estimatedCall.ExpectedDepartureTime.IsZero() {
		estimatedCall.ExpectedDepartureTime = call.ActualDepartureTime
	}

	return estimatedCall
}

// Clone copies a journey so that no slice or pointer is shared with the
// original. Calls only hold values, so cloning the slices is enough.
func Clone(journey *siri.EstimatedVehicleJourney) *siri.EstimatedVehicleJourney {
	cloned := *journey

	cloned.RecordedCalls = slices.Clone(journey.RecordedCalls)
	cloned.EstimatedCalls = slices.Clone(journey.EstimatedCalls)

	if journey.FramedVehicleJourneyRef != nil {
		framed := *journey.FramedVehicleJourneyRef
		cloned.FramedVehicleJourneyRef = &framed
	}
	if journey.IsCompleteStopSequence != nil {
		complete := *journey.IsCompleteStopSequence
		cloned.IsCompleteStopSequence = &complete
	}

	return &cloned
}
