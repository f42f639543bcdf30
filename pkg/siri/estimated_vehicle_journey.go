package siri

import "time"

type EstimatedVehicleJourney struct {
	RecordedAtTime time.Time `groups:"basic"`

	LineRef           string `groups:"basic"`
	DirectionRef      string `groups:"basic"`
	PublishedLineName string `groups:"basic"`
	OperatorRef       string `groups:"basic"`
	VehicleRef        string `groups:"basic"`

	DatedVehicleJourneyRef  string                   `groups:"basic"`
	FramedVehicleJourneyRef *FramedVehicleJourneyRef `groups:"basic"`

	Cancellation bool `groups:"basic"`
	ExtraJourney bool `groups:"basic"`

	// nil when the producer did not say either way
	IsCompleteStopSequence *bool `groups:"detailed"`

	RecordedCalls  []RecordedCall  `xml:"RecordedCalls>RecordedCall" groups:"detailed"`
	EstimatedCalls []EstimatedCall `xml:"EstimatedCalls>EstimatedCall" groups:"detailed"`
}

type FramedVehicleJourneyRef struct {
	DataFrameRef           string `groups:"basic"`
	DatedVehicleJourneyRef string `groups:"basic"`
}

type RecordedCall struct {
	StopPointRef  string `groups:"detailed"`
	StopPointName string `groups:"detailed"`
	Order         int    `groups:"detailed"`
	VisitNumber   int    `groups:"detailed"`

	Cancellation bool `groups:"detailed"`
	ExtraCall    bool `groups:"detailed"`

	AimedArrivalTime    time.Time `groups:"detailed"`
	ExpectedArrivalTime time.Time `groups:"detailed"`
	ActualArrivalTime   time.Time `groups:"detailed"`
	ArrivalPlatformName string    `groups:"detailed"`

	AimedDepartureTime    time.Time `groups:"detailed"`
	ExpectedDepartureTime time.Time `groups:"detailed"`
	ActualDepartureTime   time.Time `groups:"detailed"`
	DeparturePlatformName string    `groups:"detailed"`
}

type EstimatedCall struct {
	StopPointRef  string `groups:"detailed"`
	StopPointName string `groups:"detailed"`
	Order         int    `groups:"detailed"`
	VisitNumber   int    `groups:"detailed"`

	Cancellation bool `groups:"detailed"`
	ExtraCall    bool `groups:"detailed"`

	AimedArrivalTime    time.Time `groups:"detailed"`
	ExpectedArrivalTime time.Time `groups:"detailed"`
	ArrivalPlatformName string    `groups:"detailed"`

	AimedDepartureTime    time.Time `groups:"detailed"`
	ExpectedDepartureTime time.Time `groups:"detailed"`
	DeparturePlatformName string    `groups:"detailed"`
}

// HasPatternChange is true for cancelled or extra journeys and for journeys
// with at least one cancelled estimated call.
func (j *EstimatedVehicleJourney) HasPatternChange() bool {
	if j.Cancellation || j.ExtraJourney {
		return true
	}

	for _, call := range j.EstimatedCalls {
		if call.Cancellation {
			return true
		}
	}

	return false
}
