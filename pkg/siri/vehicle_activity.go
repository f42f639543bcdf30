package siri

import "time"

type VehicleActivity struct {
	RecordedAtTime time.Time `groups:"basic"`
	ItemIdentifier string    `groups:"detailed"`
	ValidUntilTime time.Time `groups:"basic"`

	MonitoredVehicleJourney *MonitoredVehicleJourney `groups:"basic"`
}

type MonitoredVehicleJourney struct {
	LineRef           string `groups:"basic"`
	DirectionRef      string `groups:"basic"`
	PublishedLineName string `groups:"basic"`

	FramedVehicleJourneyRef *FramedVehicleJourneyRef `groups:"detailed"`

	CourseOfJourneyRef string `groups:"detailed"`
	OperatorRef        string `groups:"basic"`

	OriginRef       string `groups:"detailed"`
	OriginName      string `groups:"detailed"`
	DestinationRef  string `groups:"detailed"`
	DestinationName string `groups:"basic"`

	Monitored       bool             `groups:"detailed"`
	VehicleLocation *VehicleLocation `groups:"basic"`
	Bearing         float64          `groups:"detailed"`
	Occupancy       string           `groups:"detailed"`

	BlockRef   string `groups:"detailed"`
	VehicleRef string `groups:"basic"`
}

type VehicleLocation struct {
	Longitude float64 `groups:"basic"`
	Latitude  float64 `groups:"basic"`
}

// IsSet reports whether the location carries real coordinates. A zero
// coordinate is how feeds signal an unknown position.
func (l *VehicleLocation) IsSet() bool {
	return l != nil && l.Longitude != 0 && l.Latitude != 0
}

// Clone copies the activity down to its location, so stored activities
// never share state with the caller.
func (a *VehicleActivity) Clone() *VehicleActivity {
	cloned := *a

	if a.MonitoredVehicleJourney != nil {
		journey := *a.MonitoredVehicleJourney
		if journey.FramedVehicleJourneyRef != nil {
			framed := *journey.FramedVehicleJourneyRef
			journey.FramedVehicleJourneyRef = &framed
		}
		if journey.VehicleLocation != nil {
			location := *journey.VehicleLocation
			journey.VehicleLocation = &location
		}
		cloned.MonitoredVehicleJourney = &journey
	}

	return &cloned
}
