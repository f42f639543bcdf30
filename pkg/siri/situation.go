package siri

import (
	"slices"
	"time"
)

type PtSituationElement struct {
	CreationTime    time.Time `groups:"basic"`
	ParticipantRef  string    `groups:"basic"`
	SituationNumber string    `groups:"basic"`
	Version         string    `groups:"detailed"`

	Progress string `groups:"detailed"`
	Severity string `groups:"basic"`
	Priority int    `groups:"detailed"`

	ValidityPeriods []ValidityPeriod `xml:"ValidityPeriod" groups:"basic"`

	ReportType string `groups:"detailed"`
	Planned    bool   `groups:"detailed"`

	Summary     string `groups:"basic"`
	Description string `groups:"detailed"`
	Advice      string `groups:"detailed"`

	AffectedLineRefs        []string `xml:"Affects>Networks>AffectedNetwork>AffectedLine>LineRef" groups:"detailed"`
	AffectedStopPointRefs   []string `xml:"Affects>StopPoints>AffectedStopPoint>StopPointRef" groups:"detailed"`
	AffectedVehicleJourneys []string `xml:"Affects>VehicleJourneys>AffectedVehicleJourney>DatedVehicleJourneyRef" groups:"detailed"`
}

type ValidityPeriod struct {
	StartTime time.Time `groups:"basic"`
	EndTime   time.Time `groups:"basic"`
}

// LatestEndTime returns the furthest EndTime across all validity periods.
// openEnded is set when any period has no EndTime at all.
func (s *PtSituationElement) LatestEndTime() (latest time.Time, openEnded bool) {
	for _, period := range s.ValidityPeriods {
		if period.EndTime.IsZero() {
			openEnded = true
			continue
		}

		if period.EndTime.After(latest) {
			latest = period.EndTime
		}
	}

	return latest, openEnded
}

func (s *PtSituationElement) Clone() *PtSituationElement {
	cloned := *s

	cloned.ValidityPeriods = slices.Clone(s.ValidityPeriods)
	cloned.AffectedLineRefs = slices.Clone(s.AffectedLineRefs)
	cloned.AffectedStopPointRefs = slices.Clone(s.AffectedStopPointRefs)
	cloned.AffectedVehicleJourneys = slices.Clone(s.AffectedVehicleJourneys)

	return &cloned
}
