package realtime

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/kr/pretty"
	"github.com/travigo/sirihub/pkg/hub"
	"github.com/travigo/sirihub/pkg/siri"
)

type journeyRow struct {
	OperatorRef            string    `csv:"operator_ref"`
	LineRef                string    `csv:"line_ref"`
	DirectionRef           string    `csv:"direction_ref"`
	VehicleRef             string    `csv:"vehicle_ref"`
	DatedVehicleJourneyRef string    `csv:"dated_vehicle_journey_ref"`
	RecordedAtTime         time.Time `csv:"recorded_at"`
	Cancellation           bool      `csv:"cancellation"`
	RecordedCalls          int       `csv:"recorded_calls"`
	EstimatedCalls         int       `csv:"estimated_calls"`
}

type activityRow struct {
	OperatorRef    string    `csv:"operator_ref"`
	LineRef        string    `csv:"line_ref"`
	VehicleRef     string    `csv:"vehicle_ref"`
	Latitude       float64   `csv:"latitude"`
	Longitude      float64   `csv:"longitude"`
	RecordedAtTime time.Time `csv:"recorded_at"`
	ValidUntilTime time.Time `csv:"valid_until"`
}

type situationRow struct {
	ParticipantRef  string    `csv:"participant_ref"`
	SituationNumber string    `csv:"situation_number"`
	Severity        string    `csv:"severity"`
	Summary         string    `csv:"summary"`
	CreationTime    time.Time `csv:"created_at"`
}

func journeyRows(journeys []*siri.EstimatedVehicleJourney) []journeyRow {
	rows := make([]journeyRow, 0, len(journeys))
	for _, journey := range journeys {
		rows = append(rows, journeyRow{
			OperatorRef:            journey.OperatorRef,
			LineRef:                journey.LineRef,
			DirectionRef:           journey.DirectionRef,
			VehicleRef:             journey.VehicleRef,
			DatedVehicleJourneyRef: journey.DatedVehicleJourneyRef,
			RecordedAtTime:         journey.RecordedAtTime,
			Cancellation:           journey.Cancellation,
			RecordedCalls:          len(journey.RecordedCalls),
			EstimatedCalls:         len(journey.EstimatedCalls),
		})
	}

	return rows
}

func activityRows(activities []*siri.VehicleActivity) []activityRow {
	rows := make([]activityRow, 0, len(activities))
	for _, activity := range activities {
		row := activityRow{
			RecordedAtTime: activity.RecordedAtTime,
			ValidUntilTime: activity.ValidUntilTime,
		}
		if journey := activity.MonitoredVehicleJourney; journey != nil {
			row.OperatorRef = journey.OperatorRef
			row.LineRef = journey.LineRef
			row.VehicleRef = journey.VehicleRef
			if journey.VehicleLocation != nil {
				row.Latitude = journey.VehicleLocation.Latitude
				row.Longitude = journey.VehicleLocation.Longitude
			}
		}
		rows = append(rows, row)
	}

	return rows
}

func situationRows(situations []*siri.PtSituationElement) []situationRow {
	rows := make([]situationRow, 0, len(situations))
	for _, situation := range situations {
		rows = append(rows, situationRow{
			ParticipantRef:  situation.ParticipantRef,
			SituationNumber: situation.SituationNumber,
			Severity:        situation.Severity,
			Summary:         situation.Summary,
			CreationTime:    situation.CreationTime,
		})
	}

	return rows
}

// Inspect writes everything stored for one data type, optionally limited
// to a dataset, either pretty printed or as CSV.
func Inspect(ctx context.Context, h *hub.Hub, dataType siri.DataType, datasetID string, asCSV bool, out io.Writer) error {
	var elements any
	var rows any

	switch dataType {
	case siri.DataTypeEstimatedTimetable:
		journeys, err := h.EstimatedTimetables.GetAll(ctx, datasetID)
		if err != nil {
			return err
		}
		elements, rows = journeys, journeyRows(journeys)
	case siri.DataTypeVehicleMonitoring:
		activities, err := h.VehicleActivities.GetAll(ctx, datasetID)
		if err != nil {
			return err
		}
		elements, rows = activities, activityRows(activities)
	case siri.DataTypeSituationExchange:
		situations, err := h.Situations.GetAll(ctx, datasetID)
		if err != nil {
			return err
		}
		elements, rows = situations, situationRows(situations)
	default:
		return fmt.Errorf("unknown data type %q", dataType)
	}

	if asCSV {
		return gocsv.Marshal(rows, out)
	}

	_, err := pretty.Fprintf(out, "%# v\n", elements)
	return err
}
