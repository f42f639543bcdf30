package dataimporter

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"
	"github.com/travigo/sirihub/pkg/siri"
	"golang.org/x/net/html/charset"
)

// ParseSiri streams a SIRI XML document and collects every estimated
// vehicle journey, vehicle activity and situation element in it, wherever
// they sit in the envelope. Elements that fail to decode are skipped.
func ParseSiri(reader io.Reader) (siri.ServiceDelivery, error) {
	var delivery siri.ServiceDelivery
	var skipped int

	d := xml.NewDecoder(reader)
	d.CharsetReader = charset.NewReaderLabel
	for {
		tok, err := d.Token()
		if errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return delivery, fmt.Errorf("%w: decode siri token: %w", ErrInvalidInput, err)
		}

		ty, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		switch ty.Name.Local {
		case "EstimatedVehicleJourney":
			var journey siri.EstimatedVehicleJourney
			if err := d.DecodeElement(&journey, &ty); err != nil {
				log.Error().Err(err).Msg("Error decoding EstimatedVehicleJourney")
				skipped++
				continue
			}
			delivery.EstimatedVehicleJourneys = append(delivery.EstimatedVehicleJourneys, &journey)
		case "VehicleActivity":
			var activity siri.VehicleActivity
			if err := d.DecodeElement(&activity, &ty); err != nil {
				log.Error().Err(err).Msg("Error decoding VehicleActivity")
				skipped++
				continue
			}
			delivery.VehicleActivities = append(delivery.VehicleActivities, &activity)
		case "PtSituationElement":
			var situation siri.PtSituationElement
			if err := d.DecodeElement(&situation, &ty); err != nil {
				log.Error().Err(err).Msg("Error decoding PtSituationElement")
				skipped++
				continue
			}
			delivery.Situations = append(delivery.Situations, &situation)
		}
	}

	log.Info().
		Int("journeys", len(delivery.EstimatedVehicleJourneys)).
		Int("activities", len(delivery.VehicleActivities)).
		Int("situations", len(delivery.Situations)).
		Int("skipped", skipped).
		Msg("Parsed SIRI response")

	return delivery, nil
}
