package api

import (
	"bytes"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/travigo/sirihub/pkg/dataimporter"
)

type deliveryResponse struct {
	ResponseTimestamp time.Time `json:"responseTimestamp"`
	RequestorID       string    `json:"requestorId,omitempty"`
	MoreData          bool      `json:"moreData"`

	EstimatedVehicleJourneys any `json:"estimatedVehicleJourneys,omitempty"`
	VehicleActivities        any `json:"vehicleActivities,omitempty"`
	Situations               any `json:"situations,omitempty"`
}

func (s *Server) respond(c *fiber.Ctx, groups []string, response deliveryResponse) error {
	response.ResponseTimestamp = s.hub.Clock.Now()
	recordDelivery(c, response)

	for _, elements := range []*any{&response.EstimatedVehicleJourneys, &response.VehicleActivities, &response.Situations} {
		if *elements == nil {
			continue
		}

		reduced, err := reduce(groups, *elements)
		if err != nil {
			return errorResponse(c, err)
		}
		*elements = reduced
	}

	return c.JSON(response)
}

func (s *Server) estimatedTimetables(c *fiber.Ctx) error {
	request, err := parseDeliveryRequest(c, s.hub.Config.DefaultMaxSize, s.hub.Clock.Now())
	if err != nil {
		return errorResponse(c, err)
	}

	if request.LineRef != "" {
		journeys, err := s.hub.EstimatedTimetables.LineDelivery(c.UserContext(), request.LineRef)
		if err != nil {
			return errorResponse(c, err)
		}

		return s.respond(c, request.Groups, deliveryResponse{EstimatedVehicleJourneys: journeys})
	}

	delivery, err := s.hub.EstimatedTimetables.ServiceDelivery(c.UserContext(), request.RequestorID, request.DatasetID, request.MaxSize, request.PreviewInterval)
	if err != nil {
		return errorResponse(c, err)
	}

	return s.respond(c, request.Groups, deliveryResponse{
		RequestorID:              delivery.RequestorID,
		MoreData:                 delivery.MoreData,
		EstimatedVehicleJourneys: delivery.Journeys,
	})
}

func (s *Server) estimatedTimetableUpdates(c *fiber.Ctx) error {
	request, err := parseDeliveryRequest(c, s.hub.Config.DefaultMaxSize, s.hub.Clock.Now())
	if err != nil {
		return errorResponse(c, err)
	}

	journeys, err := s.hub.EstimatedTimetables.GetAllUpdates(c.UserContext(), request.RequestorID, request.DatasetID)
	if err != nil {
		return errorResponse(c, err)
	}

	return s.respond(c, request.Groups, deliveryResponse{
		RequestorID:              request.RequestorID,
		EstimatedVehicleJourneys: journeys,
	})
}

func (s *Server) vehicleMonitoring(c *fiber.Ctx) error {
	request, err := parseDeliveryRequest(c, s.hub.Config.DefaultMaxSize, s.hub.Clock.Now())
	if err != nil {
		return errorResponse(c, err)
	}

	if request.LineRef != "" {
		activities, err := s.hub.VehicleActivities.LineDelivery(c.UserContext(), request.LineRef)
		if err != nil {
			return errorResponse(c, err)
		}

		return s.respond(c, request.Groups, deliveryResponse{VehicleActivities: activities})
	}

	delivery, err := s.hub.VehicleActivities.ServiceDelivery(c.UserContext(), request.RequestorID, request.DatasetID, request.MaxSize)
	if err != nil {
		return errorResponse(c, err)
	}

	return s.respond(c, request.Groups, deliveryResponse{
		RequestorID:       delivery.RequestorID,
		MoreData:          delivery.MoreData,
		VehicleActivities: delivery.Activities,
	})
}

func (s *Server) vehicleMonitoringUpdates(c *fiber.Ctx) error {
	request, err := parseDeliveryRequest(c, s.hub.Config.DefaultMaxSize, s.hub.Clock.Now())
	if err != nil {
		return errorResponse(c, err)
	}

	activities, err := s.hub.VehicleActivities.GetAllUpdates(c.UserContext(), request.RequestorID, request.DatasetID)
	if err != nil {
		return errorResponse(c, err)
	}

	return s.respond(c, request.Groups, deliveryResponse{
		RequestorID:       request.RequestorID,
		VehicleActivities: activities,
	})
}

func (s *Server) situationExchange(c *fiber.Ctx) error {
	request, err := parseDeliveryRequest(c, s.hub.Config.DefaultMaxSize, s.hub.Clock.Now())
	if err != nil {
		return errorResponse(c, err)
	}

	delivery, err := s.hub.Situations.ServiceDelivery(c.UserContext(), request.RequestorID, request.DatasetID, request.MaxSize)
	if err != nil {
		return errorResponse(c, err)
	}

	return s.respond(c, request.Groups, deliveryResponse{
		RequestorID: delivery.RequestorID,
		MoreData:    delivery.MoreData,
		Situations:  delivery.Situations,
	})
}

func (s *Server) situationExchangeUpdates(c *fiber.Ctx) error {
	request, err := parseDeliveryRequest(c, s.hub.Config.DefaultMaxSize, s.hub.Clock.Now())
	if err != nil {
		return errorResponse(c, err)
	}

	situations, err := s.hub.Situations.GetAllUpdates(c.UserContext(), request.RequestorID, request.DatasetID)
	if err != nil {
		return errorResponse(c, err)
	}

	return s.respond(c, request.Groups, deliveryResponse{
		RequestorID: request.RequestorID,
		Situations:  situations,
	})
}

// ingest accepts a pushed upstream response, SIRI XML unless format says
// otherwise.
func (s *Server) ingest(c *fiber.Ctx) error {
	format := dataimporter.Format(c.Query("format", string(dataimporter.FormatSiriXML)))

	datasetID := c.Params("datasetId")
	if strings.Contains(datasetID, ":") {
		return errorResponse(c, errors.Join(errInvalidParameter, errors.New("datasetId cannot contain ':'")))
	}

	if err := s.importer.Import(c.UserContext(), format, datasetID, bytes.NewReader(c.Body())); err != nil {
		return errorResponse(c, err)
	}

	return c.SendStatus(fiber.StatusAccepted)
}
