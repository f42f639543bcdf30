package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/travigo/sirihub/pkg/siri"
)

func (s *Server) stats(c *fiber.Ctx) error {
	ctx := c.UserContext()

	sizes := map[siri.DataType]int{}
	for dataType, size := range map[siri.DataType]func() (int, error){
		siri.DataTypeEstimatedTimetable: func() (int, error) { return s.hub.EstimatedTimetables.Size(ctx) },
		siri.DataTypeVehicleMonitoring:  func() (int, error) { return s.hub.VehicleActivities.Size(ctx) },
		siri.DataTypeSituationExchange:  func() (int, error) { return s.hub.Situations.Size(ctx) },
	} {
		count, err := size()
		if err != nil {
			return errorResponse(c, err)
		}
		sizes[dataType] = count
	}

	return c.JSON(fiber.Map{
		"sizes":    sizes,
		"counters": s.hub.Recorder.Snapshot(),
	})
}

func (s *Server) clear(c *fiber.Ctx) error {
	if err := s.hub.ClearAll(c.UserContext()); err != nil {
		return errorResponse(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}
