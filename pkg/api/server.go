package api

import (
	"errors"

	"github.com/adjust/rmq/v5"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/liip/sheriff"
	"github.com/rs/zerolog/log"
	"github.com/travigo/sirihub/pkg/consumer"
	"github.com/travigo/sirihub/pkg/dataimporter"
	"github.com/travigo/sirihub/pkg/hub"
)

type Server struct {
	hub      *hub.Hub
	importer *dataimporter.Importer
	health   *consumer.HealthHandler

	// QueueConnection enables the queue dashboard, nil without redis
	QueueConnection rmq.Connection
}

func NewServer(h *hub.Hub, health *consumer.HealthHandler) *Server {
	return &Server{
		hub:      h,
		importer: dataimporter.NewImporter(h, h.Clock),
		health:   health,
	}
}

func (s *Server) Hub() *hub.Hub {
	return s.hub
}

// App wires every route. Admin and ingest routes sit behind the JWT guard
// when an auth domain is configured.
func (s *Server) App() (*fiber.App, error) {
	webApp := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		BodyLimit:             64 * 1024 * 1024,
	})
	webApp.Use(NewLogger())

	webApp.Get("/health", adaptor.HTTPHandler(s.health))

	siriGroup := webApp.Group("/siri")
	siriGroup.Get("/et", s.estimatedTimetables)
	siriGroup.Get("/et/updates", s.estimatedTimetableUpdates)
	siriGroup.Get("/vm", s.vehicleMonitoring)
	siriGroup.Get("/vm/updates", s.vehicleMonitoringUpdates)
	siriGroup.Get("/sx", s.situationExchange)
	siriGroup.Get("/sx/updates", s.situationExchangeUpdates)

	var guard []fiber.Handler
	if auth := s.hub.Config.Auth; auth.Domain != "" {
		ensureValidToken, err := EnsureValidToken(auth)
		if err != nil {
			return nil, err
		}
		guard = append(guard, ensureValidToken)
	} else {
		log.Warn().Msg("No auth domain configured, admin and ingest routes are open")
	}

	ingestGroup := webApp.Group("/ingest", guard...)
	ingestGroup.Post("/:datasetId", s.ingest)

	adminGroup := webApp.Group("/admin", guard...)
	adminGroup.Get("/stats", s.stats)
	adminGroup.Post("/clear", s.clear)
	if s.QueueConnection != nil {
		adminGroup.Get("/queues", adaptor.HTTPHandler(consumer.NewStatsHandler(s.QueueConnection)))
	}

	return webApp, nil
}

func (s *Server) Listen(listen string) error {
	webApp, err := s.App()
	if err != nil {
		return err
	}

	log.Info().Str("listen", listen).Msg("Starting API server")

	return webApp.Listen(listen)
}

func reduce(groups []string, data any) (any, error) {
	reduced, err := sheriff.Marshal(&sheriff.Options{Groups: groups}, data)
	if err != nil {
		return nil, err
	}
	if reduced == nil {
		return []any{}, nil
	}

	return reduced, nil
}

func errorResponse(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	if errors.Is(err, errInvalidParameter) || errors.Is(err, dataimporter.ErrUnknownFormat) || errors.Is(err, dataimporter.ErrInvalidInput) {
		status = fiber.StatusBadRequest
	}

	c.Status(status)
	return c.JSON(fiber.Map{
		"error": err.Error(),
	})
}
