package api

import (
	"reflect"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Locals set by the delivery handlers for the access log
const (
	localDelivered   = "delivered"
	localMoreData    = "moreData"
	localRequestorID = "requestorId"
)

// NewLogger writes one access log line per request, carrying the dataset,
// line and requestor a delivery was made for and how much it returned.
func NewLogger() fiber.Handler {
	return func(c *fiber.Ctx) (err error) {
		startTime := time.Now()
		err = c.Next()

		msg := "HTTP Request"
		if err != nil {
			msg = err.Error()
		}

		code := c.Response().StatusCode()

		ipAddress := c.IP()
		if forwardedFor := c.Get(fiber.HeaderXForwardedFor); forwardedFor != "" {
			ipAddress = forwardedFor
		}

		event := log.With().
			Int("status", code).
			Str("method", c.Method()).
			Str("route", c.Route().Path).
			Str("path", c.Path()).
			Str("ip", ipAddress).
			Dur("latency", time.Since(startTime)).
			Int("bytes", len(c.Response().Body()))

		event = withDelivery(c, event)

		requestLogger := event.Logger()

		switch {
		case code >= fiber.StatusBadRequest && code < fiber.StatusInternalServerError:
			requestLogger.Warn().Msg(msg)
		case code >= fiber.StatusInternalServerError:
			requestLogger.Error().Msg(msg)
		default:
			requestLogger.Debug().Msg(msg)
		}

		return err
	}
}

func withDelivery(c *fiber.Ctx, event zerolog.Context) zerolog.Context {
	datasetID := c.Query("datasetId")
	if datasetID == "" {
		datasetID = c.Params("datasetId")
	}
	if datasetID != "" {
		event = event.Str("dataset", datasetID)
	}
	if lineRef := c.Query("lineRef"); lineRef != "" {
		event = event.Str("lineRef", lineRef)
	}
	if format := c.Query("format"); format != "" {
		event = event.Str("format", format)
	}

	requestorID, _ := c.Locals(localRequestorID).(string)
	if requestorID == "" {
		requestorID = c.Query("requestorId")
	}
	if requestorID != "" {
		event = event.Str("requestor", requestorID)
	}

	if delivered, ok := c.Locals(localDelivered).(int); ok {
		event = event.Int("delivered", delivered)
	}
	if moreData, ok := c.Locals(localMoreData).(bool); ok {
		event = event.Bool("moreData", moreData)
	}

	return event
}

// recordDelivery keeps what a delivery returned so the access log can report it.
func recordDelivery(c *fiber.Ctx, response deliveryResponse) {
	delivered := 0
	for _, elements := range []any{response.EstimatedVehicleJourneys, response.VehicleActivities, response.Situations} {
		if value := reflect.ValueOf(elements); value.Kind() == reflect.Slice {
			delivered += value.Len()
		}
	}

	c.Locals(localDelivered, delivered)
	c.Locals(localMoreData, response.MoreData)
	if response.RequestorID != "" {
		c.Locals(localRequestorID, response.RequestorID)
	}
}
