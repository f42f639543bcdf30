package api

import (
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	iso8601 "github.com/senseyeio/duration"
)

var errInvalidParameter = errors.New("invalid parameter")

type deliveryRequest struct {
	RequestorID     string
	DatasetID       string
	LineRef         string
	MaxSize         int
	PreviewInterval time.Duration
	Groups          []string
}

func parseDeliveryRequest(c *fiber.Ctx, defaultMaxSize int, now time.Time) (deliveryRequest, error) {
	request := deliveryRequest{
		RequestorID:     c.Query("requestorId"),
		DatasetID:       c.Query("datasetId"),
		LineRef:         c.Query("lineRef"),
		PreviewInterval: -1,
		Groups:          []string{"basic", "detailed"},
	}

	maxSize := -1
	if value := c.Query("maxSize"); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return request, errors.Join(errInvalidParameter, errors.New("maxSize must be a number"))
		}
		maxSize = parsed
	}
	request.MaxSize = effectiveMaxSize(maxSize, request.DatasetID, defaultMaxSize)

	if value := c.Query("previewInterval"); value != "" {
		previewInterval, err := parsePreviewInterval(value, now)
		if err != nil {
			return request, err
		}
		request.PreviewInterval = previewInterval
	}

	switch c.Query("detail", "detailed") {
	case "basic":
		request.Groups = []string{"basic"}
	case "detailed":
	default:
		return request, errors.Join(errInvalidParameter, errors.New("detail must be basic or detailed"))
	}

	return request, nil
}

// effectiveMaxSize applies the default page size to unsized requests.
// Unsized requests scoped to a dataset get everything; zero means no limit
// further down.
func effectiveMaxSize(maxSize int, datasetID string, defaultMaxSize int) int {
	if maxSize > 0 {
		return maxSize
	}
	if datasetID != "" {
		return 0
	}

	return defaultMaxSize
}

// parsePreviewInterval accepts an ISO-8601 duration (PT2H) or a plain
// number of minutes.
func parsePreviewInterval(value string, now time.Time) (time.Duration, error) {
	if minutes, err := strconv.Atoi(value); err == nil && minutes >= 0 {
		return time.Duration(minutes) * time.Minute, nil
	}

	duration, err := iso8601.ParseISO8601(value)
	if err != nil {
		return 0, errors.Join(errInvalidParameter, errors.New("previewInterval must be an ISO-8601 duration or minutes"))
	}

	return duration.Shift(now).Sub(now), nil
}
