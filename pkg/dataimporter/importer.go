package dataimporter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/travigo/sirihub/pkg/siri"
)

type Format string

const (
	FormatSiriXML      Format = "siri-xml"
	FormatGTFSRealtime Format = "gtfs-rt"
)

var (
	ErrUnknownFormat = errors.New("unknown import format")
	ErrInvalidInput  = errors.New("invalid input")
)

// Ingester receives parsed deliveries, either the repositories directly or
// the ingest queue.
type Ingester interface {
	Ingest(ctx context.Context, datasetID string, delivery siri.ServiceDelivery) error
}

type Importer struct {
	Ingester Ingester
	Clock    clockwork.Clock

	// VehicleValidity is how long a GTFS-RT vehicle position stays valid
	// after it was recorded
	VehicleValidity time.Duration
}

func NewImporter(ingester Ingester, clock clockwork.Clock) *Importer {
	return &Importer{
		Ingester:        ingester,
		Clock:           clock,
		VehicleValidity: 10 * time.Minute,
	}
}

func (i *Importer) Parse(format Format, reader io.Reader) (siri.ServiceDelivery, error) {
	switch format {
	case FormatSiriXML:
		return ParseSiri(reader)
	case FormatGTFSRealtime:
		return ParseGTFSRealtime(reader, i.Clock.Now(), i.VehicleValidity)
	default:
		return siri.ServiceDelivery{}, fmt.Errorf("%w: %s", ErrUnknownFormat, format)
	}
}

// Import parses one upstream response and hands everything in it to the
// ingester under datasetID.
func (i *Importer) Import(ctx context.Context, format Format, datasetID string, reader io.Reader) error {
	delivery, err := i.Parse(format, reader)
	if err != nil {
		return err
	}

	if delivery.Size() == 0 {
		log.Info().Str("dataset", datasetID).Msg("Nothing to import")
		return nil
	}

	return i.Ingester.Ingest(ctx, datasetID, delivery)
}
