package metrics

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/travigo/sirihub/pkg/elastic_client"
	"github.com/travigo/sirihub/pkg/siri"
)

type ElasticEvent struct {
	Timestamp time.Time

	Event     string
	DataType  siri.DataType
	DatasetID string `json:",omitempty"`

	Total    int
	Accepted int    `json:",omitempty"`
	Reason   string `json:",omitempty"`
	MoreData bool   `json:",omitempty"`
}

// ElasticSink writes every report as a document through the shared bulk
// indexer. Events are dropped when Elasticsearch is not configured.
type ElasticSink struct {
	Clock       clockwork.Clock
	IndexPrefix string
}

func (s *ElasticSink) index(event ElasticEvent) {
	event.Timestamp = s.Clock.Now()

	elasticEvent, _ := json.Marshal(event)
	indexName := fmt.Sprintf("%s-%s", s.IndexPrefix, event.Timestamp.Format("2006-01"))

	elastic_client.IndexRequest(indexName, bytes.NewReader(elasticEvent))
}

func (s *ElasticSink) IncomingData(dataType siri.DataType, datasetID string, total int, accepted int) {
	s.index(ElasticEvent{Event: "incoming", DataType: dataType, DatasetID: datasetID, Total: total, Accepted: accepted})
}

func (s *ElasticSink) Rejected(dataType siri.DataType, datasetID string, reason string, count int) {
	if count == 0 {
		return
	}

	s.index(ElasticEvent{Event: "rejected", DataType: dataType, DatasetID: datasetID, Total: count, Reason: reason})
}

func (s *ElasticSink) Delivered(dataType siri.DataType, count int, moreData bool) {
	s.index(ElasticEvent{Event: "delivered", DataType: dataType, Total: count, MoreData: moreData})
}

func (s *ElasticSink) StoreSize(dataType siri.DataType, size int) {
	s.index(ElasticEvent{Event: "size", DataType: dataType, Total: size})
}
