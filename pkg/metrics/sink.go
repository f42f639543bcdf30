// Package metrics defines the sink repositories report to. Repositories get
// a Sink handed to them, nothing here is process-wide.
package metrics

import "github.com/travigo/sirihub/pkg/siri"

type Sink interface {
	// IncomingData is reported once per AddAll call
	IncomingData(dataType siri.DataType, datasetID string, total int, accepted int)

	// Rejected counts items dropped for a single reason within one AddAll call
	Rejected(dataType siri.DataType, datasetID string, reason string, count int)

	Delivered(dataType siri.DataType, count int, moreData bool)

	StoreSize(dataType siri.DataType, size int)
}

type Noop struct{}

func (Noop) IncomingData(siri.DataType, string, int, int) {}
func (Noop) Rejected(siri.DataType, string, string, int)  {}
func (Noop) Delivered(siri.DataType, int, bool)           {}
func (Noop) StoreSize(siri.DataType, int)                 {}

// Multi fans every call out to all of its sinks.
type Multi []Sink

func (m Multi) IncomingData(dataType siri.DataType, datasetID string, total int, accepted int) {
	for _, sink := range m {
		sink.IncomingData(dataType, datasetID, total, accepted)
	}
}

func (m Multi) Rejected(dataType siri.DataType, datasetID string, reason string, count int) {
	for _, sink := range m {
		sink.Rejected(dataType, datasetID, reason, count)
	}
}

func (m Multi) Delivered(dataType siri.DataType, count int, moreData bool) {
	for _, sink := range m {
		sink.Delivered(dataType, count, moreData)
	}
}

func (m Multi) StoreSize(dataType siri.DataType, size int) {
	for _, sink := range m {
		sink.StoreSize(dataType, size)
	}
}
