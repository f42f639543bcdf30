package metrics

import (
	"sync"

	"github.com/travigo/sirihub/pkg/siri"
)

type DatasetCounters struct {
	Received int
	Accepted int
	Rejected map[string]int
}

type DataTypeCounters struct {
	StoreSize  int
	Delivered  int
	Deliveries int
	MoreData   int

	Datasets map[string]*DatasetCounters
}

// Recorder keeps running totals in memory. It backs the admin stats
// endpoint and doubles as the sink in tests.
type Recorder struct {
	mutex    sync.Mutex
	counters map[siri.DataType]*DataTypeCounters
}

func NewRecorder() *Recorder {
	return &Recorder{counters: map[siri.DataType]*DataTypeCounters{}}
}

func (r *Recorder) dataType(dataType siri.DataType) *DataTypeCounters {
	counters, exists := r.counters[dataType]
	if !exists {
		counters = &DataTypeCounters{Datasets: map[string]*DatasetCounters{}}
		r.counters[dataType] = counters
	}

	return counters
}

func (r *Recorder) dataset(dataType siri.DataType, datasetID string) *DatasetCounters {
	counters := r.dataType(dataType)

	dataset, exists := counters.Datasets[datasetID]
	if !exists {
		dataset = &DatasetCounters{Rejected: map[string]int{}}
		counters.Datasets[datasetID] = dataset
	}

	return dataset
}

func (r *Recorder) IncomingData(dataType siri.DataType, datasetID string, total int, accepted int) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	dataset := r.dataset(dataType, datasetID)
	dataset.Received += total
	dataset.Accepted += accepted
}

func (r *Recorder) Rejected(dataType siri.DataType, datasetID string, reason string, count int) {
	if count == 0 {
		return
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.dataset(dataType, datasetID).Rejected[reason] += count
}

func (r *Recorder) Delivered(dataType siri.DataType, count int, moreData bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	counters := r.dataType(dataType)
	counters.Delivered += count
	counters.Deliveries++
	if moreData {
		counters.MoreData++
	}
}

func (r *Recorder) StoreSize(dataType siri.DataType, size int) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.dataType(dataType).StoreSize = size
}

// Snapshot returns a deep copy that is safe to read and serialise.
func (r *Recorder) Snapshot() map[siri.DataType]DataTypeCounters {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	snapshot := make(map[siri.DataType]DataTypeCounters, len(r.counters))
	for dataType, counters := range r.counters {
		copied := *counters
		copied.Datasets = make(map[string]*DatasetCounters, len(counters.Datasets))

		for datasetID, dataset := range counters.Datasets {
			datasetCopy := *dataset
			datasetCopy.Rejected = make(map[string]int, len(dataset.Rejected))
			for reason, count := range dataset.Rejected {
				datasetCopy.Rejected[reason] = count
			}
			copied.Datasets[datasetID] = &datasetCopy
		}

		snapshot[dataType] = copied
	}

	return snapshot
}
