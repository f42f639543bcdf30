package siri

type DataType string

const (
	DataTypeEstimatedTimetable DataType = "et"
	DataTypeVehicleMonitoring  DataType = "vm"
	DataTypeSituationExchange  DataType = "sx"
)

func (d DataType) IsValid() bool {
	switch d {
	case DataTypeEstimatedTimetable, DataTypeVehicleMonitoring, DataTypeSituationExchange:
		return true
	}

	return false
}
