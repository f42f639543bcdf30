package siri

// ServiceDelivery groups the elements of one upstream response, whatever
// mix of estimated timetables, vehicle monitoring and situations it holds.
type ServiceDelivery struct {
	EstimatedVehicleJourneys []*EstimatedVehicleJourney
	VehicleActivities        []*VehicleActivity
	Situations               []*PtSituationElement
}

func (d *ServiceDelivery) Size() int {
	return len(d.EstimatedVehicleJourneys) + len(d.VehicleActivities) + len(d.Situations)
}
