package database

// Every expiring store gets its own collection
const (
	EstimatedTimetablesCollection = "estimated_timetables"
	PatternChangesCollection      = "estimated_timetables_pattern_changes"
	StartTimesCollection          = "estimated_timetables_start_times"
	VehicleActivitiesCollection   = "vehicle_activities"
	SituationsCollection          = "situations"
)
