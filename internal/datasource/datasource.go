// Package datasource defines the read-only, time-indexed source of ground
// truth and stored sensor readings that the fitting and fusion layers consume.
package datasource

import (
	"github.com/brookslogan/nowcast-template/internal/epiweek"
)

// DataSource is the interface by which all input data is provided. Absent
// values are reported through the boolean, never as an error: a missing week
// is ordinary, not exceptional.
type DataSource interface {
	// TruthValue returns the ground-truth target value for a week and
	// location, if any.
	TruthValue(week epiweek.Week, location string) (float64, bool)

	// SensorValue returns a stored sensor reading, if any.
	SensorValue(week epiweek.Week, location, name string) (float64, bool)

	// Weeks returns every week on which truth and sensors may be available,
	// in order.
	Weeks() []epiweek.Week

	// Sensors returns the known sensor names.
	Sensors() []string

	// TruthLocations returns the locations with ground truth available.
	TruthLocations() []string

	// SensorLocations returns the locations with sensors available.
	SensorLocations() []string

	// MissingLocations returns the atoms that did not report on a week.
	MissingLocations(week epiweek.Week) []string
}

// LastWeek returns the final week of the source's data range.
func LastWeek(src DataSource) epiweek.Week {
	weeks := src.Weeks()
	if len(weeks) == 0 {
		return 0
	}
	return weeks[len(weeks)-1]
}
