// Package demand learns how busy each (doctor, month, day-of-week, hour)
// cell is from attended appointments and decides which cells gate at-risk
// bookings. Thresholds are recalculated monthly; a +Inf threshold means the
// cell never gates on volume.
package demand

import (
	"math"
	"time"
)

// BaselineDOW is the day_of_week value of admin baseline rows, which apply
// to every weekday at their hour.
const BaselineDOW = -1

// DefaultThreshold is the booking count at which a freshly learned or
// admin-created cell starts gating.
const DefaultThreshold = 3.0

// DefaultMaxFraction is the share of a month's cells the peak cap keeps
// eligible for high demand.
const DefaultMaxFraction = 0.5

// Source records who created a cell.
type Source string

const (
	SourceAdmin Source = "admin"
	SourceAuto  Source = "auto"
)

// Cell is one demand counter keyed by (doctor, year, month, dayOfWeek, hour).
type Cell struct {
	ID                  int64
	DoctorName          string
	Year                int
	Month               int
	DayOfWeek           int
	Hour                int
	TotalAppointments   int
	HighDemandThreshold float64
	Source              Source
	LastUpdated         time.Time
}

// HighDemand reports whether the cell gates at-risk bookings: admin rows
// always do, learned rows once their total reaches the threshold.
func (c *Cell) HighDemand() bool {
	return c.Source == SourceAdmin || float64(c.TotalAppointments) >= c.HighDemandThreshold
}

// Baseline reports whether the row is an admin baseline (applies to every
// weekday at its hour).
func (c *Cell) Baseline() bool {
	return c.DayOfWeek == BaselineDOW
}

// NeverHigh is the threshold value that disables volume-based gating.
func NeverHigh() float64 {
	return math.Inf(1)
}
