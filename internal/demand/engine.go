package demand

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/alshifa-health/clinic-appointments/internal/timeutil"
	"github.com/alshifa-health/clinic-appointments/pkg/logging"
)

// CellStore is the persistence surface the engine needs.
type CellStore interface {
	AnyForMonth(ctx context.Context, doctor string, year, month int) (bool, error)
	ListForMonth(ctx context.Context, doctor string, year, month int) ([]Cell, error)
	Find(ctx context.Context, doctor string, year, month, dayOfWeek, hour int) (*Cell, error)
	Insert(ctx context.Context, c *Cell) error
	IncrementTotal(ctx context.Context, doctor string, year, month, dayOfWeek, hour int, defaultThreshold float64) error
	SetMonthThreshold(ctx context.Context, doctor string, year, month int, threshold float64) (int64, error)
	SetCellThresholds(ctx context.Context, ids []int64, threshold float64) error
	ReplaceBaseline(ctx context.Context, doctor string, year, month int, hours []int, threshold float64) error
	DistinctDoctors(ctx context.Context) ([]string, error)
}

var _ CellStore = (*Store)(nil)

// Engine owns the demand-learning rules: lazy month initialization,
// per-attendance learning, the effective-demand lookup, threshold
// recalculation, the peak cap, and late release.
type Engine struct {
	cells  CellStore
	clock  *timeutil.Clock
	logger *logging.Logger
}

// NewEngine creates a demand engine.
func NewEngine(cells CellStore, clock *timeutil.Clock, logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.Default()
	}
	return &Engine{cells: cells, clock: clock, logger: logger}
}

// EnsureMonth lazily initializes the month containing date for a doctor: if
// no cell exists yet, last year's same-month cells are copied with totals
// reset to zero, thresholds kept, and source downgraded to auto. A doctor
// with no history at all starts the month empty.
func (e *Engine) EnsureMonth(ctx context.Context, doctor string, date time.Time) error {
	local := e.clock.In(date)
	year, month := local.Year(), int(local.Month())

	exists, err := e.cells.AnyForMonth(ctx, doctor, year, month)
	if err != nil || exists {
		return err
	}

	prev, err := e.cells.ListForMonth(ctx, doctor, year-1, month)
	if err != nil {
		return err
	}
	for i := range prev {
		seed := prev[i]
		seed.ID = 0
		seed.Year = year
		seed.TotalAppointments = 0
		seed.Source = SourceAuto
		if err := e.cells.Insert(ctx, &seed); err != nil {
			return err
		}
	}
	if len(prev) > 0 {
		e.logger.Info("demand: month seeded from previous year",
			"doctor_name", doctor, "year", year, "month", month, "cells", len(prev))
	}
	return nil
}

// RecordAttendance learns one attended appointment into its cell, creating
// the month and cell as needed.
func (e *Engine) RecordAttendance(ctx context.Context, doctor string, at time.Time) error {
	local := e.clock.In(at)
	if err := e.EnsureMonth(ctx, doctor, local); err != nil {
		return err
	}
	return e.cells.IncrementTotal(ctx, doctor,
		local.Year(), int(local.Month()), int(local.Weekday()), local.Hour(), DefaultThreshold)
}

// Effective returns the cell that governs a slot, walking the precedence
// chain: this year's (dow, hour), last year's (dow, hour), this year's
// baseline hour, last year's baseline hour. Nil means no data governs the
// slot and it is never high-demand.
func (e *Engine) Effective(ctx context.Context, doctor string, date time.Time) (*Cell, error) {
	local := e.clock.In(date)
	year, month := local.Year(), int(local.Month())
	dow, hour := int(local.Weekday()), local.Hour()

	lookups := []struct{ year, dow int }{
		{year, dow},
		{year - 1, dow},
		{year, BaselineDOW},
		{year - 1, BaselineDOW},
	}
	for _, l := range lookups {
		cell, err := e.cells.Find(ctx, doctor, l.year, month, l.dow, hour)
		if err != nil {
			return nil, err
		}
		if cell != nil {
			return cell, nil
		}
	}
	return nil, nil
}

// HighDemand reports whether a slot is currently gated for at-risk users.
func (e *Engine) HighDemand(ctx context.Context, doctor string, date time.Time) (bool, error) {
	cell, err := e.Effective(ctx, doctor, date)
	if err != nil {
		return false, err
	}
	return cell != nil && cell.HighDemand(), nil
}

// RecalcThreshold computes a month's threshold from its cell totals. Light
// months (fewer than 3 cells) get a gentle 10% bump over the average; others
// get the stricter of 20% over the average and the total at the 25th-rank
// boundary of the descending order.
func RecalcThreshold(totals []int) float64 {
	n := len(totals)
	if n == 0 {
		return NeverHigh()
	}
	sum := 0
	for _, t := range totals {
		sum += t
	}
	avg := float64(sum) / float64(n)
	if n < 3 {
		return avg * 1.1
	}

	desc := make([]int, n)
	copy(desc, totals)
	sort.Sort(sort.Reverse(sort.IntSlice(desc)))
	boundary := float64(desc[n/4])
	return math.Max(avg*1.2, boundary)
}

// Recalc rewrites every cell threshold for the month from observed totals.
// An empty month is skipped.
func (e *Engine) Recalc(ctx context.Context, doctor string, year, month int) error {
	cells, err := e.cells.ListForMonth(ctx, doctor, year, month)
	if err != nil {
		return err
	}
	if len(cells) == 0 {
		return nil
	}

	totals := make([]int, len(cells))
	for i := range cells {
		totals[i] = cells[i].TotalAppointments
	}
	threshold := RecalcThreshold(totals)

	updated, err := e.cells.SetMonthThreshold(ctx, doctor, year, month, threshold)
	if err != nil {
		return err
	}
	e.logger.Info("demand: thresholds recalculated",
		"doctor_name", doctor, "year", year, "month", month, "threshold", threshold, "cells", updated)
	return nil
}

// CapPeaks keeps only the busiest ⌊n·maxFraction⌋ cells of the month
// eligible for volume-based gating; every other cell's threshold becomes
// +Inf. Admin rows keep gating regardless of threshold.
func (e *Engine) CapPeaks(ctx context.Context, doctor string, year, month int, maxFraction float64) error {
	cells, err := e.cells.ListForMonth(ctx, doctor, year, month)
	if err != nil {
		return err
	}
	if len(cells) == 0 {
		return nil
	}

	sort.SliceStable(cells, func(i, j int) bool {
		return cells[i].TotalAppointments > cells[j].TotalAppointments
	})
	keep := int(float64(len(cells)) * maxFraction)
	if keep >= len(cells) {
		return nil
	}

	demoted := make([]int64, 0, len(cells)-keep)
	for _, c := range cells[keep:] {
		demoted = append(demoted, c.ID)
	}
	if err := e.cells.SetCellThresholds(ctx, demoted, NeverHigh()); err != nil {
		return err
	}
	e.logger.Info("demand: peak cap applied",
		"doctor_name", doctor, "year", year, "month", month, "kept", keep, "demoted", len(demoted))
	return nil
}

// ReleaseFor lifts volume-based gating on the cell governing a slot that is
// about to start and is still unsold. Admin cells stay gating by source.
func (e *Engine) ReleaseFor(ctx context.Context, doctor string, date time.Time) error {
	cell, err := e.Effective(ctx, doctor, date)
	if err != nil {
		return err
	}
	if cell == nil || !cell.HighDemand() {
		return nil
	}
	if err := e.cells.SetCellThresholds(ctx, []int64{cell.ID}, NeverHigh()); err != nil {
		return err
	}
	e.logger.Info("demand: late release",
		"doctor_name", doctor, "starts_at", date, "cell_id", cell.ID)
	return nil
}

// SetBaseline replaces the month's admin baseline with one row per hour.
func (e *Engine) SetBaseline(ctx context.Context, doctor string, year, month int, hours []int, threshold float64) error {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if err := e.cells.ReplaceBaseline(ctx, doctor, year, month, hours, threshold); err != nil {
		return err
	}
	e.logger.Info("demand: baseline replaced",
		"doctor_name", doctor, "year", year, "month", month, "hours", fmt.Sprint(hours), "threshold", threshold)
	return nil
}

// MonthCells returns a month's cells for the admin surface.
func (e *Engine) MonthCells(ctx context.Context, doctor string, year, month int) ([]Cell, error) {
	return e.cells.ListForMonth(ctx, doctor, year, month)
}

// Doctors returns every doctor with demand history.
func (e *Engine) Doctors(ctx context.Context) ([]string, error) {
	return e.cells.DistinctDoctors(ctx)
}
