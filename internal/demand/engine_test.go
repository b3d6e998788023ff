package demand

import (
	"context"
	"math"
	"sort"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alshifa-health/clinic-appointments/internal/timeutil"
	"github.com/alshifa-health/clinic-appointments/pkg/logging"
)

type cellKey struct {
	doctor                 string
	year, month, dow, hour int
}

// fakeCells is an in-memory CellStore with upsert semantics.
type fakeCells struct {
	seq   int64
	cells map[cellKey]*Cell
}

func newFakeCells() *fakeCells {
	return &fakeCells{cells: map[cellKey]*Cell{}}
}

func keyOf(c *Cell) cellKey {
	return cellKey{c.DoctorName, c.Year, c.Month, c.DayOfWeek, c.Hour}
}

func (f *fakeCells) AnyForMonth(_ context.Context, doctor string, year, month int) (bool, error) {
	for k := range f.cells {
		if k.doctor == doctor && k.year == year && k.month == month {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeCells) ListForMonth(_ context.Context, doctor string, year, month int) ([]Cell, error) {
	var out []Cell
	for k, c := range f.cells {
		if k.doctor == doctor && k.year == year && k.month == month {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DayOfWeek != out[j].DayOfWeek {
			return out[i].DayOfWeek < out[j].DayOfWeek
		}
		return out[i].Hour < out[j].Hour
	})
	return out, nil
}

func (f *fakeCells) Find(_ context.Context, doctor string, year, month, dow, hour int) (*Cell, error) {
	c, ok := f.cells[cellKey{doctor, year, month, dow, hour}]
	if !ok {
		return nil, nil
	}
	copied := *c
	return &copied, nil
}

func (f *fakeCells) Insert(_ context.Context, c *Cell) error {
	k := keyOf(c)
	if _, exists := f.cells[k]; exists {
		return nil
	}
	f.seq++
	stored := *c
	stored.ID = f.seq
	f.cells[k] = &stored
	return nil
}

func (f *fakeCells) IncrementTotal(_ context.Context, doctor string, year, month, dow, hour int, defaultThreshold float64) error {
	k := cellKey{doctor, year, month, dow, hour}
	if c, ok := f.cells[k]; ok {
		c.TotalAppointments++
		return nil
	}
	f.seq++
	f.cells[k] = &Cell{
		ID: f.seq, DoctorName: doctor, Year: year, Month: month, DayOfWeek: dow, Hour: hour,
		TotalAppointments: 1, HighDemandThreshold: defaultThreshold, Source: SourceAuto,
	}
	return nil
}

func (f *fakeCells) SetMonthThreshold(_ context.Context, doctor string, year, month int, threshold float64) (int64, error) {
	var n int64
	for k, c := range f.cells {
		if k.doctor == doctor && k.year == year && k.month == month {
			c.HighDemandThreshold = threshold
			n++
		}
	}
	return n, nil
}

func (f *fakeCells) SetCellThresholds(_ context.Context, ids []int64, threshold float64) error {
	want := map[int64]struct{}{}
	for _, id := range ids {
		want[id] = struct{}{}
	}
	for _, c := range f.cells {
		if _, ok := want[c.ID]; ok {
			c.HighDemandThreshold = threshold
		}
	}
	return nil
}

func (f *fakeCells) ReplaceBaseline(_ context.Context, doctor string, year, month int, hours []int, threshold float64) error {
	for k, c := range f.cells {
		if k.doctor == doctor && k.year == year && k.month == month && c.Source == SourceAdmin {
			delete(f.cells, k)
		}
	}
	for _, hour := range hours {
		k := cellKey{doctor, year, month, BaselineDOW, hour}
		if c, ok := f.cells[k]; ok {
			c.Source = SourceAdmin
			c.HighDemandThreshold = threshold
			continue
		}
		f.seq++
		f.cells[k] = &Cell{
			ID: f.seq, DoctorName: doctor, Year: year, Month: month, DayOfWeek: BaselineDOW, Hour: hour,
			HighDemandThreshold: threshold, Source: SourceAdmin,
		}
	}
	return nil
}

func (f *fakeCells) DistinctDoctors(context.Context) ([]string, error) {
	seen := map[string]struct{}{}
	for k := range f.cells {
		seen[k.doctor] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for d := range seen {
		out = append(out, d)
	}
	sort.Strings(out)
	return out, nil
}

var _ CellStore = (*fakeCells)(nil)

func newTestEngine(t *testing.T, at time.Time) (*Engine, *fakeCells) {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Riyadh")
	require.NoError(t, err)
	clock := timeutil.NewClockAt(clockwork.NewFakeClockAt(at.In(loc)), loc)
	cells := newFakeCells()
	return NewEngine(cells, clock, logging.Default()), cells
}

func riyadhDate(t *testing.T, year int, month time.Month, day, hour, minute int) time.Time {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Riyadh")
	require.NoError(t, err)
	return time.Date(year, month, day, hour, minute, 0, 0, loc)
}

func TestEnsureMonthCopiesPreviousYear(t *testing.T) {
	now := riyadhDate(t, 2026, time.October, 1, 8, 0)
	engine, cells := newTestEngine(t, now)
	ctx := context.Background()

	// Last year's October had a learned cell and an admin baseline.
	require.NoError(t, cells.Insert(ctx, &Cell{
		DoctorName: "Dr. Sara", Year: 2025, Month: 10, DayOfWeek: 2, Hour: 9,
		TotalAppointments: 7, HighDemandThreshold: 4.32, Source: SourceAuto,
	}))
	require.NoError(t, cells.Insert(ctx, &Cell{
		DoctorName: "Dr. Sara", Year: 2025, Month: 10, DayOfWeek: BaselineDOW, Hour: 9,
		TotalAppointments: 0, HighDemandThreshold: 3, Source: SourceAdmin,
	}))

	require.NoError(t, engine.EnsureMonth(ctx, "Dr. Sara", now))

	copied, err := cells.ListForMonth(ctx, "Dr. Sara", 2026, 10)
	require.NoError(t, err)
	require.Len(t, copied, 2)
	for _, c := range copied {
		assert.Equal(t, 0, c.TotalAppointments)
		assert.Equal(t, SourceAuto, c.Source)
	}
	// Thresholds survive the copy.
	cell, err := cells.Find(ctx, "Dr. Sara", 2026, 10, 2, 9)
	require.NoError(t, err)
	require.NotNil(t, cell)
	assert.Equal(t, 4.32, cell.HighDemandThreshold)

	// A second call is a no-op even after the month accrues data.
	require.NoError(t, engine.RecordAttendance(ctx, "Dr. Sara", riyadhDate(t, 2026, time.October, 6, 9, 0)))
	require.NoError(t, engine.EnsureMonth(ctx, "Dr. Sara", now))
	cell, err = cells.Find(ctx, "Dr. Sara", 2026, 10, 2, 9)
	require.NoError(t, err)
	assert.Equal(t, 1, cell.TotalAppointments)
}

func TestEnsureMonthWithoutHistory(t *testing.T) {
	now := riyadhDate(t, 2026, time.October, 1, 8, 0)
	engine, cells := newTestEngine(t, now)
	ctx := context.Background()

	require.NoError(t, engine.EnsureMonth(ctx, "Dr. New", now))
	month, err := cells.ListForMonth(ctx, "Dr. New", 2026, 10)
	require.NoError(t, err)
	assert.Empty(t, month)
}

func TestRecordAttendanceLearnsCell(t *testing.T) {
	now := riyadhDate(t, 2025, time.October, 7, 9, 0)
	engine, cells := newTestEngine(t, now)
	ctx := context.Background()

	// October 7th 2025 is a Tuesday.
	at := riyadhDate(t, 2025, time.October, 7, 9, 15)
	require.NoError(t, engine.RecordAttendance(ctx, "Dr. Sara", at))
	require.NoError(t, engine.RecordAttendance(ctx, "Dr. Sara", at))

	cell, err := cells.Find(ctx, "Dr. Sara", 2025, 10, 2, 9)
	require.NoError(t, err)
	require.NotNil(t, cell)
	assert.Equal(t, 2, cell.TotalAppointments)
	assert.Equal(t, DefaultThreshold, cell.HighDemandThreshold)
	assert.Equal(t, SourceAuto, cell.Source)
}

func TestHighDemandAdmission(t *testing.T) {
	now := riyadhDate(t, 2025, time.October, 1, 8, 0)
	engine, cells := newTestEngine(t, now)
	ctx := context.Background()

	require.NoError(t, engine.SetBaseline(ctx, "Dr. Sara", 2025, 10, []int{9}, 3))
	require.NoError(t, cells.Insert(ctx, &Cell{
		DoctorName: "Dr. Sara", Year: 2025, Month: 10, DayOfWeek: 2, Hour: 9,
		TotalAppointments: 3, HighDemandThreshold: 3, Source: SourceAuto,
	}))

	// Tuesday 09:15 hits the learned cell at its threshold.
	high, err := engine.HighDemand(ctx, "Dr. Sara", riyadhDate(t, 2025, time.October, 7, 9, 15))
	require.NoError(t, err)
	assert.True(t, high)

	// Tuesday 10:15 has no cell and no baseline hour.
	high, err = engine.HighDemand(ctx, "Dr. Sara", riyadhDate(t, 2025, time.October, 7, 10, 15))
	require.NoError(t, err)
	assert.False(t, high)

	// Monday 09:15 has no weekday cell but falls back to the admin baseline.
	high, err = engine.HighDemand(ctx, "Dr. Sara", riyadhDate(t, 2025, time.October, 6, 9, 15))
	require.NoError(t, err)
	assert.True(t, high)
}

func TestEffectivePrefersPreviousYearOverBaseline(t *testing.T) {
	now := riyadhDate(t, 2026, time.October, 1, 8, 0)
	engine, cells := newTestEngine(t, now)
	ctx := context.Background()

	require.NoError(t, cells.Insert(ctx, &Cell{
		DoctorName: "Dr. Sara", Year: 2025, Month: 10, DayOfWeek: 2, Hour: 9,
		TotalAppointments: 6, HighDemandThreshold: 3, Source: SourceAuto,
	}))
	require.NoError(t, cells.Insert(ctx, &Cell{
		DoctorName: "Dr. Sara", Year: 2026, Month: 10, DayOfWeek: BaselineDOW, Hour: 9,
		TotalAppointments: 0, HighDemandThreshold: 3, Source: SourceAdmin,
	}))

	// October 6th 2026 is a Tuesday; last year's weekday cell wins over this
	// year's baseline.
	cell, err := engine.Effective(ctx, "Dr. Sara", riyadhDate(t, 2026, time.October, 6, 9, 30))
	require.NoError(t, err)
	require.NotNil(t, cell)
	assert.Equal(t, 2025, cell.Year)
	assert.Equal(t, 2, cell.DayOfWeek)
}

func TestRecalcThreshold(t *testing.T) {
	// Five cells: avg 3.6, avg*1.2 = 4.32; descending rank 1 holds 4.
	assert.InDelta(t, 4.32, RecalcThreshold([]int{1, 2, 3, 4, 8}), 1e-9)

	// Rank boundary wins when it exceeds the padded average.
	assert.InDelta(t, 9, RecalcThreshold([]int{1, 1, 1, 9, 9}), 1e-9)

	// Light months pad the average by 10%.
	assert.InDelta(t, 3.3, RecalcThreshold([]int{2, 4}), 1e-9)

	assert.True(t, math.IsInf(RecalcThreshold(nil), 1))
}

func TestRecalcAppliesToAllCells(t *testing.T) {
	now := riyadhDate(t, 2025, time.November, 1, 2, 0)
	engine, cells := newTestEngine(t, now)
	ctx := context.Background()

	for i, total := range []int{1, 2, 3, 4, 8} {
		require.NoError(t, cells.Insert(ctx, &Cell{
			DoctorName: "Dr. K", Year: 2025, Month: 10, DayOfWeek: i % 7, Hour: 9 + i,
			TotalAppointments: total, HighDemandThreshold: 3, Source: SourceAuto,
		}))
	}

	require.NoError(t, engine.Recalc(ctx, "Dr. K", 2025, 10))

	month, err := cells.ListForMonth(ctx, "Dr. K", 2025, 10)
	require.NoError(t, err)
	require.Len(t, month, 5)
	for _, c := range month {
		assert.InDelta(t, 4.32, c.HighDemandThreshold, 1e-9)
	}
}

func TestRecalcSkipsEmptyMonth(t *testing.T) {
	now := riyadhDate(t, 2025, time.November, 1, 2, 0)
	engine, _ := newTestEngine(t, now)
	require.NoError(t, engine.Recalc(context.Background(), "Dr. Nobody", 2025, 10))
}

func TestCapPeaks(t *testing.T) {
	now := riyadhDate(t, 2025, time.November, 1, 2, 0)
	engine, cells := newTestEngine(t, now)
	ctx := context.Background()

	for i, total := range []int{8, 4, 3, 1} {
		require.NoError(t, cells.Insert(ctx, &Cell{
			DoctorName: "Dr. K", Year: 2025, Month: 10, DayOfWeek: 1, Hour: 9 + i,
			TotalAppointments: total, HighDemandThreshold: 3, Source: SourceAuto,
		}))
	}

	require.NoError(t, engine.CapPeaks(ctx, "Dr. K", 2025, 10, DefaultMaxFraction))

	month, err := cells.ListForMonth(ctx, "Dr. K", 2025, 10)
	require.NoError(t, err)
	var capped, kept int
	for _, c := range month {
		if math.IsInf(c.HighDemandThreshold, 1) {
			capped++
			assert.LessOrEqual(t, c.TotalAppointments, 3)
		} else {
			kept++
			assert.GreaterOrEqual(t, c.TotalAppointments, 4)
		}
	}
	assert.Equal(t, 2, capped)
	assert.Equal(t, 2, kept)
}

func TestLateRelease(t *testing.T) {
	now := riyadhDate(t, 2025, time.October, 3, 12, 30)
	engine, cells := newTestEngine(t, now)
	ctx := context.Background()

	// October 3rd 2025 is a Friday; the 14:00 cell is past its threshold.
	require.NoError(t, cells.Insert(ctx, &Cell{
		DoctorName: "Dr. K", Year: 2025, Month: 10, DayOfWeek: 5, Hour: 14,
		TotalAppointments: 5, HighDemandThreshold: 3, Source: SourceAuto,
	}))
	slotAt := riyadhDate(t, 2025, time.October, 3, 14, 0)

	high, err := engine.HighDemand(ctx, "Dr. K", slotAt)
	require.NoError(t, err)
	require.True(t, high)

	require.NoError(t, engine.ReleaseFor(ctx, "Dr. K", slotAt))

	high, err = engine.HighDemand(ctx, "Dr. K", slotAt)
	require.NoError(t, err)
	assert.False(t, high)
}

func TestLateReleaseKeepsAdminGating(t *testing.T) {
	now := riyadhDate(t, 2025, time.October, 3, 12, 30)
	engine, _ := newTestEngine(t, now)
	ctx := context.Background()

	require.NoError(t, engine.SetBaseline(ctx, "Dr. K", 2025, 10, []int{14}, 3))
	slotAt := riyadhDate(t, 2025, time.October, 3, 14, 0)

	require.NoError(t, engine.ReleaseFor(ctx, "Dr. K", slotAt))

	// Admin rows gate by source, the threshold change does not free them.
	high, err := engine.HighDemand(ctx, "Dr. K", slotAt)
	require.NoError(t, err)
	assert.True(t, high)
}
