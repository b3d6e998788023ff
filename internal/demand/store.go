package demand

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store provides persistence for demand cells. Counter updates go through
// single upsert statements so concurrent learners never lose increments.
type Store struct {
	db DB
}

// NewStore creates a demand cell store.
func NewStore(db DB) *Store {
	return &Store{db: db}
}

const cellColumns = `id, doctor_name, year, month, day_of_week, hour, total_appointments, high_demand_threshold, source, last_updated`

// AnyForMonth reports whether any cell exists for (doctor, year, month).
func (s *Store) AnyForMonth(ctx context.Context, doctor string, year, month int) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM demand_cells
			WHERE doctor_name = $1 AND year = $2 AND month = $3
		)`, doctor, year, month).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("demand: any for month: %w", err)
	}
	return exists, nil
}

// ListForMonth returns a month's cells, baselines first.
func (s *Store) ListForMonth(ctx context.Context, doctor string, year, month int) ([]Cell, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+cellColumns+`
		FROM demand_cells
		WHERE doctor_name = $1 AND year = $2 AND month = $3
		ORDER BY day_of_week, hour`, doctor, year, month)
	if err != nil {
		return nil, fmt.Errorf("demand: list for month: %w", err)
	}
	defer rows.Close()
	return scanCells(rows)
}

// Find returns the cell at the exact key, or nil when none exists. A miss is
// not an error, the effective-demand lookup walks a fallback chain.
func (s *Store) Find(ctx context.Context, doctor string, year, month, dayOfWeek, hour int) (*Cell, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+cellColumns+`
		FROM demand_cells
		WHERE doctor_name = $1 AND year = $2 AND month = $3 AND day_of_week = $4 AND hour = $5`,
		doctor, year, month, dayOfWeek, hour)
	c, err := scanCell(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("demand: find cell: %w", err)
	}
	return c, nil
}

// Insert adds a cell, keeping any existing row at the same key.
func (s *Store) Insert(ctx context.Context, c *Cell) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO demand_cells (doctor_name, year, month, day_of_week, hour, total_appointments, high_demand_threshold, source, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (doctor_name, year, month, day_of_week, hour) DO NOTHING`,
		c.DoctorName, c.Year, c.Month, c.DayOfWeek, c.Hour,
		c.TotalAppointments, c.HighDemandThreshold, string(c.Source), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("demand: insert cell: %w", err)
	}
	return nil
}

// IncrementTotal counts one attendance into the cell, creating it with the
// default threshold when absent. The upsert keeps concurrent increments
// lossless without a read-modify-write.
func (s *Store) IncrementTotal(ctx context.Context, doctor string, year, month, dayOfWeek, hour int, defaultThreshold float64) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO demand_cells (doctor_name, year, month, day_of_week, hour, total_appointments, high_demand_threshold, source, last_updated)
		VALUES ($1, $2, $3, $4, $5, 1, $6, $7, $8)
		ON CONFLICT (doctor_name, year, month, day_of_week, hour) DO UPDATE SET
			total_appointments = demand_cells.total_appointments + 1,
			last_updated       = EXCLUDED.last_updated`,
		doctor, year, month, dayOfWeek, hour, defaultThreshold, string(SourceAuto), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("demand: increment total: %w", err)
	}
	return nil
}

// SetMonthThreshold rewrites every cell threshold for a month and returns
// how many rows changed.
func (s *Store) SetMonthThreshold(ctx context.Context, doctor string, year, month int, threshold float64) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE demand_cells SET high_demand_threshold = $1, last_updated = $2
		WHERE doctor_name = $3 AND year = $4 AND month = $5`,
		threshold, time.Now().UTC(), doctor, year, month)
	if err != nil {
		return 0, fmt.Errorf("demand: set month threshold: %w", err)
	}
	return tag.RowsAffected(), nil
}

// SetCellThresholds rewrites the threshold of the identified cells.
func (s *Store) SetCellThresholds(ctx context.Context, ids []int64, threshold float64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db.Exec(ctx, `
		UPDATE demand_cells SET high_demand_threshold = $1, last_updated = $2
		WHERE id = ANY($3)`,
		threshold, time.Now().UTC(), ids)
	if err != nil {
		return fmt.Errorf("demand: set cell thresholds: %w", err)
	}
	return nil
}

// ReplaceBaseline removes the month's admin rows and writes one baseline row
// per hour.
func (s *Store) ReplaceBaseline(ctx context.Context, doctor string, year, month int, hours []int, threshold float64) error {
	_, err := s.db.Exec(ctx, `
		DELETE FROM demand_cells
		WHERE doctor_name = $1 AND year = $2 AND month = $3 AND source = $4`,
		doctor, year, month, string(SourceAdmin))
	if err != nil {
		return fmt.Errorf("demand: delete admin baseline: %w", err)
	}
	now := time.Now().UTC()
	for _, hour := range hours {
		_, err := s.db.Exec(ctx, `
			INSERT INTO demand_cells (doctor_name, year, month, day_of_week, hour, total_appointments, high_demand_threshold, source, last_updated)
			VALUES ($1, $2, $3, $4, $5, 0, $6, $7, $8)
			ON CONFLICT (doctor_name, year, month, day_of_week, hour) DO UPDATE SET
				high_demand_threshold = EXCLUDED.high_demand_threshold,
				source                = EXCLUDED.source,
				last_updated          = EXCLUDED.last_updated`,
			doctor, year, month, BaselineDOW, hour, threshold, string(SourceAdmin), now)
		if err != nil {
			return fmt.Errorf("demand: insert baseline hour %d: %w", hour, err)
		}
	}
	return nil
}

// DistinctDoctors returns every doctor with at least one cell.
func (s *Store) DistinctDoctors(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `
		SELECT DISTINCT doctor_name FROM demand_cells ORDER BY doctor_name`)
	if err != nil {
		return nil, fmt.Errorf("demand: distinct doctors: %w", err)
	}
	defer rows.Close()
	var doctors []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("demand: scan doctor: %w", err)
		}
		doctors = append(doctors, d)
	}
	return doctors, rows.Err()
}

func scanCell(row pgx.Row) (*Cell, error) {
	var c Cell
	var source string
	if err := row.Scan(
		&c.ID, &c.DoctorName, &c.Year, &c.Month, &c.DayOfWeek, &c.Hour,
		&c.TotalAppointments, &c.HighDemandThreshold, &source, &c.LastUpdated,
	); err != nil {
		return nil, err
	}
	c.Source = Source(source)
	return &c, nil
}

func scanCells(rows pgx.Rows) ([]Cell, error) {
	var result []Cell
	for rows.Next() {
		c, err := scanCell(rows)
		if err != nil {
			return nil, fmt.Errorf("demand: scan cell: %w", err)
		}
		result = append(result, *c)
	}
	return result, rows.Err()
}
