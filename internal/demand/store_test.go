package demand

import (
	"context"
	"math"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cellRow(id int64, doctor string, year, month, dow, hour, total int, threshold float64, source string) *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "doctor_name", "year", "month", "day_of_week", "hour",
		"total_appointments", "high_demand_threshold", "source", "last_updated",
	}).AddRow(id, doctor, year, month, dow, hour, total, threshold, source, time.Now().UTC())
}

func TestStoreAnyForMonth(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewStore(mock)
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("Dr. Sara", 2025, 10).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := store.AnyForMonth(context.Background(), "Dr. Sara", 2025, 10)
	require.NoError(t, err)
	assert.True(t, exists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreFindMiss(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewStore(mock)
	mock.ExpectQuery("SELECT id, doctor_name").
		WithArgs("Dr. Sara", 2025, 10, 2, 9).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "doctor_name", "year", "month", "day_of_week", "hour",
			"total_appointments", "high_demand_threshold", "source", "last_updated",
		}))

	cell, err := store.Find(context.Background(), "Dr. Sara", 2025, 10, 2, 9)
	require.NoError(t, err)
	assert.Nil(t, cell)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreFindHit(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewStore(mock)
	mock.ExpectQuery("SELECT id, doctor_name").
		WithArgs("Dr. Sara", 2025, 10, 2, 9).
		WillReturnRows(cellRow(4, "Dr. Sara", 2025, 10, 2, 9, 3, 3, "auto"))

	cell, err := store.Find(context.Background(), "Dr. Sara", 2025, 10, 2, 9)
	require.NoError(t, err)
	require.NotNil(t, cell)
	assert.True(t, cell.HighDemand())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreIncrementTotal(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewStore(mock)
	mock.ExpectExec("INSERT INTO demand_cells").
		WithArgs("Dr. Sara", 2025, 10, 2, 9, 3.0, "auto", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.IncrementTotal(context.Background(), "Dr. Sara", 2025, 10, 2, 9, 3.0))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreSetMonthThreshold(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewStore(mock)
	mock.ExpectExec("UPDATE demand_cells SET high_demand_threshold").
		WithArgs(4.32, pgxmock.AnyArg(), "Dr. K", 2025, 10).
		WillReturnResult(pgxmock.NewResult("UPDATE", 5))

	n, err := store.SetMonthThreshold(context.Background(), "Dr. K", 2025, 10, 4.32)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreSetCellThresholds(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewStore(mock)
	mock.ExpectExec("UPDATE demand_cells SET high_demand_threshold").
		WithArgs(math.Inf(1), pgxmock.AnyArg(), []int64{3, 7}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))

	require.NoError(t, store.SetCellThresholds(context.Background(), []int64{3, 7}, math.Inf(1)))

	// Empty id set touches nothing.
	require.NoError(t, store.SetCellThresholds(context.Background(), nil, math.Inf(1)))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreReplaceBaseline(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewStore(mock)
	mock.ExpectExec("DELETE FROM demand_cells").
		WithArgs("Dr. Sara", 2025, 10, "admin").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec("INSERT INTO demand_cells").
		WithArgs("Dr. Sara", 2025, 10, BaselineDOW, 9, 3.0, "admin", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO demand_cells").
		WithArgs("Dr. Sara", 2025, 10, BaselineDOW, 10, 3.0, "admin", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.ReplaceBaseline(context.Background(), "Dr. Sara", 2025, 10, []int{9, 10}, 3.0))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreDistinctDoctors(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewStore(mock)
	mock.ExpectQuery("SELECT DISTINCT doctor_name").
		WillReturnRows(pgxmock.NewRows([]string{"doctor_name"}).
			AddRow("Dr. K").
			AddRow("Dr. Sara"))

	doctors, err := store.DistinctDoctors(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Dr. K", "Dr. Sara"}, doctors)
	require.NoError(t, mock.ExpectationsWereMet())
}
