package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of pgx the store needs. *pgxpool.Pool satisfies it;
// pgxmock stands in for tests.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists jobs in the scheduler_jobs table.
type Store struct {
	db DB
}

func NewStore(db DB) *Store {
	return &Store{db: db}
}

const jobColumns = `id, kind, key, fire_at, payload, status, attempts, COALESCE(cron_expr, ''), COALESCE(last_error, ''), created_at, updated_at`

// Arm inserts or re-arms the (kind, key) job. Re-arming replaces fire_at and
// payload and resets the row to pending with zero attempts.
func (s *Store) Arm(ctx context.Context, kind Kind, key string, fireAt time.Time, payload []byte) (int64, error) {
	now := time.Now().UTC()
	var id int64
	err := s.db.QueryRow(ctx, `
		INSERT INTO scheduler_jobs (kind, key, fire_at, payload, status, attempts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 0, $6, $6)
		ON CONFLICT (kind, key) DO UPDATE SET
			fire_at = EXCLUDED.fire_at,
			payload = EXCLUDED.payload,
			status = EXCLUDED.status,
			attempts = 0,
			last_error = NULL,
			updated_at = EXCLUDED.updated_at
		RETURNING id`,
		string(kind), key, fireAt.UTC(), payload, string(StatusPending), now).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("scheduler: arm %s %s: %w", kind, key, err)
	}
	return id, nil
}

// EnsureRecurring inserts the singleton row for a recurring kind if it does
// not exist yet. It reports whether a row was inserted; an existing row is
// left untouched and picked up by OnBoot.
func (s *Store) EnsureRecurring(ctx context.Context, kind Kind, cronExpr string, fireAt time.Time) (int64, bool, error) {
	now := time.Now().UTC()
	var id int64
	err := s.db.QueryRow(ctx, `
		INSERT INTO scheduler_jobs (kind, key, fire_at, payload, status, attempts, cron_expr, created_at, updated_at)
		VALUES ($1, $2, $3, '{}', $4, 0, $5, $6, $6)
		ON CONFLICT (kind, key) DO NOTHING
		RETURNING id`,
		string(kind), string(kind), fireAt.UTC(), string(StatusPending), cronExpr, now).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("scheduler: ensure recurring %s: %w", kind, err)
	}
	return id, true, nil
}

// Claim moves a due pending job to running and returns it. It returns nil
// when the row is gone, already claimed, or re-armed for a later fire time,
// which keeps execution at-most-once even with stale heap entries around.
func (s *Store) Claim(ctx context.Context, id int64, now time.Time) (*Job, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE scheduler_jobs
		SET status = $1, attempts = attempts + 1, updated_at = $2
		WHERE id = $3 AND status = $4 AND fire_at <= $2
		RETURNING `+jobColumns,
		string(StatusRunning), now.UTC(), id, string(StatusPending))
	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scheduler: claim job %d: %w", id, err)
	}
	return j, nil
}

// MarkDone finishes a running one-shot job.
func (s *Store) MarkDone(ctx context.Context, id int64) error {
	_, err := s.db.Exec(ctx, `
		UPDATE scheduler_jobs SET status = $1, last_error = NULL, updated_at = $2
		WHERE id = $3 AND status = $4`,
		string(StatusDone), time.Now().UTC(), id, string(StatusRunning))
	if err != nil {
		return fmt.Errorf("scheduler: mark done %d: %w", id, err)
	}
	return nil
}

// MarkFailed finishes a running one-shot job with an error message.
func (s *Store) MarkFailed(ctx context.Context, id int64, lastError string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE scheduler_jobs SET status = $1, last_error = $2, updated_at = $3
		WHERE id = $4 AND status = $5`,
		string(StatusFailed), lastError, time.Now().UTC(), id, string(StatusRunning))
	if err != nil {
		return fmt.Errorf("scheduler: mark failed %d: %w", id, err)
	}
	return nil
}

// Rearm puts a running recurring job back to pending for its next fire time.
// lastError carries the failure of the run that just ended, empty on success.
func (s *Store) Rearm(ctx context.Context, id int64, next time.Time, lastError string) error {
	var lastErr *string
	if lastError != "" {
		lastErr = &lastError
	}
	_, err := s.db.Exec(ctx, `
		UPDATE scheduler_jobs SET status = $1, fire_at = $2, last_error = $3, updated_at = $4
		WHERE id = $5 AND status = $6`,
		string(StatusPending), next.UTC(), lastErr, time.Now().UTC(), id, string(StatusRunning))
	if err != nil {
		return fmt.Errorf("scheduler: rearm %d: %w", id, err)
	}
	return nil
}

// Reschedule moves a pending job to a new fire time without touching payload
// or attempts. Used at boot for recurring jobs whose fire time passed while
// the service was down.
func (s *Store) Reschedule(ctx context.Context, id int64, next time.Time) error {
	_, err := s.db.Exec(ctx, `
		UPDATE scheduler_jobs SET fire_at = $1, updated_at = $2
		WHERE id = $3 AND status = $4`,
		next.UTC(), time.Now().UTC(), id, string(StatusPending))
	if err != nil {
		return fmt.Errorf("scheduler: reschedule %d: %w", id, err)
	}
	return nil
}

// FailMissed marks every pending one-shot job with fire_at before the cutoff
// as failed. Recurring jobs are exempt; OnBoot rolls them forward instead.
func (s *Store) FailMissed(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE scheduler_jobs SET status = $1, last_error = 'missed fire window', updated_at = $2
		WHERE status = $3 AND fire_at < $4 AND cron_expr IS NULL`,
		string(StatusFailed), time.Now().UTC(), string(StatusPending), cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("scheduler: fail missed: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListPending returns all pending jobs ordered by fire time.
func (s *Store) ListPending(ctx context.Context) ([]Job, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+jobColumns+`
		FROM scheduler_jobs
		WHERE status = $1
		ORDER BY fire_at, id`, string(StatusPending))
	if err != nil {
		return nil, fmt.Errorf("scheduler: list pending: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

// Cancel removes a pending job. Best-effort: a job already claimed by a
// worker keeps running.
func (s *Store) Cancel(ctx context.Context, kind Kind, key string) error {
	_, err := s.db.Exec(ctx, `
		DELETE FROM scheduler_jobs WHERE kind = $1 AND key = $2 AND status = $3`,
		string(kind), key, string(StatusPending))
	if err != nil {
		return fmt.Errorf("scheduler: cancel %s %s: %w", kind, key, err)
	}
	return nil
}

// CancelPrefix removes every pending job of the kind whose key starts with
// prefix. Returns the number of jobs cancelled.
func (s *Store) CancelPrefix(ctx context.Context, kind Kind, prefix string) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		DELETE FROM scheduler_jobs WHERE kind = $1 AND key LIKE $2 || '%' AND status = $3`,
		string(kind), prefix, string(StatusPending))
	if err != nil {
		return 0, fmt.Errorf("scheduler: cancel prefix %s %s: %w", kind, prefix, err)
	}
	return tag.RowsAffected(), nil
}

// StatusCounts returns job counts grouped by status, for the ops dashboard.
func (s *Store) StatusCounts(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.Query(ctx, `
		SELECT status, COUNT(*) FROM scheduler_jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("scheduler: status counts: %w", err)
	}
	defer rows.Close()
	counts := make(map[Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scheduler: scan status count: %w", err)
		}
		counts[Status(status)] = n
	}
	return counts, rows.Err()
}

func scanJob(row pgx.Row) (*Job, error) {
	var (
		j      Job
		kind   string
		status string
	)
	if err := row.Scan(
		&j.ID, &kind, &j.Key, &j.FireAt, &j.Payload, &status, &j.Attempts,
		&j.CronExpr, &j.LastError, &j.CreatedAt, &j.UpdatedAt,
	); err != nil {
		return nil, err
	}
	j.Kind = Kind(kind)
	j.Status = Status(status)
	return &j, nil
}

func scanJobs(rows pgx.Rows) ([]Job, error) {
	var result []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scheduler: scan job: %w", err)
		}
		result = append(result, *j)
	}
	return result, rows.Err()
}
