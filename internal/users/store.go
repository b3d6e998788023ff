package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/alshifa-health/clinic-appointments/internal/classifier"
)

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store provides persistence for users.
type Store struct {
	db DB
}

// NewStore creates a users store.
func NewStore(db DB) *Store {
	return &Store{db: db}
}

const userColumns = `id, user_name, display_name, phone, notify_channel_id, attended_count, missed_count, score, category, created_at, updated_at`

// FindByName looks a user up case-insensitively.
func (s *Store) FindByName(ctx context.Context, name string) (*User, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE user_name_normalized = lower($1)`, strings.TrimSpace(name))
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("users: find by name: %w", err)
	}
	return u, nil
}

// Register upserts a user keyed by the normalized name. Re-registering
// updates displayName/phone only when the new values are present.
func (s *Store) Register(ctx context.Context, req *RegisterRequest) (*User, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(req.UserName)
	now := time.Now().UTC()
	row := s.db.QueryRow(ctx, `
		INSERT INTO users (id, user_name, user_name_normalized, display_name, phone, category, created_at, updated_at)
		VALUES ($1, $2, lower($2), $3, $4, $5, $6, $6)
		ON CONFLICT (user_name_normalized) DO UPDATE SET
			display_name = COALESCE(EXCLUDED.display_name, users.display_name),
			phone        = COALESCE(EXCLUDED.phone, users.phone),
			updated_at   = EXCLUDED.updated_at
		RETURNING `+userColumns,
		uuid.New(), name, nullable(req.DisplayName), nullable(req.Phone),
		string(classifier.CategoryGood), now,
	)
	u, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("users: register: %w", err)
	}
	return u, nil
}

// List returns all users ordered by name.
func (s *Store) List(ctx context.Context) ([]User, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+userColumns+`
		FROM users
		ORDER BY user_name_normalized`)
	if err != nil {
		return nil, fmt.Errorf("users: list: %w", err)
	}
	defer rows.Close()
	return scanUsers(rows)
}

// SetPhoneIfMissing records a phone for a user who has none.
func (s *Store) SetPhoneIfMissing(ctx context.Context, id uuid.UUID, phone string) error {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return nil
	}
	_, err := s.db.Exec(ctx, `
		UPDATE users SET phone = $1, updated_at = $2
		WHERE id = $3 AND (phone IS NULL OR phone = '')`,
		phone, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("users: set phone: %w", err)
	}
	return nil
}

// SetNotifyChannel binds a messenger channel to the named user.
func (s *Store) SetNotifyChannel(ctx context.Context, name, channelID string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE users SET notify_channel_id = $1, updated_at = $2
		WHERE user_name_normalized = lower($3)`,
		channelID, time.Now().UTC(), strings.TrimSpace(name))
	if err != nil {
		return fmt.Errorf("users: set notify channel: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// SetCategory overrides the behavior category for the named user.
func (s *Store) SetCategory(ctx context.Context, name string, category classifier.Category) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE users SET category = $1, updated_at = $2
		WHERE user_name_normalized = lower($3)`,
		string(category), time.Now().UTC(), strings.TrimSpace(name))
	if err != nil {
		return fmt.Errorf("users: set category: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// UpdateAttendanceStats writes the counters, score, and category computed by
// the attendance service after one outcome event.
func (s *Store) UpdateAttendanceStats(ctx context.Context, id uuid.UUID, attended, missed, score int, category classifier.Category) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE users SET attended_count = $1, missed_count = $2, score = $3, category = $4, updated_at = $5
		WHERE id = $6`,
		attended, missed, score, string(category), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("users: update attendance stats: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func scanUser(row pgx.Row) (*User, error) {
	var u User
	var category string
	if err := row.Scan(
		&u.ID, &u.UserName, &u.DisplayName, &u.Phone, &u.NotifyChannelID,
		&u.AttendedCount, &u.MissedCount, &u.Score, &category,
		&u.CreatedAt, &u.UpdatedAt,
	); err != nil {
		return nil, err
	}
	u.Category = classifier.Category(category)
	return &u, nil
}

func scanUsers(rows pgx.Rows) ([]User, error) {
	var result []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("users: scan user: %w", err)
		}
		result = append(result, *u)
	}
	return result, rows.Err()
}

func nullable(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
