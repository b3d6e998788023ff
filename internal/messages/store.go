package messages

import (
	"context"
	"fmt"

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

// Store provides persistence for the message template pool.
type Store struct {
	db DB
}

// NewStore creates a messages store.
func NewStore(db DB) *Store {
	return &Store{db: db}
}

// ListByCategory returns every template in one category.
func (s *Store) ListByCategory(ctx context.Context, category classifier.MessageCategory) ([]Message, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, category, text
		FROM messages
		WHERE category = $1
		ORDER BY id`, string(category))
	if err != nil {
		return nil, fmt.Errorf("messages: list by category: %w", err)
	}
	defer rows.Close()

	var result []Message
	for rows.Next() {
		var m Message
		var cat string
		if err := rows.Scan(&m.ID, &cat, &m.Text); err != nil {
			return nil, fmt.Errorf("messages: scan message: %w", err)
		}
		m.Category = classifier.MessageCategory(cat)
		result = append(result, m)
	}
	return result, rows.Err()
}
