// Package audit records admin actions for later review.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType classifies an admin action.
type EventType string

const (
	// EventCategoryOverridden is logged when an admin replaces a user's behavior category.
	EventCategoryOverridden EventType = "admin.category_overridden"
	// EventBaselineReplaced is logged when an admin rewrites a month's high-demand baseline.
	EventBaselineReplaced EventType = "admin.baseline_replaced"
	// EventStatusOverridden is logged when an admin resolves an appointment manually.
	EventStatusOverridden EventType = "admin.status_overridden"
	// EventSlotDeleted is logged when an admin removes an appointment slot.
	EventSlotDeleted EventType = "admin.slot_deleted"
	// EventSettingsUpdated is logged when the clinic settings change.
	EventSettingsUpdated EventType = "admin.settings_updated"
)

// Event is one immutable audit record.
type Event struct {
	ID        string          `json:"id"`
	EventType EventType       `json:"event_type"`
	Subject   string          `json:"subject,omitempty"`
	Details   json.RawMessage `json:"details,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Service writes audit rows through the database/sql bridge. A nil service
// (or nil db) drops events silently so callers need no guards.
type Service struct {
	db *sql.DB
}

// NewService creates an audit service.
func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// LogEvent records an audit event.
func (s *Service) LogEvent(ctx context.Context, event Event) error {
	if s == nil || s.db == nil {
		return nil
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO audit_events (id, event_type, subject, details, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		string(event.EventType),
		nullString(event.Subject),
		nullRaw(event.Details),
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("audit: log event: %w", err)
	}
	return nil
}

// LogCategoryOverridden records an admin category override.
func (s *Service) LogCategoryOverridden(ctx context.Context, userName, category string) error {
	details, _ := json.Marshal(map[string]string{"category": category})
	return s.LogEvent(ctx, Event{
		EventType: EventCategoryOverridden,
		Subject:   userName,
		Details:   details,
	})
}

// LogBaselineReplaced records a high-demand baseline rewrite.
func (s *Service) LogBaselineReplaced(ctx context.Context, doctor string, year int, month int, hours []int, threshold float64) error {
	details, _ := json.Marshal(map[string]any{
		"year":      year,
		"month":     month,
		"hours":     hours,
		"threshold": threshold,
	})
	return s.LogEvent(ctx, Event{
		EventType: EventBaselineReplaced,
		Subject:   doctor,
		Details:   details,
	})
}

// LogStatusOverridden records a manual attendance resolution.
func (s *Service) LogStatusOverridden(ctx context.Context, appointmentID, status string) error {
	details, _ := json.Marshal(map[string]string{"status": status})
	return s.LogEvent(ctx, Event{
		EventType: EventStatusOverridden,
		Subject:   appointmentID,
		Details:   details,
	})
}

// LogSlotDeleted records a slot removal.
func (s *Service) LogSlotDeleted(ctx context.Context, appointmentID string) error {
	return s.LogEvent(ctx, Event{
		EventType: EventSlotDeleted,
		Subject:   appointmentID,
	})
}

// LogSettingsUpdated records a clinic settings change.
func (s *Service) LogSettingsUpdated(ctx context.Context, details any) error {
	raw, _ := json.Marshal(details)
	return s.LogEvent(ctx, Event{
		EventType: EventSettingsUpdated,
		Details:   raw,
	})
}

// ListRecent returns the newest events, newest first.
func (s *Service) ListRecent(ctx context.Context, limit int) ([]Event, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_type, subject, details, created_at
		FROM audit_events
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("audit: list recent: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var subject sql.NullString
		var details []byte
		if err := rows.Scan(&e.ID, &e.EventType, &subject, &details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("audit: scan event: %w", err)
		}
		e.Subject = subject.String
		e.Details = details
		events = append(events, e)
	}
	return events, rows.Err()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullRaw(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
