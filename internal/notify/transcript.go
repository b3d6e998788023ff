package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/alshifa-health/clinic-appointments/internal/users"
	"github.com/alshifa-health/clinic-appointments/pkg/logging"
)

const (
	transcriptKey = "notify:transcript"
	transcriptCap = 250
	transcriptTTL = 7 * 24 * time.Hour
)

// Entry is one outbound notification as recorded in the transcript.
type Entry struct {
	ID        string    `json:"id"`
	UserName  string    `json:"userName"`
	Text      string    `json:"text"`
	Delivered bool      `json:"delivered"`
	SentAt    time.Time `json:"sentAt"`
}

// Recorder wraps a Notifier and appends every outbound text to a capped
// Redis list so admins can review what patients were told. Recording is
// best effort and never blocks delivery.
type Recorder struct {
	next   Notifier
	redis  *redis.Client
	tracer trace.Tracer
	logger *logging.Logger
}

// NewRecorder decorates a notifier with transcript recording.
func NewRecorder(next Notifier, redisClient *redis.Client, logger *logging.Logger) *Recorder {
	if logger == nil {
		logger = logging.Default()
	}
	return &Recorder{
		next:   next,
		redis:  redisClient,
		tracer: otel.Tracer("clinic.internal.notify.transcript"),
		logger: logger,
	}
}

// Send forwards to the wrapped notifier and records the outcome.
func (r *Recorder) Send(ctx context.Context, user *users.User, text string) bool {
	delivered := r.next.Send(ctx, user, text)
	if err := r.record(ctx, user.UserName, text, delivered); err != nil {
		r.logger.Warn("notify: transcript record failed", "user_name", user.UserName, "error", err)
	}
	return delivered
}

func (r *Recorder) record(ctx context.Context, userName, text string, delivered bool) error {
	if r == nil || r.redis == nil {
		return nil
	}
	ctx, span := r.tracer.Start(ctx, "notify.transcript.record")
	defer span.End()

	entry := Entry{
		ID:        uuid.NewString(),
		UserName:  userName,
		Text:      text,
		Delivered: delivered,
		SentAt:    time.Now().UTC(),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("notify: marshal transcript entry: %w", err)
	}

	pipe := r.redis.TxPipeline()
	pipe.RPush(ctx, transcriptKey, data)
	pipe.LTrim(ctx, transcriptKey, -transcriptCap, -1)
	pipe.Expire(ctx, transcriptKey, transcriptTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		span.RecordError(err)
		return fmt.Errorf("notify: append transcript entry: %w", err)
	}
	return nil
}

// List returns the newest transcript entries, newest first.
func (r *Recorder) List(ctx context.Context, limit int64) ([]Entry, error) {
	if r == nil || r.redis == nil {
		return nil, nil
	}
	ctx, span := r.tracer.Start(ctx, "notify.transcript.list")
	defer span.End()

	start := int64(0)
	if limit > 0 {
		start = -limit
	}
	raw, err := r.redis.LRange(ctx, transcriptKey, start, -1).Result()
	if err != nil {
		if err == redis.Nil {
			return []Entry{}, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("notify: list transcript: %w", err)
	}

	out := make([]Entry, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var entry Entry
		if err := json.Unmarshal([]byte(raw[i]), &entry); err != nil {
			span.RecordError(err)
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

var _ Notifier = (*Recorder)(nil)
