// Package notify delivers reminder and survey texts to patients over their
// linked messenger channel and keeps a capped transcript of what went out.
package notify

import (
	"context"

	"github.com/alshifa-health/clinic-appointments/internal/users"
	"github.com/alshifa-health/clinic-appointments/pkg/logging"
)

// Notifier sends one text to one user. The return value reports whether the
// delivery attempt succeeded; reminder bookkeeping does not depend on it,
// delivery is best effort once a reminder row is marked sent.
type Notifier interface {
	Send(ctx context.Context, user *users.User, text string) bool
}

// NoopNotifier logs instead of sending. It stands in when no bot token is
// configured so the rest of the pipeline behaves identically.
type NoopNotifier struct {
	logger *logging.Logger
}

// NewNoopNotifier creates a logging-only notifier.
func NewNoopNotifier(logger *logging.Logger) *NoopNotifier {
	if logger == nil {
		logger = logging.Default()
	}
	return &NoopNotifier{logger: logger}
}

// Send logs but doesn't deliver.
func (n *NoopNotifier) Send(_ context.Context, user *users.User, text string) bool {
	n.logger.Info("noop notifier: would send", "user_name", user.UserName, "text_preview", truncate(text, 50))
	return true
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

var _ Notifier = (*NoopNotifier)(nil)
