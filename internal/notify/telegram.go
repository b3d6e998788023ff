package notify

import (
	"context"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/alshifa-health/clinic-appointments/internal/users"
	"github.com/alshifa-health/clinic-appointments/pkg/logging"
)

// ChatSender is the bot surface the notifier needs, narrowed so tests can
// stub it without a live token.
type ChatSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier delivers texts to the chat a user linked via the webhook.
type TelegramNotifier struct {
	api    ChatSender
	logger *logging.Logger
}

// NewTelegramNotifier creates a notifier over a bot API client.
func NewTelegramNotifier(api ChatSender, logger *logging.Logger) *TelegramNotifier {
	if logger == nil {
		logger = logging.Default()
	}
	return &TelegramNotifier{api: api, logger: logger}
}

// Send delivers one text. Users with no linked chat are skipped quietly, the
// clinic registers patients before they ever open the bot.
func (n *TelegramNotifier) Send(_ context.Context, user *users.User, text string) bool {
	if !user.Linked() {
		n.logger.Debug("notify: user has no linked chat", "user_name", user.UserName)
		return false
	}
	chatID, err := strconv.ParseInt(*user.NotifyChannelID, 10, 64)
	if err != nil {
		n.logger.Error("notify: bad chat id", "user_name", user.UserName, "channel_id", *user.NotifyChannelID, "error", err)
		return false
	}

	if _, err := n.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		n.logger.Error("notify: telegram send failed", "user_name", user.UserName, "error", err)
		return false
	}
	n.logger.Info("notify: sent", "user_name", user.UserName, "text_preview", truncate(text, 50))
	return true
}

var _ Notifier = (*TelegramNotifier)(nil)
