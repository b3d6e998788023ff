// Package webhook receives messenger updates and links patients to their
// chat so the notifier can reach them.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/alshifa-health/clinic-appointments/internal/notify"
	"github.com/alshifa-health/clinic-appointments/internal/users"
	"github.com/alshifa-health/clinic-appointments/pkg/logging"
)

// ChannelLinker is the users surface the webhook needs.
type ChannelLinker interface {
	SetNotifyChannel(ctx context.Context, name, channelID string) error
}

var _ ChannelLinker = (*users.Store)(nil)

// Handler decodes Telegram updates and binds chats to registered patients.
type Handler struct {
	users  ChannelLinker
	bot    notify.ChatSender
	logger *logging.Logger
	tracer trace.Tracer
}

// NewHandler creates a webhook handler. bot may be nil when no token is
// configured; linking still works, only the confirmations are skipped.
func NewHandler(linker ChannelLinker, bot notify.ChatSender, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		users:  linker,
		bot:    bot,
		logger: logger,
		tracer: otel.Tracer("clinic.internal.webhook"),
	}
}

// Receive handles POST /webhook. It always answers 200: the messenger
// retries non-2xx responses and a retry would not fix a bad update.
func (h *Handler) Receive(w http.ResponseWriter, r *http.Request) {
	defer w.WriteHeader(http.StatusOK)

	var update tgbotapi.Update
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		h.logger.Warn("webhook: undecodable update", "error", err)
		return
	}
	if update.Message == nil || update.Message.Chat == nil {
		return
	}

	ctx, span := h.tracer.Start(r.Context(), "webhook.receive")
	defer span.End()

	msg := update.Message
	chatID := msg.Chat.ID
	span.SetAttributes(
		attribute.Int64("clinic.chat_id", chatID),
		attribute.String("clinic.command", msg.Command()),
	)

	switch msg.Command() {
	case "start", "link":
		h.link(ctx, chatID, msg.CommandArguments())
	default:
		h.reply(chatID, "Hi! Send /start followed by the name you registered with to receive appointment reminders here.")
	}
}

func (h *Handler) link(ctx context.Context, chatID int64, args string) {
	name := strings.TrimSpace(args)
	if name == "" {
		h.reply(chatID, "Please send /start followed by the name you registered with.")
		return
	}

	err := h.users.SetNotifyChannel(ctx, name, strconv.FormatInt(chatID, 10))
	switch {
	case errors.Is(err, users.ErrUserNotFound):
		h.reply(chatID, fmt.Sprintf("We could not find a registration for %q. Please check the name with the clinic.", name))
	case err != nil:
		h.logger.Error("webhook: channel link failed", "user_name", name, "error", err)
		h.reply(chatID, "Something went wrong on our side, please try again later.")
	default:
		h.logger.Info("webhook: chat linked", "user_name", name, "chat_id", chatID)
		h.reply(chatID, fmt.Sprintf("Thanks %s! Your appointment reminders will arrive here.", name))
	}
}

func (h *Handler) reply(chatID int64, text string) {
	if h.bot == nil {
		return
	}
	if _, err := h.bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		h.logger.Warn("webhook: reply failed", "chat_id", chatID, "error", err)
	}
}
