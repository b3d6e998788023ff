package webhook

import (
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/alshifa-health/clinic-appointments/pkg/logging"
)

// BotRequester is the bot surface webhook registration needs.
type BotRequester interface {
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

var _ BotRequester = (*tgbotapi.BotAPI)(nil)

// Register points the bot's webhook at <publicBaseURL>/webhook. Call at boot
// when both a public URL and a bot token are configured.
func Register(api BotRequester, publicBaseURL string, logger *logging.Logger) error {
	if logger == nil {
		logger = logging.Default()
	}
	url := strings.TrimRight(publicBaseURL, "/") + "/webhook"
	wh, err := tgbotapi.NewWebhook(url)
	if err != nil {
		return fmt.Errorf("webhook: build config: %w", err)
	}
	if _, err := api.Request(wh); err != nil {
		return fmt.Errorf("webhook: register %s: %w", url, err)
	}
	logger.Info("webhook registered", "url", url)
	return nil
}
