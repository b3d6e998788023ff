package notify

import (
	"context"
	"errors"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alshifa-health/clinic-appointments/internal/users"
	"github.com/alshifa-health/clinic-appointments/pkg/logging"
)

type stubSender struct {
	sent []tgbotapi.Chattable
	err  error
}

func (s *stubSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if s.err != nil {
		return tgbotapi.Message{}, s.err
	}
	s.sent = append(s.sent, c)
	return tgbotapi.Message{MessageID: len(s.sent)}, nil
}

func linkedUser(name, chatID string) *users.User {
	return &users.User{UserName: name, NotifyChannelID: &chatID}
}

func TestTelegramSend(t *testing.T) {
	api := &stubSender{}
	n := NewTelegramNotifier(api, logging.Default())

	ok := n.Send(context.Background(), linkedUser("salem", "77001122"), "Hello Salem")
	assert.True(t, ok)
	require.Len(t, api.sent, 1)

	msg, isMsg := api.sent[0].(tgbotapi.MessageConfig)
	require.True(t, isMsg)
	assert.Equal(t, int64(77001122), msg.ChatID)
	assert.Equal(t, "Hello Salem", msg.Text)
}

func TestTelegramSendUnlinkedUser(t *testing.T) {
	api := &stubSender{}
	n := NewTelegramNotifier(api, logging.Default())

	ok := n.Send(context.Background(), &users.User{UserName: "salem"}, "Hello")
	assert.False(t, ok)
	assert.Empty(t, api.sent)
}

func TestTelegramSendBadChatID(t *testing.T) {
	api := &stubSender{}
	n := NewTelegramNotifier(api, logging.Default())

	ok := n.Send(context.Background(), linkedUser("salem", "not-a-number"), "Hello")
	assert.False(t, ok)
	assert.Empty(t, api.sent)
}

func TestTelegramSendAPIError(t *testing.T) {
	api := &stubSender{err: errors.New("blocked by user")}
	n := NewTelegramNotifier(api, logging.Default())

	ok := n.Send(context.Background(), linkedUser("salem", "77001122"), "Hello")
	assert.False(t, ok)
}

func TestNoopNotifier(t *testing.T) {
	n := NewNoopNotifier(nil)
	assert.True(t, n.Send(context.Background(), &users.User{UserName: "salem"}, "Hello"))
}
