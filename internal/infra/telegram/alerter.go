package telegram

import (
	"context"
	"unicode/utf8"

	"workflow_digest/internal/domain/telegram"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

// Telegram rejects messages longer than this many characters.
const maxMessageLength = 4096

// Alerter reports dispatch failures to an operator chat.
type Alerter struct {
	client telegram.Client
	chatID int64
	logger *logrus.Entry
}

func NewAlerter(client telegram.Client, chatID int64, logger *logrus.Entry) *Alerter {
	return &Alerter{
		client: client,
		chatID: chatID,
		logger: logger.WithField("component", "telegram_alerter"),
	}
}

func (a *Alerter) Alert(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	text = truncate(text, maxMessageLength)
	opts := &telebot.SendOptions{DisableWebPagePreview: true}
	if err := a.client.SendMessage(a.chatID, text, opts); err != nil {
		a.logger.WithError(err).WithField("chat_id", a.chatID).Error("Failed to send alert")
		return err
	}
	return nil
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit-1]) + "…"
}
