package telegram

import "gopkg.in/telebot.v3"

// Client sends plain messages to a Telegram chat. Operators receive dispatch
// failure alerts through it.
type Client interface {
	SendMessage(chatID int64, text string, options *telebot.SendOptions) error
}
