package alert

import (
	"context"

	"github.com/mymmrac/telego"
)

// TelegramAlerter posts cluster-health events to a single Telegram chat.
type TelegramAlerter struct {
	bot    *telego.Bot
	chatID int64
}

// NewTelegramAlerter builds a TelegramAlerter from a bot token and the
// numeric chat ID to notify.
func NewTelegramAlerter(botToken string, chatID int64) (*TelegramAlerter, error) {
	bot, err := telego.NewBot(botToken)
	if err != nil {
		return nil, err
	}
	return &TelegramAlerter{bot: bot, chatID: chatID}, nil
}

func (t *TelegramAlerter) Alert(ctx context.Context, ev Event) error {
	_, err := t.bot.SendMessage(ctx, &telego.SendMessageParams{
		ChatID: telego.ChatID{ID: t.chatID},
		Text:   formatMessage(ev),
	})
	return err
}
