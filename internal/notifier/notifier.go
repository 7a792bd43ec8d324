// Package notifier dispatches best-effort side-channel notifications.
// Delivery is fire-and-forget: failures are logged and swallowed, and the
// ingestion pipeline never waits on a notification.
package notifier

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/user/ghmonitor/pkg/logger"
)

// Notifier is a side-channel notification sink.
type Notifier interface {
	Notify(title, body string)
}

// LogNotifier writes notifications to the log. It is the headless default:
// environments without a notification surface degrade to it without
// affecting ingestion.
type LogNotifier struct{}

// NewLogNotifier creates the log-backed notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

// Notify logs the notification.
func (n *LogNotifier) Notify(title, body string) {
	logger.Info().Str("title", title).Str("body", body).Msg("Notification")
}

// TelegramNotifier pushes notifications to a Telegram chat.
type TelegramNotifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegramNotifier creates a Telegram-backed notifier.
func NewTelegramNotifier(token string, chatID int64) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	logger.Info().Str("username", bot.Self.UserName).Msg("Telegram notifier enabled")
	return &TelegramNotifier{bot: bot, chatID: chatID}, nil
}

// Notify sends the notification without blocking the caller. Send failures
// are swallowed.
func (n *TelegramNotifier) Notify(title, body string) {
	go func() {
		msg := tgbotapi.NewMessage(n.chatID, fmt.Sprintf("*%s*\n%s", title, body))
		msg.ParseMode = tgbotapi.ModeMarkdown
		msg.DisableWebPagePreview = true

		if _, err := n.bot.Send(msg); err != nil {
			logger.Warn().Err(err).Str("title", title).Msg("Failed to send notification")
		}
	}()
}
