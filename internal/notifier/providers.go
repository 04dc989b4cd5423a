package notifier

import (
	"fmt"

	"xrp-grid-bot-go/internal/logger"
	"xrp-grid-bot-go/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Console logs notifications through the application logger.
type Console struct{}

func (Console) Notify(level Level, title, body string) Result {
	switch level {
	case LevelError, LevelCritical:
		logger.S().Errorf("[NOTIFY] %s: %s", title, body)
	case LevelWarning:
		logger.S().Warnf("[NOTIFY] %s: %s", title, body)
	default:
		logger.S().Infof("[NOTIFY] %s: %s", title, body)
	}
	return Delivered
}

// Telegram sends notifications to a chat via the Bot API.
type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegram authorizes the bot token and returns the provider.
func NewTelegram(token string, chatID int64) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to authorize telegram bot: %w", err)
	}
	return &Telegram{bot: bot, chatID: chatID}, nil
}

func (t *Telegram) Notify(level Level, title, body string) Result {
	text := fmt.Sprintf("%s %s\n%s", levelEmoji(level), title, body)
	msg := tgbotapi.NewMessage(t.chatID, text)
	if _, err := t.bot.Send(msg); err != nil {
		logger.S().Errorf("Telegram delivery failed: %v", err)
		return Failed
	}
	return Delivered
}

func levelEmoji(level Level) string {
	switch level {
	case LevelCritical:
		return "🚨"
	case LevelError:
		return "❌"
	case LevelWarning:
		return "⚠️"
	default:
		return "ℹ️"
	}
}

// Build assembles the configured provider wrapped in throttling and an
// async dispatcher. The returned closer stops the dispatcher worker.
func Build(cfg models.NotifierConfig, telegramToken string) (Notifier, func()) {
	var provider Notifier
	switch cfg.Provider {
	case "telegram":
		tg, err := NewTelegram(telegramToken, cfg.TelegramChatID)
		if err != nil {
			logger.S().Errorf("Falling back to console notifier: %v", err)
			provider = Console{}
		} else {
			provider = tg
		}
	case "none":
		provider = Noop{}
	default:
		provider = Console{}
	}

	dispatcher := NewDispatcher(NewThrottler(provider, cfg), cfg.QueueSize)
	return dispatcher, dispatcher.Close
}
