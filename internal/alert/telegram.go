package alert

import (
	"context"
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	appconfig "edgeflow/config"
	"edgeflow/models"
)

// TelegramNotifier delivers alerts over a Telegram bot. Users with a
// linked chat id receive the alert there; anyone else goes to the
// configured default chat.
type TelegramNotifier struct {
	bot           *tgbotapi.BotAPI
	defaultChatID int64
}

func NewTelegramNotifier(cfg appconfig.TelegramConfig) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	var defaultChatID int64
	if cfg.DefaultChatID != "" {
		defaultChatID, err = strconv.ParseInt(cfg.DefaultChatID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid default chat id: %w", err)
		}
	}

	return &TelegramNotifier{bot: bot, defaultChatID: defaultChatID}, nil
}

func (n *TelegramNotifier) Notify(_ context.Context, user *models.User, edge *models.Edge, market *models.Market) error {
	chatID := n.defaultChatID
	if user.TelegramChatID != "" {
		parsed, err := strconv.ParseInt(user.TelegramChatID, 10, 64)
		if err != nil {
			return fmt.Errorf("user %s has invalid telegram chat id: %w", user.ExternalIdentity, err)
		}
		chatID = parsed
	}
	if chatID == 0 {
		return fmt.Errorf("no telegram chat id for user %s", user.ExternalIdentity)
	}

	msg := tgbotapi.NewMessage(chatID, FormatAlert(edge, market))
	if _, err := n.bot.Send(msg); err != nil {
		return fmt.Errorf("send telegram alert: %w", err)
	}
	return nil
}
