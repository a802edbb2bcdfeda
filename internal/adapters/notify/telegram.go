package notify

import (
	"context"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"tweet-scout/internal/domain"
	"tweet-scout/internal/infra/metrics"
)

// TelegramNotifier шлёт операторам сообщения о событиях, требующих
// участия человека: например, аккаунт переведён в PAUSED.
type TelegramNotifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	log    zerolog.Logger
}

// NewTelegram создаёт нотификатор. Пустой токен допустим: уведомления
// тогда только логируются.
func NewTelegram(token string, chatID int64, logger zerolog.Logger) (*TelegramNotifier, error) {
	n := &TelegramNotifier{
		chatID: chatID,
		log:    logger.With().Str("component", "notify").Logger(),
	}
	if token == "" {
		return n, nil
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	n.bot = bot
	return n, nil
}

// NotifyReauthRequired сообщает операторам, что аккаунт требует повторной авторизации.
func (n *TelegramNotifier) NotifyReauthRequired(ctx context.Context, account domain.Account) error {
	text := fmt.Sprintf(
		"Аккаунт @%s (id %d) переведён в PAUSED: refresh-токен отклонён платформой. Нужна повторная авторизация пользователя %d.",
		account.Username, account.ID, account.UserID,
	)
	if n.bot == nil {
		n.log.Warn().Int64("account_id", account.ID).Msg(text)
		return nil
	}
	msg := tgbotapi.NewMessage(n.chatID, text)
	start := time.Now()
	_, err := n.bot.Send(msg)
	metrics.ObserveNetworkRequest("telegram", "send_message", "ops_chat", start, err)
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

var _ domain.Notifier = (*TelegramNotifier)(nil)
