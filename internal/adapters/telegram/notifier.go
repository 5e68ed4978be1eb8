package telegram

import (
	"context"
	"fmt"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"hype-hunter/internal/domain"
	"hype-hunter/internal/infra/metrics"
)

// Notifier доставляет уведомления через Telegram Bot API в формате
// MarkdownV2. Длинные тексты режутся на части по лимиту Telegram.
type Notifier struct {
	bot *tgbotapi.BotAPI
	log zerolog.Logger
}

// NewNotifier создаёт транспорт поверх готового бота.
func NewNotifier(bot *tgbotapi.BotAPI, logger zerolog.Logger) *Notifier {
	return &Notifier{bot: bot, log: logger}
}

var _ domain.Notifier = (*Notifier)(nil)

// Send отправляет текст в чат. Возвращает идентификатор первого
// отправленного сообщения.
func (n *Notifier) Send(ctx context.Context, chatID, text string) (string, error) {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return "", fmt.Errorf("некорректный chat_id %q: %w", chatID, err)
	}

	firstMessageID := 0
	for _, part := range SplitMessage(text) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		msg := tgbotapi.NewMessage(id, part)
		msg.ParseMode = tgbotapi.ModeMarkdownV2
		msg.DisableWebPagePreview = true

		start := time.Now()
		sent, err := n.bot.Send(msg)
		metrics.ObserveNetworkRequest("telegram", "send_message", "bot_api", start, err)
		if err != nil {
			return "", fmt.Errorf("telegram send: %w", err)
		}
		if firstMessageID == 0 {
			firstMessageID = sent.MessageID
		}
	}
	if firstMessageID == 0 {
		// Пустой текст после обрезки. Слать нечего, но это не сбой доставки.
		n.log.Warn().Str("chat_id", chatID).Msg("телеграм: пустое сообщение пропущено")
		return "", nil
	}
	return strconv.Itoa(firstMessageID), nil
}
