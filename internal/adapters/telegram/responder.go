package telegram

import (
	"context"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"sms-range-relay/internal/infra/metrics"
)

// Responder отвечает в произвольный чат, в отличие от нотификатора с
// фиксированным каналом. Ответы форматируются Markdown, чтобы номера
// копировались одним касанием.
type Responder struct {
	bot *tgbotapi.BotAPI
	log zerolog.Logger
}

// NewResponder создаёт отвечатель.
func NewResponder(bot *tgbotapi.BotAPI, logger zerolog.Logger) *Responder {
	return &Responder{bot: bot, log: logger}
}

// Reply отправляет текст в чат, при необходимости по кускам.
func (r *Responder) Reply(ctx context.Context, chatID int64, text string) error {
	parts := SplitMessage(text)
	for i, part := range parts {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(interChunkDelay):
			}
		}
		msg := tgbotapi.NewMessage(chatID, part)
		msg.ParseMode = tgbotapi.ModeMarkdown
		start := time.Now()
		_, err := r.bot.Send(msg)
		metrics.ObserveNetworkRequest("telegram_bot", "send_message", strconv.FormatInt(chatID, 10), start, err)
		if err != nil {
			r.log.Warn().Err(err).Int64("chat", chatID).Msg("telegram: ответ не отправлен")
			return err
		}
	}
	return nil
}
