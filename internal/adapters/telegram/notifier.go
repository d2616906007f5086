package telegram

import (
	"context"
	"fmt"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"sms-range-relay/internal/domain"
	"sms-range-relay/internal/infra/metrics"
	"sms-range-relay/internal/infra/retry"
)

// interChunkDelay разносит куски длинного сообщения по времени, чтобы не
// упереться в лимиты Telegram на частоту отправки.
const interChunkDelay = 300 * time.Millisecond

var _ domain.Notifier = (*Notifier)(nil)

// Notifier отправляет уведомления в фиксированный чат, сам режет длинные
// тексты и повторяет временные сбои отправки.
type Notifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	log    zerolog.Logger
	policy retry.Policy
}

// NewNotifier создаёт нотификатор для чата.
func NewNotifier(bot *tgbotapi.BotAPI, chatID int64, logger zerolog.Logger) *Notifier {
	return &Notifier{
		bot:    bot,
		chatID: chatID,
		log:    logger,
		policy: retry.Policy{Attempts: 3, Backoff: time.Second},
	}
}

// Send доставляет текст, при необходимости по кускам. Ошибка после
// исчерпания повторов заворачивается в domain.ErrDelivery.
func (n *Notifier) Send(ctx context.Context, text string) error {
	parts := SplitMessage(text)
	for i, part := range parts {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(interChunkDelay):
			}
		}
		if err := n.sendPart(ctx, part); err != nil {
			metrics.DeliveryErrors.Inc()
			return fmt.Errorf("chunk %d/%d: %v: %w", i+1, len(parts), err, domain.ErrDelivery)
		}
	}
	return nil
}

func (n *Notifier) sendPart(ctx context.Context, part string) error {
	return n.policy.Do(ctx, nil, func() error {
		msg := tgbotapi.NewMessage(n.chatID, part)
		start := time.Now()
		_, err := n.bot.Send(msg)
		metrics.ObserveNetworkRequest("telegram_bot", "send_message", strconv.FormatInt(n.chatID, 10), start, err)
		if err != nil {
			n.log.Warn().Err(err).Int64("chat", n.chatID).Msg("telegram: отправка не удалась")
		}
		return err
	})
}
