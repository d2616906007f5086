package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"sms-range-relay/internal/domain"
	"sms-range-relay/internal/infra/metrics"
)

// Service выполняет один цикл опроса: сверяет свежий снимок диапазонов с
// сохранённым состоянием, доставляет новые сообщения и коммитит снимок.
// Работает строго из одной горутины: сессия портала не рассчитана на
// конкурентное использование.
type Service struct {
	portal   domain.PortalClient
	notifier domain.Notifier
	store    domain.StateStore
	log      zerolog.Logger
	coarse   bool

	// mu прикрывает снимок от конкурентного чтения статусным эндпоинтом.
	mu      sync.Mutex
	ranges  domain.RangeState
	numbers domain.NumberState
	loaded  bool
}

// NewService создаёт сервис цикла опроса. coarse включает грубый режим
// сверки (одно уведомление на новый номер); по умолчанию работает точный
// режим по счётчикам сообщений каждого номера.
func NewService(portal domain.PortalClient, notifier domain.Notifier, store domain.StateStore, logger zerolog.Logger, coarse bool) *Service {
	return &Service{
		portal:   portal,
		notifier: notifier,
		store:    store,
		log:      logger,
		coarse:   coarse,
	}
}

// RunCycle выполняет один полный цикл опроса за сегодняшнее окно.
func (s *Service) RunCycle(ctx context.Context) error {
	if !s.loaded {
		ranges, numbers, err := s.store.Load()
		if err != nil {
			return fmt.Errorf("загрузка состояния: %w", err)
		}
		s.mu.Lock()
		s.ranges, s.numbers = ranges, numbers
		s.loaded = true
		s.mu.Unlock()
	}
	return s.runCycle(ctx, domain.DayWindow(time.Now().UTC()))
}

// Tracked возвращает текущее число отслеживаемых диапазонов и номеров,
// используется статусным эндпоинтом.
func (s *Service) Tracked() (ranges, numbers int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ranges = len(s.ranges)
	for _, byNumber := range s.numbers {
		numbers += len(byNumber)
	}
	return ranges, numbers
}

func (s *Service) runCycle(ctx context.Context, window domain.DateWindow) error {
	summaries, err := s.portal.FetchRangeSummaries(ctx, window)
	if err != nil {
		return fmt.Errorf("выборка диапазонов: %w", err)
	}

	working := s.numbers.Clone()
	next := make(domain.RangeState, len(summaries))

	for _, summary := range summaries {
		if err := ctx.Err(); err != nil {
			return err
		}
		prev, tracked := s.ranges[summary.RangeName]

		var unitErr error
		switch {
		case !tracked:
			unitErr = s.handleNewRange(ctx, window, summary, working)
		case summary.Count > prev.Count:
			unitErr = s.handleCountBump(ctx, window, summary, prev, working)
		case summary.Count < prev.Count:
			// Портал подчистил историю: принимаем новый базис без
			// уведомлений, отрицательной дельты не бывает.
			s.log.Info().
				Str("range", summary.RangeName).
				Int("from", prev.Count).
				Int("to", summary.Count).
				Msg("monitor: счётчик диапазона уменьшился, перебазируемся")
		}

		if unitErr != nil {
			if isCycleFatal(unitErr) {
				return unitErr
			}
			metrics.SkippedUnits.WithLabelValues("range").Inc()
			s.log.Warn().Err(unitErr).Str("range", summary.RangeName).Msg("monitor: диапазон пропущен в этом цикле")
			// Оставляем старую запись, чтобы дельта пересчиталась в
			// следующем цикле. Новый диапазон остаётся неучтённым.
			if tracked {
				next[summary.RangeName] = prev
			}
			continue
		}
		next[summary.RangeName] = summary
	}

	// Снимок заменяется целиком: даже у неизменившихся диапазонов
	// обновляются выручка и платные счётчики.
	s.mu.Lock()
	s.ranges = next
	s.numbers = working
	s.mu.Unlock()
	if err := s.store.Save(s.ranges, s.numbers); err != nil {
		return fmt.Errorf("сохранение снимка: %w", err)
	}
	return nil
}

func (s *Service) handleNewRange(ctx context.Context, window domain.DateWindow, summary domain.RangeSummary, working domain.NumberState) error {
	s.log.Info().Str("range", summary.RangeName).Int("count", summary.Count).Msg("monitor: новый диапазон")
	if summary.Count == 0 {
		return nil
	}
	return s.syncRangeFine(ctx, window, summary.RangeName, working)
}

func (s *Service) handleCountBump(ctx context.Context, window domain.DateWindow, summary, prev domain.RangeSummary, working domain.NumberState) error {
	delta := summary.Count - prev.Count
	s.log.Info().
		Str("range", summary.RangeName).
		Int("from", prev.Count).
		Int("to", summary.Count).
		Msg("monitor: счётчик диапазона вырос")
	if s.coarse {
		return s.syncRangeCoarse(ctx, window, summary.RangeName, delta, working)
	}
	return s.syncRangeFine(ctx, window, summary.RangeName, working)
}

// syncRangeFine обходит все номера диапазона и доставляет у каждого
// сообщения сверх уже доставленного счётчика, старые вперёд. Сбой по
// одному номеру не прерывает обход остальных, но диапазон помечается
// пропущенным, чтобы дельта пересчиталась в следующем цикле.
func (s *Service) syncRangeFine(ctx context.Context, window domain.DateWindow, rangeName string, working domain.NumberState) error {
	records, err := s.portal.FetchNumbers(ctx, window, rangeName)
	if err != nil {
		return fmt.Errorf("выборка номеров: %w", err)
	}

	var skipped int
	// Портал отдаёт номера от новых к старым, доставляем от старых к новым.
	for i := len(records) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec := records[i]
		msgs, err := s.portal.FetchMessages(ctx, window, rec.Number, rangeName)
		if err != nil {
			if isCycleFatal(err) {
				return err
			}
			metrics.SkippedUnits.WithLabelValues("number").Inc()
			s.log.Warn().Err(err).Str("number", rec.Number).Msg("monitor: номер пропущен в этом цикле")
			skipped++
			continue
		}
		if err := s.deliverPending(ctx, rangeName, rec, msgs, working); err != nil {
			if isCycleFatal(err) {
				return err
			}
			metrics.SkippedUnits.WithLabelValues("number").Inc()
			s.log.Warn().Err(err).Str("number", rec.Number).Msg("monitor: доставка по номеру не завершена")
			skipped++
			continue
		}
	}
	if skipped > 0 {
		return domain.TransientErrorf("%d номеров пропущено", skipped)
	}
	return nil
}

// syncRangeCoarse — дешёвое приближение: последние delta номеров свежего
// списка считаются новыми, по каждому уходит одно уведомление с самым
// свежим сообщением. Теряет сообщения, когда на один номер приходит
// несколько SMS за интервал, поэтому точный режим остаётся умолчанием.
func (s *Service) syncRangeCoarse(ctx context.Context, window domain.DateWindow, rangeName string, delta int, working domain.NumberState) error {
	records, err := s.portal.FetchNumbers(ctx, window, rangeName)
	if err != nil {
		return fmt.Errorf("выборка номеров: %w", err)
	}
	if delta > len(records) {
		delta = len(records)
	}
	recent := records[len(records)-delta:]

	var skipped int
	for i := len(recent) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec := recent[i]
		msgs, err := s.portal.FetchMessages(ctx, window, rec.Number, rangeName)
		if err != nil {
			if isCycleFatal(err) {
				return err
			}
			metrics.SkippedUnits.WithLabelValues("number").Inc()
			s.log.Warn().Err(err).Str("number", rec.Number).Msg("monitor: номер пропущен в этом цикле")
			skipped++
			continue
		}
		if len(msgs) == 0 {
			continue
		}
		if err := s.notifier.Send(ctx, FormatSMS(msgs[0])); err != nil {
			if isCycleFatal(err) {
				return err
			}
			metrics.SkippedUnits.WithLabelValues("number").Inc()
			s.log.Warn().Err(err).Str("number", rec.Number).Msg("monitor: доставка по номеру не завершена")
			skipped++
			continue
		}
		metrics.MessagesDelivered.WithLabelValues(rangeName).Inc()
		working.SetTracked(rangeName, rec.Number, domain.TrackedNumber{
			NumberID:     rec.NumberID,
			Delivered:    len(msgs),
			LastMessages: bodies(msgs),
		})
	}
	if skipped > 0 {
		return domain.TransientErrorf("%d номеров пропущено", skipped)
	}
	return nil
}

// deliverPending доставляет непросмотренный хвост сообщений номера.
// Счётчик номера коммитится только после успешной доставки всей пачки:
// при сбое посередине весь хвост повторится в следующем цикле.
func (s *Service) deliverPending(ctx context.Context, rangeName string, rec domain.NumberRecord, msgs []domain.MessageRecord, working domain.NumberState) error {
	tracked, _ := working.Tracked(rangeName, rec.Number)
	tracked.NumberID = rec.NumberID

	current := len(msgs)
	if current < tracked.Delivered {
		// История номера сократилась, перебазируемся без уведомлений.
		tracked.Delivered = current
		tracked.LastMessages = bodies(msgs)
		working.SetTracked(rangeName, rec.Number, tracked)
		return nil
	}

	// Сообщения приходят от новых к старым: непросмотренный хвост — это
	// первые current-delivered записей, доставляем их с конца.
	pending := msgs[:current-tracked.Delivered]
	for i := len(pending) - 1; i >= 0; i-- {
		if err := s.notifier.Send(ctx, FormatSMS(pending[i])); err != nil {
			return err
		}
		metrics.MessagesDelivered.WithLabelValues(rangeName).Inc()
	}

	tracked.Delivered = current
	tracked.LastMessages = bodies(msgs)
	working.SetTracked(rangeName, rec.Number, tracked)
	return nil
}

func bodies(msgs []domain.MessageRecord) []string {
	if len(msgs) == 0 {
		return nil
	}
	out := make([]string, len(msgs))
	for i, msg := range msgs {
		out[i] = msg.Body
	}
	return out
}

// isCycleFatal отличает сбои единицы работы от ошибок уровня цикла:
// отмена контекста и отказ аутентификации прерывают цикл целиком.
func isCycleFatal(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, domain.ErrAuth)
}
