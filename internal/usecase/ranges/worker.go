package ranges

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"sms-range-relay/internal/domain"
	"sms-range-relay/internal/infra/metrics"
)

// Responder отвечает пользователю в его чат.
type Responder interface {
	Reply(ctx context.Context, chatID int64, text string) error
}

// Worker выполняет задачи изменения панели из очереди. Работает одной
// горутиной со своей сессией портала: мутации панели сериализуются через
// очередь, а не через блокировки.
type Worker struct {
	queue       domain.RangeQueue
	provisioner domain.RangeProvisioner
	assignments domain.AssignmentRepo
	responder   Responder
	log         zerolog.Logger
	numbersCap  int
}

// NewWorker создаёт воркер панели. numbersCap ограничивает суммарное число
// номеров на панели; ноль отключает лимит.
func NewWorker(
	queue domain.RangeQueue,
	provisioner domain.RangeProvisioner,
	assignments domain.AssignmentRepo,
	responder Responder,
	logger zerolog.Logger,
	numbersCap int,
) *Worker {
	return &Worker{
		queue:       queue,
		provisioner: provisioner,
		assignments: assignments,
		responder:   responder,
		log:         logger,
		numbersCap:  numbersCap,
	}
}

// Run обрабатывает задачи до отмены контекста.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info().Int("numbers_cap", w.numbersCap).Msg("ranges: воркер панели запущен")
	for {
		job, ack, err := w.queue.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.log.Error().Err(err).Msg("ranges: приём задачи не удался")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}

		err = w.handle(ctx, job)
		switch {
		case err == nil:
			metrics.RangeJobsTotal.WithLabelValues(string(job.Action), "ok").Inc()
			w.ack(ack, true, job)
		case ctx.Err() != nil:
			// Остановка посреди задачи: вернуть в очередь и выйти.
			w.ack(ack, false, job)
			return ctx.Err()
		case errors.Is(err, domain.ErrAuth), errors.Is(err, domain.ErrTransient):
			metrics.RangeJobsTotal.WithLabelValues(string(job.Action), "requeued").Inc()
			w.log.Warn().Err(err).Str("job_id", job.ID).Msg("ranges: задача вернётся в очередь")
			if errors.Is(err, domain.ErrAuth) {
				w.provisioner.InvalidateSession()
			}
			w.ack(ack, false, job)
		default:
			metrics.RangeJobsTotal.WithLabelValues(string(job.Action), "failed").Inc()
			w.log.Error().Err(err).Str("job_id", job.ID).Msg("ranges: задача провалена")
			w.reply(ctx, job.ChatID, fmt.Sprintf("Failed to process `%s`: %v", job.RangeName, err))
			w.ack(ack, true, job)
		}
	}
}

func (w *Worker) ack(ack domain.RangeAckFunc, success bool, job domain.RangeJob) {
	if err := ack(success); err != nil {
		w.log.Error().Err(err).Str("job_id", job.ID).Msg("ranges: подтверждение задачи не удалось")
	}
}

func (w *Worker) handle(ctx context.Context, job domain.RangeJob) error {
	w.log.Info().
		Str("job_id", job.ID).
		Str("action", string(job.Action)).
		Str("range", job.RangeName).
		Int64("user", job.UserTGID).
		Msg("ranges: задача принята")

	if err := w.provisioner.EnsureSession(ctx); err != nil {
		return err
	}
	switch job.Action {
	case domain.RangeJobClaim:
		return w.claim(ctx, job)
	case domain.RangeJobRelease:
		return w.release(ctx, job)
	case domain.RangeJobReleaseAll:
		return w.releaseAll(ctx, job)
	default:
		w.log.Warn().Str("action", string(job.Action)).Msg("ranges: неизвестное действие, задача отброшена")
		return nil
	}
}

func (w *Worker) claim(ctx context.Context, job domain.RangeJob) error {
	if w.numbersCap > 0 {
		overview, err := w.provisioner.PanelOverview(ctx)
		if err != nil {
			return fmt.Errorf("сводка панели: %w", err)
		}
		if overview.TotalNumbers >= w.numbersCap {
			w.reply(ctx, job.ChatID, fmt.Sprintf(
				"Cannot add range `%s`: the panel already holds %d numbers (limit %d). Release a range first.",
				job.RangeName, overview.TotalNumbers, w.numbersCap))
			return nil
		}
	}

	matches, err := w.provisioner.SearchRange(ctx, job.RangeName)
	if err != nil {
		return fmt.Errorf("поиск диапазона: %w", err)
	}
	match, ok := pickMatch(matches, job.RangeName)
	if !ok {
		w.reply(ctx, job.ChatID, fmt.Sprintf("Range `%s` not found.", job.RangeName))
		return nil
	}

	numbers, err := w.provisioner.ClaimRange(ctx, match.TerminationID)
	if err != nil {
		return fmt.Errorf("занятие диапазона: %w", err)
	}

	assignment := domain.RangeAssignment{
		UserID:        job.UserTGID,
		RangeName:     match.RangeName,
		TerminationID: match.TerminationID,
		AddedAt:       time.Now().UTC(),
	}
	if err := w.assignments.CreateAssignment(ctx, assignment); err != nil {
		// Диапазон уже занят на портале, повтор задачи занял бы его ещё раз.
		w.log.Error().Err(err).Str("range", match.RangeName).Msg("ranges: запись в реестр не удалась")
	}

	w.reply(ctx, job.ChatID, claimReport(match.RangeName, numbers))
	return nil
}

func (w *Worker) release(ctx context.Context, job domain.RangeJob) error {
	numbers, err := w.provisioner.SearchNumbers(ctx, job.RangeName)
	if err != nil {
		return fmt.Errorf("поиск номеров: %w", err)
	}
	if len(numbers) > 0 {
		ids := make([]string, 0, len(numbers))
		for _, n := range numbers {
			ids = append(ids, n.NumberID)
		}
		if err := w.provisioner.ReleaseNumbers(ctx, ids); err != nil {
			return fmt.Errorf("освобождение номеров: %w", err)
		}
	}

	w.dropAssignments(ctx, job)

	if len(numbers) == 0 {
		w.reply(ctx, job.ChatID, fmt.Sprintf("No numbers found in range `%s`, ledger entry removed.", job.RangeName))
		return nil
	}
	w.reply(ctx, job.ChatID, fmt.Sprintf("Range `%s` removed, %d numbers released.", job.RangeName, len(numbers)))
	return nil
}

// dropAssignments вычищает из реестра все записи освобождённого диапазона:
// админ может освобождать чужие диапазоны, владельца нужно найти по имени.
func (w *Worker) dropAssignments(ctx context.Context, job domain.RangeJob) {
	all, err := w.assignments.ListAssignments(ctx)
	if err != nil {
		w.log.Error().Err(err).Msg("ranges: чтение реестра не удалось")
		all = nil
	}
	dropped := false
	for _, a := range all {
		if strings.EqualFold(a.RangeName, job.RangeName) {
			if err := w.assignments.DeleteAssignment(ctx, a.UserID, a.RangeName); err != nil {
				w.log.Error().Err(err).Int64("user", a.UserID).Msg("ranges: удаление записи реестра не удалось")
				continue
			}
			dropped = true
		}
	}
	if !dropped {
		if err := w.assignments.DeleteAssignment(ctx, job.UserTGID, job.RangeName); err != nil {
			w.log.Error().Err(err).Msg("ranges: удаление записи реестра не удалось")
		}
	}
}

func (w *Worker) releaseAll(ctx context.Context, job domain.RangeJob) error {
	if err := w.provisioner.ReleaseAllNumbers(ctx); err != nil {
		return fmt.Errorf("освобождение панели: %w", err)
	}
	if err := w.assignments.DeleteAllAssignments(ctx); err != nil {
		w.log.Error().Err(err).Msg("ranges: очистка реестра не удалась")
	}
	w.reply(ctx, job.ChatID, "All numbers released, the ledger is empty.")
	return nil
}

func (w *Worker) reply(ctx context.Context, chatID int64, text string) {
	if err := w.responder.Reply(ctx, chatID, text); err != nil {
		w.log.Warn().Err(err).Int64("chat", chatID).Msg("ranges: ответ пользователю не доставлен")
	}
}

// pickMatch выбирает совпадение по имени без учёта регистра; при его
// отсутствии берётся первый результат поиска.
func pickMatch(matches []domain.RangeMatch, rangeName string) (domain.RangeMatch, bool) {
	for _, m := range matches {
		if strings.EqualFold(m.RangeName, rangeName) {
			return m, true
		}
	}
	if len(matches) > 0 {
		return matches[0], true
	}
	return domain.RangeMatch{}, false
}

func claimReport(rangeName string, numbers []domain.NumberRecord) string {
	if len(numbers) == 0 {
		return fmt.Sprintf("Range `%s` added, but the portal returned no numbers yet.", rangeName)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Range `%s` added successfully!\n\nNumbers:\n", rangeName)
	for i, n := range numbers {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("`+" + n.Number + "`")
	}
	return b.String()
}
