package monitor

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"sms-range-relay/internal/domain"
	"sms-range-relay/internal/infra/metrics"
)

// LoopOptions — тайминги цикла опроса.
type LoopOptions struct {
	PollInterval  time.Duration
	ErrorBackoff  time.Duration
	SessionMaxAge time.Duration
	ReauthMinGap  time.Duration
}

// Loop — верхний контур демона: гоняет циклы сервиса, следит за возрастом
// сессии и уходит в бэкофф при ошибках. Не завершается сам, только по
// отмене контекста.
type Loop struct {
	service *Service
	portal  domain.PortalClient
	log     zerolog.Logger
	opts    LoopOptions

	lastReauth time.Time
}

// NewLoop создаёт контур опроса.
func NewLoop(service *Service, portal domain.PortalClient, logger zerolog.Logger, opts LoopOptions) *Loop {
	return &Loop{
		service: service,
		portal:  portal,
		log:     logger,
		opts:    opts,
	}
}

// Run крутит циклы опроса до отмены контекста.
func (l *Loop) Run(ctx context.Context) error {
	l.log.Info().
		Dur("poll_interval", l.opts.PollInterval).
		Dur("session_max_age", l.opts.SessionMaxAge).
		Msg("monitor: цикл опроса запущен")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := l.refreshSession(ctx); err != nil {
			if isShutdown(ctx, err) {
				return err
			}
			metrics.PollCycleErrors.Inc()
			l.log.Error().Err(err).Dur("backoff", l.opts.ErrorBackoff).Msg("monitor: вход на портал не удался")
			if !l.sleep(ctx, l.opts.ErrorBackoff) {
				return ctx.Err()
			}
			continue
		}

		start := time.Now()
		err := l.service.RunCycle(ctx)
		metrics.PollCycleSeconds.Observe(time.Since(start).Seconds())
		if err != nil {
			if isShutdown(ctx, err) {
				return err
			}
			metrics.PollCycleErrors.Inc()
			if errors.Is(err, domain.ErrAuth) {
				l.portal.InvalidateSession()
			}
			l.log.Error().Err(err).Dur("backoff", l.opts.ErrorBackoff).Msg("monitor: цикл завершился ошибкой")
			if !l.sleep(ctx, l.opts.ErrorBackoff) {
				return ctx.Err()
			}
			continue
		}

		if !l.sleep(ctx, l.jitteredInterval()) {
			return ctx.Err()
		}
	}
}

// refreshSession проактивно сбрасывает засидевшуюся сессию и гарантирует
// живую перед циклом. Минимальный интервал между перелогинами защищает от
// шквала входов при мигающей сети.
func (l *Loop) refreshSession(ctx context.Context) error {
	age := l.portal.SessionAge()
	if age >= l.opts.SessionMaxAge && time.Since(l.lastReauth) >= l.opts.ReauthMinGap {
		l.log.Info().Dur("age", age).Msg("monitor: сессия устарела, обновляем")
		l.portal.InvalidateSession()
	}

	before := l.portal.SessionAge()
	if err := l.portal.EnsureSession(ctx); err != nil {
		return err
	}
	if l.portal.SessionAge() < before {
		l.lastReauth = time.Now()
		metrics.ReauthTotal.Inc()
	}
	return nil
}

// jitteredInterval размазывает период опроса, чтобы запросы не шли строго
// периодично.
func (l *Loop) jitteredInterval() time.Duration {
	return l.opts.PollInterval + time.Duration(rand.Int63n(int64(time.Second)))
}

func (l *Loop) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func isShutdown(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled)
}
