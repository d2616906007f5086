package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"

	"sms-range-relay/internal/adapters/portal"
	"sms-range-relay/internal/adapters/state"
	"sms-range-relay/internal/adapters/telegram"
	"sms-range-relay/internal/infra/config"
	infrahttp "sms-range-relay/internal/infra/http"
	"sms-range-relay/internal/infra/log"
	"sms-range-relay/internal/infra/metrics"
	"sms-range-relay/internal/usecase/monitor"
)

func main() {
	cfg := config.Load()
	logger := log.NewLogger(cfg.AppEnv, cfg.LogLevel)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	portalClient, err := portal.NewClient(portal.Options{
		BaseURL:  cfg.Portal.BaseURL,
		Email:    cfg.Portal.Email,
		Password: cfg.Portal.Password,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("не удалось создать клиент портала")
	}

	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		logger.Fatal().Err(err).Msg("не удалось создать бота")
	}

	notifier := telegram.NewNotifier(botAPI, cfg.Telegram.ChatID, logger)
	store := state.NewFileStore(cfg.Monitor.StateDir, logger)

	service := monitor.NewService(portalClient, notifier, store, logger, cfg.Monitor.CoarseDiff)
	loop := monitor.NewLoop(service, portalClient, logger, monitor.LoopOptions{
		PollInterval:  cfg.Monitor.PollInterval,
		ErrorBackoff:  cfg.Monitor.ErrorBackoff,
		SessionMaxAge: cfg.Monitor.SessionMaxAge,
		ReauthMinGap:  cfg.Monitor.ReauthMinGap,
	})

	srv := infrahttp.NewServer(logger, func() any {
		ranges, numbers := service.Tracked()
		return map[string]any{
			"session_age_seconds": portalClient.SessionAge().Seconds(),
			"tracked_ranges":      ranges,
			"tracked_numbers":     numbers,
		}
	})
	go func() {
		if err := srv.Start(cfg.StatusAddr); err != nil {
			logger.Error().Err(err).Msg("HTTP сервер остановлен")
		}
	}()

	if err := loop.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error().Err(err).Msg("цикл опроса завершился")
	}

	logger.Info().Msg("остановка монитора")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
