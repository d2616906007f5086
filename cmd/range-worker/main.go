package main

import (
	"context"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"

	"sms-range-relay/internal/adapters/portal"
	"sms-range-relay/internal/adapters/repo"
	"sms-range-relay/internal/adapters/telegram"
	"sms-range-relay/internal/infra/config"
	"sms-range-relay/internal/infra/db"
	"sms-range-relay/internal/infra/log"
	"sms-range-relay/internal/infra/metrics"
	"sms-range-relay/internal/infra/queue"
	"sms-range-relay/internal/usecase/ranges"
)

func main() {
	cfg := config.Load()
	logger := log.NewLogger(cfg.AppEnv, cfg.LogLevel)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	metrics.StartServer(ctx, logger, cfg.MetricsAddr)

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("не удалось подключиться к БД")
	}
	defer pool.Close()

	repoAdapter := repo.NewPostgres(pool)
	if err := repoAdapter.EnsureSchema(ctx); err != nil {
		logger.Fatal().Err(err).Msg("не удалось создать схему БД")
	}

	rangeQueue, err := queue.NewRabbitRangeQueue(cfg.RabbitURL, cfg.Queues.Ranges)
	if err != nil {
		logger.Fatal().Err(err).Msg("не удалось подключиться к очереди")
	}
	defer rangeQueue.Close()

	// Воркер мутирует панель своей сессией, отдельной от цикла опроса.
	provisioner, err := portal.NewClient(portal.Options{
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
	responder := telegram.NewResponder(botAPI, logger)

	worker := ranges.NewWorker(rangeQueue, provisioner, repoAdapter, responder, logger, cfg.Panel.NumbersCap)
	if err := worker.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error().Err(err).Msg("воркер панели завершился")
	}
	logger.Info().Msg("остановка воркера панели")
}
