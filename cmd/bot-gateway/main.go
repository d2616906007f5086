package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"sms-range-relay/internal/adapters/bot"
	"sms-range-relay/internal/adapters/portal"
	"sms-range-relay/internal/adapters/repo"
	"sms-range-relay/internal/domain"
	"sms-range-relay/internal/infra/cache"
	"sms-range-relay/internal/infra/config"
	"sms-range-relay/internal/infra/db"
	infrahttp "sms-range-relay/internal/infra/http"
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

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("не удалось подключиться к БД")
	}
	defer pool.Close()

	repoAdapter := repo.NewPostgres(pool)
	if err := repoAdapter.EnsureSchema(ctx); err != nil {
		logger.Fatal().Err(err).Msg("не удалось создать схему БД")
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	accessCache := cache.NewRedis(redisClient)

	rangeQueue, err := queue.NewRabbitRangeQueue(cfg.RabbitURL, cfg.Queues.Ranges)
	if err != nil {
		logger.Fatal().Err(err).Msg("не удалось подключиться к очереди")
	}
	defer rangeQueue.Close()

	// У гейтвея своя сессия портала, отдельная от монитора и воркера.
	provisioner, err := portal.NewClient(portal.Options{
		BaseURL:  cfg.Portal.BaseURL,
		Email:    cfg.Portal.Email,
		Password: cfg.Portal.Password,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("не удалось создать клиент портала")
	}

	rangesService := ranges.NewService(repoAdapter, repoAdapter, provisioner, rangeQueue, accessCache, logger)

	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		logger.Fatal().Err(err).Msg("не удалось создать бота")
	}
	h := bot.NewHandler(botAPI, logger, rangesService)

	srv := infrahttp.NewServer(logger, nil)
	srv.Router.Post("/bot/webhook", func(w http.ResponseWriter, r *http.Request) {
		var update tgbotapi.Update
		if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.HandleUpdate(r.Context(), update)
		w.WriteHeader(http.StatusOK)
	})

	go func() {
		if err := srv.Start(cfg.StatusAddr); err != nil {
			logger.Error().Err(err).Msg("HTTP сервер остановлен")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("остановка бот-гейтвея")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

var (
	_ domain.AccessRepo     = (*repo.Postgres)(nil)
	_ domain.AssignmentRepo = (*repo.Postgres)(nil)
	_ domain.RangeQueue     = (*queue.RabbitRangeQueue)(nil)
)
