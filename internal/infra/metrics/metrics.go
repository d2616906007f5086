package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	PollCycleSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "poll_cycle_seconds",
		Help:    "Длительность одного цикла опроса портала",
		Buckets: prometheus.DefBuckets,
	})
	PollCycleErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "poll_cycle_errors_total",
		Help: "Циклы опроса, завершившиеся откатом в бэкофф",
	})
	ReauthTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "portal_reauth_total",
		Help: "Повторные входы в портал",
	})
	MessagesDelivered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "messages_delivered_total",
		Help: "Доставленные уведомления о новых SMS по диапазонам",
	}, []string{"range"})
	DeliveryErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "delivery_errors_total",
		Help: "Ошибки отправки уведомлений",
	})
	SkippedUnits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "skipped_units_total",
		Help: "Пропущенные единицы работы из-за частичных сбоев выборки",
	}, []string{"unit"})
	RangeJobsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "range_jobs_total",
		Help: "Обработанные задачи панели по действию и исходу",
	}, []string{"action", "status"})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 15, 20, 25, 30},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		PollCycleSeconds,
		PollCycleErrors,
		ReauthTotal,
		MessagesDelivered,
		DeliveryErrors,
		SkippedUnits,
		RangeJobsTotal,
		NetworkRequestDuration,
		NetworkRequestTotal,
	)
}

// StartServer запускает HTTP сервер с эндпоинтом /metrics.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownTimeout, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownTimeout); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
	}()
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}
