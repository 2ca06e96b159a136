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
	SendsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_sends_total",
		Help: "Попытки отправки по аккаунтам и статусам",
	}, []string{"account", "source", "status"})

	TasksRetiredTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_tasks_retired_total",
		Help: "Снятые с очереди задачи по причинам",
	}, []string{"reason"})

	PendingTasks = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dispatch_pending_tasks",
		Help: "Количество задач в очереди",
	})

	PassSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "dispatch_pass_seconds",
		Help:    "Длительность прохода планировщика",
		Buckets: []float64{.01, .1, .5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
	})

	LoopRestarts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_loop_restarts_total",
		Help: "Перезапуски цикла планировщика после сбоя",
	})

	PersistFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "persist_failures_total",
		Help: "Ошибки сохранения состояния",
	})

	ConnectedAccounts = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "accounts_connected",
		Help: "Количество подключённых аккаунтов",
	})

	BotSendErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bot_send_errors_total",
		Help: "Ошибки отправки сообщений ботом",
	})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 15, 20, 30, 45, 60, 90, 120},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		SendsTotal,
		TasksRetiredTotal,
		PendingTasks,
		PassSeconds,
		LoopRestarts,
		PersistFailures,
		ConnectedAccounts,
		BotSendErrors,
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
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(time.Since(start).Seconds())
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}

// ObserveSend учитывает попытку отправки.
func ObserveSend(account, source string, ok bool) {
	status := "sent"
	if !ok {
		status = "failed"
	}
	SendsTotal.WithLabelValues(account, source, status).Inc()
}
