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
	DiscoveriesIngested = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "discoveries_ingested_total",
		Help: "Обработанные находки по исходам",
	}, []string{"source", "outcome"})

	IngestBatchSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ingest_batch_seconds",
		Help:    "Время обработки пакета находок",
		Buckets: prometheus.DefBuckets,
	})

	StockChecksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_checks_total",
		Help: "Опросы наличия по статусу и наличию изменений",
	}, []string{"status", "changed"})

	AlertsSentTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "alerts_sent_total",
		Help: "Отправленные уведомления по типам",
	}, []string{"type"})

	AlertSendErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "alert_send_errors_total",
		Help: "Ошибки отправки уведомлений",
	})

	HypeRecomputeSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "hype_recompute_seconds",
		Help:    "Время пересчёта хайп-скора",
		Buckets: prometheus.DefBuckets,
	})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: prometheus.DefBuckets,
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		DiscoveriesIngested,
		IngestBatchSeconds,
		StockChecksTotal,
		AlertsSentTotal,
		AlertSendErrors,
		HypeRecomputeSeconds,
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

// ObserveStockCheck записывает итог опроса наличия.
func ObserveStockCheck(status string, changed bool) {
	changedLabel := "no"
	if changed {
		changedLabel = "yes"
	}
	StockChecksTotal.WithLabelValues(status, changedLabel).Inc()
}
