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
	OTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "otp_requests_total",
		Help: "Запросы одноразового кода по результату",
	}, []string{"result"})

	LoginsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "logins_total",
		Help: "Проверки кода по результату",
	}, []string{"result"})

	PostsCreatedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "posts_created_total",
		Help: "Созданные сообщения и ответы",
	}, []string{"kind"})

	LikeTogglesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "like_toggles_total",
		Help: "Переключения лайков",
	}, []string{"action"})

	DigestSendsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "digest_sends_total",
		Help: "Попытки отправки дайджеста по провайдеру и статусу",
	}, []string{"provider", "status"})

	DigestBuildSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "digest_build_seconds",
		Help:    "Время построения и отправки дайджеста",
		Buckets: prometheus.DefBuckets,
	})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		OTPRequestsTotal,
		LoginsTotal,
		PostsCreatedTotal,
		LikeTogglesTotal,
		DigestSendsTotal,
		DigestBuildSeconds,
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

	shutdownCtx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-ctx.Done():
		case <-shutdownCtx.Done():
		}
		shutdownTimeout, timeoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer timeoutCancel()
		if err := srv.Shutdown(shutdownTimeout); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
		cancel()
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

// ObserveDigest фиксирует попытку отправки дайджеста.
func ObserveDigest(provider, status string, duration time.Duration) {
	if provider == "" {
		provider = "unknown"
	}
	DigestSendsTotal.WithLabelValues(provider, status).Inc()
	DigestBuildSeconds.Observe(duration.Seconds())
}
