package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/prometheus/client_golang/prometheus"

	"liuyan-board/internal/adapters/web"
	"liuyan-board/internal/app"
	"liuyan-board/internal/domain"
	"liuyan-board/internal/infra/config"
	httpinfra "liuyan-board/internal/infra/http"
	applog "liuyan-board/internal/infra/log"
	"liuyan-board/internal/infra/metrics"
	"liuyan-board/internal/infra/random"
	"liuyan-board/internal/usecase/auth"
	"liuyan-board/internal/usecase/digest"
	"liuyan-board/internal/usecase/discussion"
	"liuyan-board/internal/usecase/engagement"
	"liuyan-board/internal/usecase/settings"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := app.Open(ctx, cfg, true, applog.Component(logger, "app"))
	if err != nil {
		logger.Fatal().Err(err).Msg("api: не удалось подключить хранилище")
	}
	defer res.Close()

	clock := domain.SystemClock{}
	ids := random.UUID{}
	authOpts := auth.Options{
		OTPTTL:         cfg.Auth.OTPTTL,
		ResendInterval: cfg.Auth.OTPResendInterval,
		SessionTTL:     cfg.Auth.SessionTTL,
	}
	authSvc := auth.NewService(res.Store, clock, ids, random.NumericCode{}, authOpts, applog.Component(logger, "auth"))
	board := discussion.NewService(res.Store, clock, cfg.SeedDemo, applog.Component(logger, "discussion"))
	engage := engagement.NewService(res.Store, clock, ids, applog.Component(logger, "engagement"))
	settingsSvc := settings.NewService(res.Store, applog.Component(logger, "settings"))
	digestOpts := digest.Options{
		MaxAttempts: cfg.Digest.MaxAttempts,
		RetryDelay:  cfg.Digest.RetryDelay,
		Timeout:     cfg.Digest.HTTPTimeout,
	}
	batcher := digest.NewBatcher(res.Store, settingsSvc, app.Notifiers(cfg), clock, app.Location(cfg, logger), digestOpts, applog.Component(logger, "digest"))

	// send-weekly отвечает синхронно, поэтому запрос должен пережить все попытки доставки.
	requestTimeout := max(httpinfra.DefaultRequestTimeout, digestOpts.Budget()+10*time.Second)
	limiter := httpinfra.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	server := httpinfra.NewServer(applog.Component(logger, "http"), limiter, httpinfra.WithRequestTimeout(requestTimeout))
	web.NewHandler(authSvc, board, engage, settingsSvc, batcher, res.Queue, applog.Component(logger, "web")).Register(server.Router)

	go func() {
		addr := fmt.Sprintf(":%d", cfg.Port)
		logger.Info().Str("addr", addr).Msg("api: старт")
		if err := server.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("api: сервер остановлен")
			stop()
		}
	}()
	<-ctx.Done()
	logger.Info().Msg("api: остановка")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("api: ошибка остановки")
	}
}
