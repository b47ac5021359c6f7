package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"github.com/prometheus/client_golang/prometheus"

	"liuyan-board/internal/app"
	"liuyan-board/internal/domain"
	"liuyan-board/internal/infra/config"
	applog "liuyan-board/internal/infra/log"
	"liuyan-board/internal/infra/metrics"
	"liuyan-board/internal/usecase/schedule"
	"liuyan-board/internal/usecase/settings"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, applog.Component(logger, "metrics"), cfg.MetricsAddr)

	res, err := app.Open(ctx, cfg, true, applog.Component(logger, "app"))
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: не удалось подключить хранилище")
	}
	defer res.Close()
	if res.Queue == nil {
		logger.Fatal().Msg("scheduler: очередь дайджестов не настроена (QUEUE_BACKEND, REDIS_ADDR, RABBITMQ_URL)")
	}

	settingsSvc := settings.NewService(res.Store, applog.Component(logger, "settings"))
	planner, err := schedule.NewPlanner(cfg.Digest.Cron, app.Location(cfg, logger), settingsSvc, res.TickLock(), res.Queue, domain.SystemClock{}, applog.Component(logger, "scheduler"))
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: неверное расписание")
	}

	logger.Info().Str("cron", cfg.Digest.Cron).Msg("scheduler: старт")
	if err := planner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("scheduler: остановлен с ошибкой")
	}
	logger.Info().Msg("scheduler: остановлен")
}
