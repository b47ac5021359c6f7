package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"liuyan-board/internal/app"
	"liuyan-board/internal/domain"
	"liuyan-board/internal/infra/config"
	applog "liuyan-board/internal/infra/log"
	"liuyan-board/internal/infra/metrics"
	"liuyan-board/internal/usecase/digest"
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
		logger.Fatal().Err(err).Msg("digest-worker: не удалось подключить хранилище")
	}
	defer res.Close()
	if res.Queue == nil {
		logger.Fatal().Msg("digest-worker: очередь дайджестов не настроена (QUEUE_BACKEND, REDIS_ADDR, RABBITMQ_URL)")
	}

	settingsSvc := settings.NewService(res.Store, applog.Component(logger, "settings"))
	batcher := digest.NewBatcher(res.Store, settingsSvc, app.Notifiers(cfg), domain.SystemClock{}, app.Location(cfg, logger), digest.Options{
		MaxAttempts: cfg.Digest.MaxAttempts,
		RetryDelay:  cfg.Digest.RetryDelay,
		Timeout:     cfg.Digest.HTTPTimeout,
	}, applog.Component(logger, "digest"))

	worker := &jobWorker{log: logger, queue: res.Queue, sender: batcher}
	logger.Info().Msg("digest-worker: запуск обработки очереди")
	worker.Run(ctx)
	logger.Info().Msg("digest-worker: остановлен")
}

type digestSender interface {
	SendDigest(ctx context.Context) (digest.Result, error)
}

type jobWorker struct {
	log    zerolog.Logger
	queue  domain.DigestQueue
	sender digestSender
}

func (w *jobWorker) Run(ctx context.Context) {
	for {
		job, ack, err := w.queue.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			w.log.Error().Err(err).Msg("digest-worker: ошибка чтения очереди")
			time.Sleep(time.Second)
			continue
		}

		jobLog := w.log.With().
			Str("job_id", job.ID).
			Str("cause", string(job.Cause)).
			Int("attempt", job.Attempt).
			Logger()

		success := w.handle(ctx, jobLog)
		if err := ack(success); err != nil {
			jobLog.Error().Err(err).Msg("digest-worker: не удалось подтвердить задачу")
		}
	}
}

// handle возвращает false, если задачу стоит повторить.
func (w *jobWorker) handle(ctx context.Context, jobLog zerolog.Logger) bool {
	res, err := w.sender.SendDigest(ctx)
	switch {
	case digest.IsNotConfigured(err):
		jobLog.Warn().Msg("digest-worker: получатель не настроен, задача пропущена")
		return true
	case err != nil:
		jobLog.Error().Err(err).Msg("digest-worker: ошибка отправки дайджеста")
		return false
	}
	jobLog.Info().Str("status", res.Status).Int("sent", res.SentCount).Msg("digest-worker: задача обработана")
	return true
}
