// Package app собирает общие зависимости бинарников из конфигурации.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"liuyan-board/internal/adapters/notifier"
	"liuyan-board/internal/adapters/repo"
	"liuyan-board/internal/domain"
	"liuyan-board/internal/infra/cache"
	"liuyan-board/internal/infra/config"
	"liuyan-board/internal/infra/db"
	"liuyan-board/internal/infra/queue"
	"liuyan-board/internal/usecase/schedule"
)

const keyPrefix = "liuyan"

// Resources — открытые подключения. Close освобождает их в обратном порядке.
type Resources struct {
	Store domain.EntityStore
	Redis *redis.Client
	Queue domain.DigestQueue

	closers []func()
}

// Close закрывает все подключения.
func (r *Resources) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

// Open подключает хранилище и, если withQueue, очередь задач дайджеста.
func Open(ctx context.Context, cfg config.AppConfig, withQueue bool, log zerolog.Logger) (*Resources, error) {
	res := &Resources{}
	if cfg.RedisAddr != "" {
		client, err := cache.Connect(ctx, cfg.RedisAddr)
		if err != nil {
			return nil, err
		}
		res.Redis = client
		res.closers = append(res.closers, func() { _ = client.Close() })
	}

	switch cfg.StoreBackend {
	case "memory":
		res.Store = repo.NewMemory()
	case "postgres":
		pool, err := db.Connect(ctx, cfg.PGDSN)
		if err != nil {
			res.Close()
			return nil, fmt.Errorf("подключение к postgres: %w", err)
		}
		res.closers = append(res.closers, pool.Close)
		pg := repo.NewPostgres(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			res.Close()
			return nil, err
		}
		res.Store = pg
	case "redis":
		if res.Redis == nil {
			return nil, errors.New("STORE_BACKEND=redis требует REDIS_ADDR")
		}
		res.Store = repo.NewRedis(res.Redis, keyPrefix)
	default:
		res.Close()
		return nil, fmt.Errorf("неизвестный STORE_BACKEND %q", cfg.StoreBackend)
	}
	log.Info().Str("store", cfg.StoreBackend).Msg("app: хранилище подключено")

	if !withQueue {
		return res, nil
	}
	switch cfg.QueueBackend {
	case "redis":
		if res.Redis == nil {
			log.Warn().Msg("app: REDIS_ADDR не задан, очередь дайджестов отключена")
			return res, nil
		}
		res.Queue = queue.NewRedisDigestQueue(res.Redis, keyPrefix+":"+cfg.Queues.Digest)
	case "rabbitmq":
		q, err := queue.NewRabbitDigestQueue(cfg.RabbitURL, cfg.Queues.Digest)
		if err != nil {
			res.Close()
			return nil, err
		}
		res.closers = append(res.closers, func() { _ = q.Close() })
		res.Queue = q
	case "", "none":
	default:
		res.Close()
		return nil, fmt.Errorf("неизвестный QUEUE_BACKEND %q", cfg.QueueBackend)
	}
	if res.Queue != nil {
		log.Info().Str("queue", cfg.QueueBackend).Msg("app: очередь подключена")
	}
	return res, nil
}

// TickLock возвращает блокировку тиков: Redis, если он подключён, иначе локальную.
func (r *Resources) TickLock() schedule.TickLock {
	if r.Redis != nil {
		return cache.NewRedis(r.Redis)
	}
	return cache.NewLocal()
}

// Notifiers создаёт исходящие каналы для провайдеров http и telegram.
func Notifiers(cfg config.AppConfig) map[domain.Provider]domain.Notifier {
	return map[domain.Provider]domain.Notifier{
		domain.ProviderHTTP:     notifier.NewHTTP(notifier.WithTimeout(cfg.Digest.HTTPTimeout)),
		domain.ProviderTelegram: notifier.NewTelegram(cfg.Telegram.APIEndpoint, notifier.WithTimeout(cfg.Digest.HTTPTimeout)),
	}
}

// Location возвращает пояс по умолчанию из TZ, при ошибке UTC.
func Location(cfg config.AppConfig, log zerolog.Logger) *time.Location {
	loc, err := time.LoadLocation(cfg.TZ)
	if err != nil {
		log.Warn().Err(err).Str("tz", cfg.TZ).Msg("app: неизвестный пояс, используем UTC")
		return time.UTC
	}
	return loc
}
