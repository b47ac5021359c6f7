package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"liuyan-board/internal/domain"
)

// TickLock гарантирует, что тик обработает только одна реплика планировщика.
type TickLock interface {
	Once(ctx context.Context, key string, ttl time.Duration, fn func() error) (bool, error)
}

// SettingsReader отдаёт текущие настройки доставки.
type SettingsReader interface {
	Get(ctx context.Context) (domain.Settings, error)
}

// Planner ставит задачи дайджеста в очередь по cron-выражению.
type Planner struct {
	cron     string
	fallback *time.Location
	settings SettingsReader
	lock     TickLock
	queue    domain.DigestQueue
	clock    domain.Clock
	lockTTL  time.Duration
	log      zerolog.Logger
}

// NewPlanner проверяет выражение и создаёт планировщик. Выражение вычисляется в поясе из настроек,
// а если он не задан, то в fallback.
func NewPlanner(cron string, fallback *time.Location, settings SettingsReader, lock TickLock, queue domain.DigestQueue, clock domain.Clock, log zerolog.Logger) (*Planner, error) {
	if !gronx.IsValid(cron) {
		return nil, fmt.Errorf("%w: invalid cron expression %q", domain.ErrInvalidInput, cron)
	}
	if fallback == nil {
		fallback = time.UTC
	}
	return &Planner{
		cron:     cron,
		fallback: fallback,
		settings: settings,
		lock:     lock,
		queue:    queue,
		clock:    clock,
		lockTTL:  time.Hour,
		log:      log,
	}, nil
}

func (p *Planner) location(ctx context.Context) *time.Location {
	st, err := p.settings.Get(ctx)
	if err != nil {
		p.log.Warn().Err(err).Msg("scheduler: не удалось прочитать настройки, используем пояс по умолчанию")
		return p.fallback
	}
	return Location(st.Timezone, p.fallback)
}

// Next возвращает ближайший тик строго после after.
func (p *Planner) Next(ctx context.Context, after time.Time) (time.Time, error) {
	loc := p.location(ctx)
	next, err := gronx.NextTickAfter(p.cron, after.In(loc), false)
	if err != nil {
		return time.Time{}, fmt.Errorf("расчёт следующего тика: %w", err)
	}
	return next, nil
}

// Fire ставит задачу для тика. Возвращает false, если тик уже взят другой репликой.
func (p *Planner) Fire(ctx context.Context, tick time.Time) (bool, error) {
	key := "digest:tick:" + tick.UTC().Format(time.RFC3339)
	return p.lock.Once(ctx, key, p.lockTTL, func() error {
		job := domain.DigestJob{
			ID:          uuid.NewString(),
			ScheduledAt: tick.UTC(),
			RequestedAt: p.clock.Now().UTC(),
			Cause:       domain.DigestCauseScheduled,
		}
		if err := p.queue.Enqueue(ctx, job); err != nil {
			return fmt.Errorf("постановка задачи: %w", err)
		}
		p.log.Info().Str("job", job.ID).Time("tick", tick).Msg("scheduler: задача поставлена")
		return nil
	})
}

// Run ждёт тики до отмены контекста.
func (p *Planner) Run(ctx context.Context) error {
	for {
		next, err := p.Next(ctx, p.clock.Now())
		if err != nil {
			p.log.Error().Err(err).Msg("scheduler: ошибка расписания")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(30 * time.Second):
			}
			continue
		}
		wait := next.Sub(p.clock.Now())
		p.log.Debug().Time("next", next).Dur("wait", wait).Msg("scheduler: ждём тик")
		timer := time.NewTimer(max(wait, 0))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		taken, err := p.Fire(ctx, next)
		if err != nil {
			p.log.Error().Err(err).Time("tick", next).Msg("scheduler: не удалось поставить задачу")
			continue
		}
		if !taken {
			p.log.Debug().Time("tick", next).Msg("scheduler: тик обработан другой репликой")
		}
	}
}
