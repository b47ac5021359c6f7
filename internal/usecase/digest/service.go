package digest

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog"

	"liuyan-board/internal/domain"
	"liuyan-board/internal/infra/metrics"
	"liuyan-board/internal/usecase/schedule"
)

// StatusNothingNew — ответ, когда после последней отправки ничего не появилось.
const StatusNothingNew = "No new messages to send."

// SettingsStore читает и сохраняет настройки доставки.
type SettingsStore interface {
	Get(ctx context.Context) (domain.Settings, error)
	Save(ctx context.Context, st domain.Settings) error
}

// Options задаёт политику повторов доставки.
type Options struct {
	MaxAttempts int
	RetryDelay  time.Duration
	// Timeout ограничивает одну попытку обращения к каналу.
	Timeout time.Duration
}

// DefaultOptions возвращает две попытки с паузой в секунду.
func DefaultOptions() Options {
	return Options{MaxAttempts: 2, RetryDelay: time.Second, Timeout: 10 * time.Second}
}

// Budget — наихудшее время доставки: все попытки по Timeout и паузы между ними.
func (o Options) Budget() time.Duration {
	attempts := max(o.MaxAttempts, 1)
	return time.Duration(attempts)*o.Timeout + time.Duration(attempts-1)*o.RetryDelay
}

// Result — отчёт о вызове SendDigest.
type Result struct {
	Status    string `json:"status"`
	SentCount int    `json:"sentCount"`
}

// Batcher собирает новые записи в дайджест и отправляет их получателю.
type Batcher struct {
	settings  SettingsStore
	messages  domain.Collection[domain.Message]
	replies   domain.Collection[domain.Reply]
	likes     domain.Collection[domain.Like]
	notifiers map[domain.Provider]domain.Notifier
	clock     domain.Clock
	fallback  *time.Location
	opts      Options
	log       zerolog.Logger
}

// NewBatcher создаёт сервис дайджестов. notifiers сопоставляет провайдеру исходящий канал,
// провайдер mock канала не требует.
func NewBatcher(store domain.EntityStore, settings SettingsStore, notifiers map[domain.Provider]domain.Notifier, clock domain.Clock, fallback *time.Location, opts Options, log zerolog.Logger) *Batcher {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	if fallback == nil {
		fallback = time.UTC
	}
	return &Batcher{
		settings:  settings,
		messages:  domain.NewCollection[domain.Message](store, domain.KindMessage),
		replies:   domain.NewCollection[domain.Reply](store, domain.KindReply),
		likes:     domain.NewCollection[domain.Like](store, domain.KindLike),
		notifiers: notifiers,
		clock:     clock,
		fallback:  fallback,
		opts:      opts,
		log:       log,
	}
}

// SendDigest отправляет записи новее водяной отметки. Ошибка доставки не возвращается вызывающему,
// она попадает в журнал отправок, а отметка в этом случае не сдвигается.
func (b *Batcher) SendDigest(ctx context.Context) (Result, error) {
	st, err := b.settings.Get(ctx)
	if err != nil {
		return Result{}, err
	}
	if st.Recipient == "" {
		return Result{}, domain.ErrNotConfigured
	}

	now := b.clock.Now()
	batch, err := b.collect(ctx, st.LastSentTS)
	if err != nil {
		return Result{}, err
	}
	if batch.Empty() {
		return Result{Status: StatusNothingNew, SentCount: 0}, nil
	}

	started := time.Now()
	status, snippet := b.deliver(ctx, st, batch, now)
	metrics.ObserveDigest(string(st.Provider), string(status), time.Since(started))

	// Запись журнала не зависит от того, дождался ли вызывающий.
	if err := b.record(context.WithoutCancel(ctx), now, batch, status, snippet); err != nil {
		return Result{}, err
	}
	b.log.Info().
		Str("provider", string(st.Provider)).
		Str("status", string(status)).
		Int("messages", len(batch.Messages)).
		Int("replies", len(batch.Replies)).
		Int("likes", len(batch.Likes)).
		Msg("digest: попытка отправки завершена")
	return Result{Status: snippet, SentCount: len(batch.Messages)}, nil
}

func (b *Batcher) collect(ctx context.Context, watermark int64) (Batch, error) {
	messages, err := b.messages.List(ctx)
	if err != nil {
		return Batch{}, fmt.Errorf("чтение сообщений: %w", err)
	}
	replies, err := b.replies.List(ctx)
	if err != nil {
		return Batch{}, fmt.Errorf("чтение ответов: %w", err)
	}
	likes, err := b.likes.List(ctx)
	if err != nil {
		return Batch{}, fmt.Errorf("чтение лайков: %w", err)
	}
	batch := Batch{
		Messages: slices.DeleteFunc(messages, func(m domain.Message) bool { return m.TS <= watermark }),
		Replies:  slices.DeleteFunc(replies, func(r domain.Reply) bool { return r.TS <= watermark }),
		Likes:    slices.DeleteFunc(likes, func(l domain.Like) bool { return l.TS <= watermark }),
	}
	slices.SortStableFunc(batch.Messages, func(a, c domain.Message) int {
		return cmp.Or(cmp.Compare(a.TS, c.TS), cmp.Compare(a.ID, c.ID))
	})
	return batch, nil
}

func (b *Batcher) deliver(ctx context.Context, st domain.Settings, batch Batch, now time.Time) (domain.SendStatus, string) {
	if st.Provider == domain.ProviderMock || st.Provider == "" {
		return domain.SendStatusSuccess, mockSummary(batch)
	}
	notifier, ok := b.notifiers[st.Provider]
	if !ok {
		return domain.SendStatusFailure, fmt.Sprintf("provider %s is not available", st.Provider)
	}

	loc := schedule.Location(st.Timezone, b.fallback)
	target := domain.DeliveryTarget{Endpoint: st.APIURL, Token: st.APIKey, Recipient: st.Recipient}
	payload := domain.DigestPayload{
		To:      st.Recipient,
		Subject: Subject(now, loc),
		Text:    FormatPlain(batch, loc),
		HTML:    FormatHTML(batch, loc),
	}
	if st.Provider == domain.ProviderTelegram {
		payload.HTML = FormatTelegram(batch, loc)
	}

	var lastErr error
	for attempt := 1; attempt <= b.opts.MaxAttempts; attempt++ {
		receipt, err := b.attempt(ctx, notifier, target, payload)
		if err == nil && receipt.OK {
			return domain.SendStatusSuccess, truncate(fmt.Sprintf("%s send success: %d", providerLabel(st.Provider), receipt.StatusCode))
		}
		if err == nil {
			err = fmt.Errorf("API returned %d", receipt.StatusCode)
		}
		lastErr = fmt.Errorf("%s send failed (attempt %d): %w", providerLabel(st.Provider), attempt, err)
		b.log.Warn().Err(err).Int("attempt", attempt).Str("provider", string(st.Provider)).Msg("digest: попытка доставки не удалась")
		if attempt < b.opts.MaxAttempts {
			if err := sleep(ctx, b.opts.RetryDelay); err != nil {
				lastErr = fmt.Errorf("%s send cancelled: %w", providerLabel(st.Provider), err)
				break
			}
		}
	}
	b.log.Error().Err(fmt.Errorf("%w: %w", domain.ErrDeliveryFailed, lastErr)).Msg("digest: дайджест не доставлен")
	return domain.SendStatusFailure, truncate(lastErr.Error())
}

func (b *Batcher) attempt(ctx context.Context, notifier domain.Notifier, target domain.DeliveryTarget, payload domain.DigestPayload) (domain.DeliveryReceipt, error) {
	if b.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.opts.Timeout)
		defer cancel()
	}
	return notifier.Send(ctx, target, payload)
}

// record дописывает журнал и сдвигает отметку. Настройки перечитываются, чтобы не затереть
// изменения, сделанные во время доставки.
func (b *Batcher) record(ctx context.Context, now time.Time, batch Batch, status domain.SendStatus, snippet string) error {
	st, err := b.settings.Get(ctx)
	if err != nil {
		return err
	}
	if status == domain.SendStatusSuccess {
		st.LastSentTS = now.UnixMilli()
	}
	entry := domain.SendLog{
		TS:              now.UnixMilli(),
		MessageCount:    len(batch.Messages),
		ReplyCount:      len(batch.Replies),
		LikeCount:       len(batch.Likes),
		Status:          status,
		ResponseSnippet: snippet,
	}
	st.SendLogs = append([]domain.SendLog{entry}, st.SendLogs...)
	if len(st.SendLogs) > domain.MaxSendLogs {
		st.SendLogs = st.SendLogs[:domain.MaxSendLogs]
	}
	return b.settings.Save(ctx, st)
}

func providerLabel(p domain.Provider) string {
	switch p {
	case domain.ProviderHTTP:
		return "HTTP"
	case domain.ProviderTelegram:
		return "Telegram"
	}
	return string(p)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// IsNotConfigured сообщает, что дайджест некому отправлять.
func IsNotConfigured(err error) bool {
	return errors.Is(err, domain.ErrNotConfigured)
}
