package notifier

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"liuyan-board/internal/domain"
	"liuyan-board/internal/infra/metrics"
)

// Telegram отправляет дайджест через Bot API. Token — токен бота, Recipient — идентификатор чата.
// Частично доставленный дайджест повторно отправляется с первой недоставленной части.
type Telegram struct {
	httpClient  *http.Client
	apiEndpoint string

	mu       sync.Mutex
	progress map[string]partialSend
}

// partialSend — сколько частей дайджеста уже дошло до чата.
type partialSend struct {
	sent int
	at   time.Time
}

// progressTTL ограничивает, сколько помнится незавершённая отправка.
const progressTTL = time.Hour

var _ domain.Notifier = (*Telegram)(nil)

// NewTelegram создаёт канал доставки в Telegram. Пустой apiEndpoint означает публичный Bot API.
func NewTelegram(apiEndpoint string, opts ...Option) *Telegram {
	if apiEndpoint == "" {
		apiEndpoint = tgbotapi.APIEndpoint
	}
	return &Telegram{httpClient: newClient(opts), apiEndpoint: apiEndpoint, progress: map[string]partialSend{}}
}

func progressKey(token string, chatID int64, text string) string {
	sum := sha256.Sum256([]byte(token + "\x00" + strconv.FormatInt(chatID, 10) + "\x00" + text))
	return hex.EncodeToString(sum[:])
}

// resumeFrom возвращает число уже доставленных частей и забывает устаревшие записи.
func (t *Telegram) resumeFrom(key string, now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k, p := range t.progress {
		if now.Sub(p.at) > progressTTL {
			delete(t.progress, k)
		}
	}
	return t.progress[key].sent
}

func (t *Telegram) remember(key string, sent int, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if sent == 0 {
		delete(t.progress, key)
		return
	}
	t.progress[key] = partialSend{sent: sent, at: now}
}

// contextClient привязывает запросы библиотеки к контексту попытки.
type contextClient struct {
	ctx    context.Context
	client *http.Client
}

func (c contextClient) Do(req *http.Request) (*http.Response, error) {
	return c.client.Do(req.WithContext(c.ctx))
}

// Send реализует domain.Notifier. Длинный дайджест уходит несколькими сообщениями.
func (t *Telegram) Send(ctx context.Context, target domain.DeliveryTarget, payload domain.DigestPayload) (receipt domain.DeliveryReceipt, err error) {
	start := time.Now()
	defer func() {
		metrics.ObserveNetworkRequest("notifier", "telegram_send", "telegram", start, err)
	}()

	if target.Token == "" {
		return domain.DeliveryReceipt{}, errors.New("не задан токен бота")
	}
	chatID, err := strconv.ParseInt(strings.TrimSpace(target.Recipient), 10, 64)
	if err != nil {
		return domain.DeliveryReceipt{}, fmt.Errorf("некорректный chat id %q", target.Recipient)
	}

	bot := &tgbotapi.BotAPI{
		Token:  target.Token,
		Client: contextClient{ctx: ctx, client: t.httpClient},
		Buffer: 100,
	}
	bot.SetAPIEndpoint(t.apiEndpoint)

	text := payload.HTML
	if strings.TrimSpace(text) == "" {
		text = payload.Text
	}
	parts := splitMessage(text, telegramLimit)
	key := progressKey(target.Token, chatID, text)
	sent := t.resumeFrom(key, time.Now())
	if sent >= len(parts) {
		sent = 0
	}
	for i := sent; i < len(parts); i++ {
		if err := ctx.Err(); err != nil {
			t.remember(key, i, time.Now())
			return domain.DeliveryReceipt{}, err
		}
		msg := tgbotapi.NewMessage(chatID, parts[i])
		msg.ParseMode = tgbotapi.ModeHTML
		msg.DisableWebPagePreview = true
		if _, err := bot.Send(msg); err != nil {
			t.remember(key, i, time.Now())
			var apiErr *tgbotapi.Error
			if errors.As(err, &apiErr) {
				return domain.DeliveryReceipt{StatusCode: apiErr.Code}, fmt.Errorf("telegram: %s", apiErr.Message)
			}
			return domain.DeliveryReceipt{}, err
		}
	}
	t.remember(key, 0, time.Now())
	return domain.DeliveryReceipt{OK: true, StatusCode: http.StatusOK}, nil
}
