package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"liuyan-board/internal/domain"
	"liuyan-board/internal/infra/metrics"
)

// HTTP отправляет дайджест POST-запросом с JSON-телом и Bearer-токеном.
type HTTP struct {
	httpClient *http.Client
}

var _ domain.Notifier = (*HTTP)(nil)

// Option настраивает исходящие каналы.
type Option func(*http.Client)

// WithHTTPClient подменяет транспорт клиента.
func WithHTTPClient(client *http.Client) Option {
	return func(c *http.Client) {
		if client != nil {
			*c = *client
		}
	}
}

// WithTimeout задаёт верхнюю границу одного запроса.
func WithTimeout(timeout time.Duration) Option {
	return func(c *http.Client) {
		c.Timeout = timeout
	}
}

func newClient(opts []Option) *http.Client {
	client := &http.Client{Timeout: 10 * time.Second}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// NewHTTP создаёт канал доставки по HTTP.
func NewHTTP(opts ...Option) *HTTP {
	return &HTTP{httpClient: newClient(opts)}
}

// Send реализует domain.Notifier. Успехом считается любой ответ 2xx.
func (h *HTTP) Send(ctx context.Context, target domain.DeliveryTarget, payload domain.DigestPayload) (receipt domain.DeliveryReceipt, err error) {
	host := "unknown"
	start := time.Now()
	defer func() {
		metrics.ObserveNetworkRequest("notifier", "http_send", host, start, err)
	}()

	endpoint, err := url.Parse(target.Endpoint)
	if err != nil || endpoint.Host == "" {
		return domain.DeliveryReceipt{}, fmt.Errorf("некорректный адрес %q", target.Endpoint)
	}
	host = endpoint.Host

	body, err := json.Marshal(payload)
	if err != nil {
		return domain.DeliveryReceipt{}, fmt.Errorf("encode payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return domain.DeliveryReceipt{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if target.Token != "" {
		req.Header.Set("Authorization", "Bearer "+target.Token)
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return domain.DeliveryReceipt{}, err
	}
	defer resp.Body.Close()

	receipt = domain.DeliveryReceipt{OK: resp.StatusCode >= 200 && resp.StatusCode < 300, StatusCode: resp.StatusCode}
	if receipt.OK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return receipt, nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
	msg := strings.TrimSpace(string(snippet))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return receipt, fmt.Errorf("API returned %d: %s", resp.StatusCode, msg)
}
