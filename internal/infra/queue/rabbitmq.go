package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"liuyan-board/internal/domain"
	"liuyan-board/internal/infra/metrics"
)

var _ domain.DigestQueue = (*RabbitDigestQueue)(nil)

// RabbitDigestQueue реализует очередь задач поверх AMQP.
type RabbitDigestQueue struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string

	mu         sync.Mutex
	deliveries <-chan amqp.Delivery
}

// NewRabbitDigestQueue подключается к брокеру и объявляет устойчивую очередь.
func NewRabbitDigestQueue(amqpURL, queue string) (*RabbitDigestQueue, error) {
	if amqpURL == "" {
		return nil, errors.New("amqp url is empty")
	}
	if queue == "" {
		return nil, errors.New("queue name is empty")
	}
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}
	return &RabbitDigestQueue{conn: conn, ch: ch, queue: queue}, nil
}

// Close закрывает канал и соединение.
func (q *RabbitDigestQueue) Close() error {
	_ = q.ch.Close()
	return q.conn.Close()
}

// Enqueue публикует задачу в очередь.
func (q *RabbitDigestQueue) Enqueue(ctx context.Context, job domain.DigestJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	start := time.Now()
	err = q.ch.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    job.ID,
		Timestamp:    job.RequestedAt,
		Body:         payload,
	})
	metrics.ObserveNetworkRequest("rabbitmq", "publish", q.queue, start, err)
	if err != nil {
		return fmt.Errorf("publish job: %w", err)
	}
	return nil
}

// Receive ждёт следующую задачу. Неудачная обработка публикует задачу заново
// с увеличенным номером попытки, исходное сообщение подтверждается.
func (q *RabbitDigestQueue) Receive(ctx context.Context) (domain.DigestJob, domain.DigestAckFunc, error) {
	deliveries, err := q.consume()
	if err != nil {
		return domain.DigestJob{}, nil, err
	}
	for {
		select {
		case <-ctx.Done():
			return domain.DigestJob{}, nil, ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return domain.DigestJob{}, nil, errors.New("rabbitmq: delivery channel closed")
			}
			var job domain.DigestJob
			if err := json.Unmarshal(d.Body, &job); err != nil {
				_ = d.Nack(false, false)
				continue
			}
			return job, q.ack(d, job), nil
		}
	}
}

func (q *RabbitDigestQueue) consume() (<-chan amqp.Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.deliveries != nil {
		return q.deliveries, nil
	}
	start := time.Now()
	deliveries, err := q.ch.Consume(q.queue, "", false, false, false, false, nil)
	metrics.ObserveNetworkRequest("rabbitmq", "consume", q.queue, start, err)
	if err != nil {
		return nil, fmt.Errorf("consume: %w", err)
	}
	q.deliveries = deliveries
	return deliveries, nil
}

func (q *RabbitDigestQueue) ack(d amqp.Delivery, job domain.DigestJob) domain.DigestAckFunc {
	return func(success bool) error {
		if !success {
			if next, ok := Retry(job); ok {
				if err := q.Enqueue(context.Background(), next); err != nil {
					return d.Nack(false, true)
				}
			}
		}
		return d.Ack(false)
	}
}
