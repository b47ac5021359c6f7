package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"liuyan-board/internal/domain"
	"liuyan-board/internal/infra/metrics"
)

// MaxAttempts — сколько раз задача возвращается в очередь после неудачной обработки.
const MaxAttempts = 3

var _ domain.DigestQueue = (*RedisDigestQueue)(nil)

// RedisDigestQueue реализует очередь задач на базе Redis lists.
type RedisDigestQueue struct {
	client  *redis.Client
	key     string
	timeout time.Duration
}

// NewRedisDigestQueue создаёт очередь по указанному ключу.
func NewRedisDigestQueue(client *redis.Client, key string) *RedisDigestQueue {
	return &RedisDigestQueue{client: client, key: key, timeout: time.Second}
}

// Enqueue публикует задачу в очередь.
func (q *RedisDigestQueue) Enqueue(ctx context.Context, job domain.DigestJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	start := time.Now()
	err = q.client.LPush(ctx, q.key, payload).Err()
	metrics.ObserveNetworkRequest("redis_queue", "push", q.key, start, err)
	if err != nil {
		return fmt.Errorf("push job: %w", err)
	}
	return nil
}

// Receive блокирующе читает задачу. Подтверждение с success=false возвращает задачу в очередь,
// пока не исчерпан лимит попыток.
func (q *RedisDigestQueue) Receive(ctx context.Context) (domain.DigestJob, domain.DigestAckFunc, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.DigestJob{}, nil, err
		}

		res, err := q.client.BRPop(ctx, q.timeout, q.key).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				if ctx.Err() != nil {
					return domain.DigestJob{}, nil, ctx.Err()
				}
				continue
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			return domain.DigestJob{}, nil, err
		}
		if len(res) != 2 {
			return domain.DigestJob{}, nil, errors.New("redis queue: unexpected response")
		}
		var job domain.DigestJob
		if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
			return domain.DigestJob{}, nil, fmt.Errorf("decode job: %w", err)
		}
		return job, q.ack(job), nil
	}
}

func (q *RedisDigestQueue) ack(job domain.DigestJob) domain.DigestAckFunc {
	return func(success bool) error {
		if success {
			return nil
		}
		next, ok := Retry(job)
		if !ok {
			return nil
		}
		return q.Enqueue(context.Background(), next)
	}
}

// Retry возвращает задачу со следующим номером попытки; false, если попытки исчерпаны.
func Retry(job domain.DigestJob) (domain.DigestJob, bool) {
	if job.Attempt+1 >= MaxAttempts {
		return job, false
	}
	job.Attempt++
	return job, true
}
