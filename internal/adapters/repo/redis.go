package repo

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"liuyan-board/internal/domain"
	"liuyan-board/internal/infra/metrics"
)

// Redis реализует domain.EntityStore: одна хеш-таблица на коллекцию.
type Redis struct {
	client *redis.Client
	prefix string
}

var _ domain.EntityStore = (*Redis)(nil)

// NewRedis создаёт хранилище с префиксом ключей.
func NewRedis(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = "board"
	}
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) key(kind domain.Kind) string {
	return r.prefix + ":" + string(kind)
}

// Get реализует domain.EntityStore.
func (r *Redis) Get(ctx context.Context, kind domain.Kind, id string) ([]byte, error) {
	start := time.Now()
	data, err := r.client.HGet(ctx, r.key(kind), id).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.ObserveNetworkRequest("redis", "hget", string(kind), start, nil)
		return nil, domain.ErrNotFound
	}
	metrics.ObserveNetworkRequest("redis", "hget", string(kind), start, err)
	return data, err
}

// Put реализует domain.EntityStore.
func (r *Redis) Put(ctx context.Context, kind domain.Kind, id string, data []byte) error {
	start := time.Now()
	err := r.client.HSet(ctx, r.key(kind), id, data).Err()
	metrics.ObserveNetworkRequest("redis", "hset", string(kind), start, err)
	return err
}

// Delete реализует domain.EntityStore.
func (r *Redis) Delete(ctx context.Context, kind domain.Kind, id string) error {
	start := time.Now()
	err := r.client.HDel(ctx, r.key(kind), id).Err()
	metrics.ObserveNetworkRequest("redis", "hdel", string(kind), start, err)
	return err
}

// List реализует domain.EntityStore.
func (r *Redis) List(ctx context.Context, kind domain.Kind) ([]domain.Record, error) {
	start := time.Now()
	all, err := r.client.HGetAll(ctx, r.key(kind)).Result()
	metrics.ObserveNetworkRequest("redis", "hgetall", string(kind), start, err)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Record, 0, len(all))
	for id, data := range all {
		out = append(out, domain.Record{ID: id, Data: []byte(data)})
	}
	return out, nil
}

// EnsureSeeded реализует domain.EntityStore. Маркер посева ставится через SETNX,
// поэтому при гонке нескольких процессов посев выполнит только один. Если запись не удалась,
// маркер снимается, чтобы посев можно было повторить.
func (r *Redis) EnsureSeeded(ctx context.Context, kind domain.Kind, seed []domain.Record) error {
	start := time.Now()
	n, err := r.client.HLen(ctx, r.key(kind)).Result()
	metrics.ObserveNetworkRequest("redis", "hlen", string(kind), start, err)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	ok, err := r.client.SetNX(ctx, r.key(kind)+":seeded", "1", 0).Result()
	if err != nil || !ok {
		return err
	}
	if len(seed) == 0 {
		return nil
	}
	values := make(map[string]any, len(seed))
	for _, rec := range seed {
		values[rec.ID] = rec.Data
	}
	start = time.Now()
	err = r.client.HSet(ctx, r.key(kind), values).Err()
	metrics.ObserveNetworkRequest("redis", "hset", string(kind), start, err)
	if err != nil {
		_ = r.client.Del(context.WithoutCancel(ctx), r.key(kind)+":seeded").Err()
		return err
	}
	return nil
}
