package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Connect создаёт клиента Redis и проверяет соединение.
func Connect(ctx context.Context, addr string) (*redis.Client, error) {
	if addr == "" {
		return nil, fmt.Errorf("не задан REDIS_ADDR")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// RedisCache — простые TTL-операции поверх Redis.
type RedisCache struct {
	client *redis.Client
}

// NewRedis создаёт кэш.
func NewRedis(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Once выполняет функцию, если ключ ещё не задан. При ошибке ключ снимается, чтобы можно было повторить.
func (c *RedisCache) Once(ctx context.Context, key string, ttl time.Duration, fn func() error) (bool, error) {
	ok, err := c.client.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	if err := fn(); err != nil {
		_ = c.client.Del(ctx, key).Err()
		return true, err
	}
	return true, nil
}

// Local — Once внутри одного процесса, когда Redis не настроен.
type Local struct {
	mu   sync.Mutex
	keys map[string]time.Time
}

// NewLocal создаёт локальную блокировку.
func NewLocal() *Local {
	return &Local{keys: make(map[string]time.Time)}
}

// Once повторяет семантику RedisCache.Once в пределах процесса.
func (l *Local) Once(_ context.Context, key string, ttl time.Duration, fn func() error) (bool, error) {
	l.mu.Lock()
	now := time.Now()
	if exp, ok := l.keys[key]; ok && now.Before(exp) {
		l.mu.Unlock()
		return false, nil
	}
	l.keys[key] = now.Add(ttl)
	l.mu.Unlock()

	if err := fn(); err != nil {
		l.mu.Lock()
		delete(l.keys, key)
		l.mu.Unlock()
		return true, err
	}
	return true, nil
}
