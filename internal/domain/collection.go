package domain

import (
	"context"
	"encoding/json"
	"fmt"
)

// Collection — типизированная обёртка над EntityStore для одной коллекции.
type Collection[T any] struct {
	store EntityStore
	kind  Kind
}

// NewCollection создаёт коллекцию указанного типа.
func NewCollection[T any](store EntityStore, kind Kind) Collection[T] {
	return Collection[T]{store: store, kind: kind}
}

// Get читает запись. Отсутствие записи возвращается как ErrNotFound.
func (c Collection[T]) Get(ctx context.Context, id string) (T, error) {
	var v T
	raw, err := c.store.Get(ctx, c.kind, id)
	if err != nil {
		return v, err
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("decode %s %s: %w", c.kind, id, err)
	}
	return v, nil
}

// Put сохраняет запись.
func (c Collection[T]) Put(ctx context.Context, id string, v T) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s %s: %w", c.kind, id, err)
	}
	return c.store.Put(ctx, c.kind, id, raw)
}

// Delete удаляет запись.
func (c Collection[T]) Delete(ctx context.Context, id string) error {
	return c.store.Delete(ctx, c.kind, id)
}

// List возвращает все записи коллекции.
func (c Collection[T]) List(ctx context.Context) ([]T, error) {
	records, err := c.store.List(ctx, c.kind)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(records))
	for _, rec := range records {
		var v T
		if err := json.Unmarshal(rec.Data, &v); err != nil {
			return nil, fmt.Errorf("decode %s %s: %w", c.kind, rec.ID, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// EnsureSeeded заполняет коллекцию начальными данными, если она пуста.
func (c Collection[T]) EnsureSeeded(ctx context.Context, seed map[string]T) error {
	records := make([]Record, 0, len(seed))
	for id, v := range seed {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode seed %s %s: %w", c.kind, id, err)
		}
		records = append(records, Record{ID: id, Data: raw})
	}
	return c.store.EnsureSeeded(ctx, c.kind, records)
}
