package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"liuyan-board/internal/domain"
	"liuyan-board/internal/infra/metrics"
)

const entitiesSchema = `
CREATE TABLE IF NOT EXISTS entities (
	kind       TEXT        NOT NULL,
	id         TEXT        NOT NULL,
	data       JSONB       NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (kind, id)
)`

// Postgres реализует domain.EntityStore на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ domain.EntityStore = (*Postgres)(nil)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

// EnsureSchema создаёт таблицу сущностей, если её нет.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	_, err := p.pool.Exec(ctx, entitiesSchema)
	metrics.ObserveNetworkRequest("postgres", "ensure_schema", "entities", start, err)
	if err != nil {
		return fmt.Errorf("создание схемы: %w", err)
	}
	return nil
}

// Get реализует domain.EntityStore.
func (p *Postgres) Get(ctx context.Context, kind domain.Kind, id string) ([]byte, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	var data []byte
	start := time.Now()
	err := p.pool.QueryRow(ctx, `SELECT data FROM entities WHERE kind = $1 AND id = $2`, string(kind), id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		metrics.ObserveNetworkRequest("postgres", "entities_get", string(kind), start, nil)
		return nil, domain.ErrNotFound
	}
	metrics.ObserveNetworkRequest("postgres", "entities_get", string(kind), start, err)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Put реализует domain.EntityStore.
func (p *Postgres) Put(ctx context.Context, kind domain.Kind, id string, data []byte) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO entities (kind, id, data)
VALUES ($1, $2, $3)
ON CONFLICT (kind, id) DO UPDATE SET data = EXCLUDED.data, updated_at = now()
`, string(kind), id, data)
	metrics.ObserveNetworkRequest("postgres", "entities_put", string(kind), start, err)
	return err
}

// Delete реализует domain.EntityStore.
func (p *Postgres) Delete(ctx context.Context, kind domain.Kind, id string) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	_, err := p.pool.Exec(ctx, `DELETE FROM entities WHERE kind = $1 AND id = $2`, string(kind), id)
	metrics.ObserveNetworkRequest("postgres", "entities_delete", string(kind), start, err)
	return err
}

// List реализует domain.EntityStore.
func (p *Postgres) List(ctx context.Context, kind domain.Kind) ([]domain.Record, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	rows, err := p.pool.Query(ctx, `SELECT id, data FROM entities WHERE kind = $1 ORDER BY created_at`, string(kind))
	metrics.ObserveNetworkRequest("postgres", "entities_list", string(kind), start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Record
	for rows.Next() {
		var rec domain.Record
		if err := rows.Scan(&rec.ID, &rec.Data); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// EnsureSeeded реализует domain.EntityStore. Проверка пустоты и вставка выполняются в одной транзакции
// под advisory-блокировкой по имени коллекции.
func (p *Postgres) EnsureSeeded(ctx context.Context, kind domain.Kind, seed []domain.Record) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "entities", start, err)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "seed:"+string(kind)); err != nil {
		return fmt.Errorf("блокировка посева: %w", err)
	}
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM entities WHERE kind = $1)`, string(kind)).Scan(&exists); err != nil {
		return fmt.Errorf("проверка коллекции: %w", err)
	}
	if exists {
		return nil
	}
	for _, rec := range seed {
		if _, err := tx.Exec(ctx, `
INSERT INTO entities (kind, id, data) VALUES ($1, $2, $3)
ON CONFLICT (kind, id) DO NOTHING
`, string(kind), rec.ID, rec.Data); err != nil {
			return fmt.Errorf("посев %s: %w", rec.ID, err)
		}
	}
	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit", "entities", start, err)
	return err
}
