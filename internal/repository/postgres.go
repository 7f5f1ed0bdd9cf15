package repository

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse db dsn: %w", err)
	}

	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.MaxConnIdleTime = 5 * time.Minute
	cfg.HealthCheckPeriod = 1 * time.Minute

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pg pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	return pool, nil
}

// Схема без FK на deliveries.recipient_id и messages.channel_id:
// история доставок переживает удаление подписчика/канала.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS channels (
		id      BIGSERIAL PRIMARY KEY,
		name    TEXT NOT NULL,
		created TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp()
	)`,
	`CREATE TABLE IF NOT EXISTS subscribers (
		id         BIGSERIAL PRIMARY KEY,
		channel_id BIGINT NOT NULL REFERENCES channels(id),
		name       TEXT NOT NULL,
		resource   TEXT NOT NULL,
		created    TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp()
	)`,
	`CREATE INDEX IF NOT EXISTS channels_created_idx ON channels (created)`,
	`CREATE INDEX IF NOT EXISTS subscribers_channel_idx ON subscribers (channel_id, created DESC)`,
	`CREATE INDEX IF NOT EXISTS subscribers_created_idx ON subscribers (created)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id           TEXT PRIMARY KEY,
		channel_id   BIGINT NOT NULL,
		content_type TEXT NOT NULL DEFAULT '',
		body         BYTEA NOT NULL,
		created      TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp()
	)`,
	`CREATE INDEX IF NOT EXISTS messages_channel_idx ON messages (channel_id, created DESC)`,
	`CREATE TABLE IF NOT EXISTS deliveries (
		id               UUID PRIMARY KEY,
		message_id       TEXT NOT NULL,
		recipient_id     BIGINT NOT NULL,
		status           TEXT NOT NULL DEFAULT 'pending',
		attempts         INT NOT NULL DEFAULT 0,
		last_attempt     TIMESTAMPTZ,
		next_attempt     TIMESTAMPTZ,
		last_error       TEXT,
		last_status_code INT,
		created          TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp()
	)`,
	`CREATE INDEX IF NOT EXISTS deliveries_message_idx ON deliveries (message_id)`,
	`CREATE INDEX IF NOT EXISTS deliveries_recipient_status_idx ON deliveries (recipient_id, status)`,
	`CREATE INDEX IF NOT EXISTS deliveries_due_idx ON deliveries (next_attempt) WHERE status = 'pending'`,
}

// Migrate применяет схему; все выражения идемпотентны.
func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	for i, stmt := range schema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate step %d: %w", i, err)
		}
	}
	return nil
}

// createWithLock резервирует id из sequence таблицы и вызывает insert в той же
// транзакции под advisory-локом таблицы. Создания сериализованы, поэтому
// id и created растут в одном порядке.
func createWithLock(ctx context.Context, db *pgxpool.Pool, table string, insert func(tx pgx.Tx, id int64) error) error {
	tx, err := db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create %s: %w", table, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext('coffeeshop'), hashtext($1))`, table); err != nil {
		return fmt.Errorf("lock %s: %w", table, err)
	}

	var id int64
	if err := tx.QueryRow(ctx, `SELECT nextval(pg_get_serial_sequence($1, 'id'))`, table).Scan(&id); err != nil {
		return fmt.Errorf("reserve %s id: %w", table, err)
	}

	if err := insert(tx, id); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit create %s: %w", table, err)
	}
	return nil
}

// createdNow - clock_timestamp(), но не раньше последнего created таблицы.
func createdNow(table string) sq.Sqlizer {
	return sq.Expr(fmt.Sprintf(
		"GREATEST(clock_timestamp(), COALESCE((SELECT max(created) FROM %s), '-infinity'::timestamptz))",
		table,
	))
}
