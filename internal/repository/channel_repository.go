package repository

import (
	"context"
	"errors"
	"fmt"

	"coffeeshop/internal/models"
	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ChannelRepository struct {
	db *pgxpool.Pool
	sb sq.StatementBuilderType
}

func NewChannelRepository(db *pgxpool.Pool) *ChannelRepository {
	return &ChannelRepository{
		db: db,
		sb: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// CreateChannel - id, имя и created в одной транзакции под локом таблицы.
func (r *ChannelRepository) CreateChannel(ctx context.Context, build func(id int64) *models.Channel) (*models.Channel, error) {
	var ch *models.Channel
	err := createWithLock(ctx, r.db, "channels", func(tx pgx.Tx, id int64) error {
		ch = build(id)
		if ch == nil {
			return fmt.Errorf("channel is nil")
		}
		ch.ID = id

		q := r.sb.
			Insert("channels").
			Columns("id", "name", "created").
			Values(ch.ID, ch.Name, createdNow("channels")).
			Suffix("RETURNING created")

		sqlStr, args, err := q.ToSql()
		if err != nil {
			return fmt.Errorf("build create channel sql: %w", err)
		}
		if err := tx.QueryRow(ctx, sqlStr, args...).Scan(&ch.Created); err != nil {
			return fmt.Errorf("create channel: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func (r *ChannelRepository) GetChannel(ctx context.Context, id int64) (*models.Channel, error) {
	q := r.sb.
		Select("id", "name", "created").
		From("channels").
		Where(sq.Eq{"id": id}).
		Limit(1)

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get channel sql: %w", err)
	}

	var ch models.Channel
	err = r.db.QueryRow(ctx, sqlStr, args...).Scan(&ch.ID, &ch.Name, &ch.Created)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get channel: %w", err)
	}
	return &ch, nil
}

func (r *ChannelRepository) ListChannels(ctx context.Context) ([]*models.Channel, error) {
	q := r.sb.
		Select("id", "name", "created").
		From("channels").
		OrderBy("created DESC", "id DESC")

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list channels sql: %w", err)
	}

	rows, err := r.db.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("query channels: %w", err)
	}
	defer rows.Close()

	res := make([]*models.Channel, 0)
	for rows.Next() {
		var ch models.Channel
		if err := rows.Scan(&ch.ID, &ch.Name, &ch.Created); err != nil {
			return nil, fmt.Errorf("scan channel row: %w", err)
		}
		res = append(res, &ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate channel rows: %w", err)
	}
	return res, nil
}

func (r *ChannelRepository) DeleteChannel(ctx context.Context, id int64) error {
	sqlStr, args, err := r.sb.Delete("channels").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("build delete channel sql: %w", err)
	}

	tag, err := r.db.Exec(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("delete channel: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
