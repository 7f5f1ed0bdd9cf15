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

type SubscriberRepository struct {
	db *pgxpool.Pool
	sb sq.StatementBuilderType
}

func NewSubscriberRepository(db *pgxpool.Pool) *SubscriberRepository {
	return &SubscriberRepository{
		db: db,
		sb: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

var subscriberColumns = []string{"id", "channel_id", "name", "resource", "created"}

func (r *SubscriberRepository) CreateSubscriber(ctx context.Context, build func(id int64) *models.Subscriber) (*models.Subscriber, error) {
	var sub *models.Subscriber
	err := createWithLock(ctx, r.db, "subscribers", func(tx pgx.Tx, id int64) error {
		sub = build(id)
		if sub == nil {
			return fmt.Errorf("subscriber is nil")
		}
		if sub.Channel <= 0 {
			return fmt.Errorf("subscriber channel is empty")
		}
		sub.ID = id

		q := r.sb.
			Insert("subscribers").
			Columns("id", "channel_id", "name", "resource", "created").
			Values(sub.ID, sub.Channel, sub.Name, sub.Resource, createdNow("subscribers")).
			Suffix("RETURNING created")

		sqlStr, args, err := q.ToSql()
		if err != nil {
			return fmt.Errorf("build create subscriber sql: %w", err)
		}
		if err := tx.QueryRow(ctx, sqlStr, args...).Scan(&sub.Created); err != nil {
			// канал удалили между проверкой и вставкой
			if isForeignKeyViolation(err) {
				return fmt.Errorf("subscriber channel %d: %w", sub.Channel, ErrNotFound)
			}
			return fmt.Errorf("create subscriber: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (r *SubscriberRepository) GetSubscriber(ctx context.Context, id int64) (*models.Subscriber, error) {
	q := r.sb.
		Select(subscriberColumns...).
		From("subscribers").
		Where(sq.Eq{"id": id}).
		Limit(1)

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get subscriber sql: %w", err)
	}

	var s models.Subscriber
	err = r.db.QueryRow(ctx, sqlStr, args...).Scan(&s.ID, &s.Channel, &s.Name, &s.Resource, &s.Created)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get subscriber: %w", err)
	}
	return &s, nil
}

func (r *SubscriberRepository) ListSubscribersByChannel(ctx context.Context, channelID int64) ([]*models.Subscriber, error) {
	q := r.sb.
		Select(subscriberColumns...).
		From("subscribers").
		Where(sq.Eq{"channel_id": channelID}).
		OrderBy("created DESC", "id DESC")

	return r.list(ctx, q)
}

func (r *SubscriberRepository) ListSubscribers(ctx context.Context) ([]*models.Subscriber, error) {
	q := r.sb.
		Select(subscriberColumns...).
		From("subscribers").
		OrderBy("channel_id ASC", "created DESC", "id DESC")

	return r.list(ctx, q)
}

func (r *SubscriberRepository) list(ctx context.Context, q sq.SelectBuilder) ([]*models.Subscriber, error) {
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list subscribers sql: %w", err)
	}

	rows, err := r.db.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("query subscribers: %w", err)
	}
	defer rows.Close()

	res := make([]*models.Subscriber, 0)
	for rows.Next() {
		var s models.Subscriber
		if err := rows.Scan(&s.ID, &s.Channel, &s.Name, &s.Resource, &s.Created); err != nil {
			return nil, fmt.Errorf("scan subscriber row: %w", err)
		}
		res = append(res, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscriber rows: %w", err)
	}
	return res, nil
}

func (r *SubscriberRepository) CountSubscribersByChannel(ctx context.Context, channelID int64) (int, error) {
	sqlStr, args, err := r.sb.
		Select("COUNT(*)").
		From("subscribers").
		Where(sq.Eq{"channel_id": channelID}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count subscribers sql: %w", err)
	}

	var n int64
	if err := r.db.QueryRow(ctx, sqlStr, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count subscribers: %w", err)
	}
	return int(n), nil
}

func (r *SubscriberRepository) DeleteSubscriber(ctx context.Context, id int64) error {
	sqlStr, args, err := r.sb.Delete("subscribers").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("build delete subscriber sql: %w", err)
	}

	tag, err := r.db.Exec(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("delete subscriber: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
