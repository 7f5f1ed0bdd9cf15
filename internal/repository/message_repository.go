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

type MessageRepository struct {
	db *pgxpool.Pool
	sb sq.StatementBuilderType
}

func NewMessageRepository(db *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{
		db: db,
		sb: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// CreateMessage - id (ULID) и created выдаёт вызывающий; без created
// берётся время БД.
func (r *MessageRepository) CreateMessage(ctx context.Context, m *models.Message) error {
	if m == nil {
		return fmt.Errorf("message is nil")
	}
	if m.ID == "" {
		return fmt.Errorf("message id is empty")
	}
	if m.Channel <= 0 {
		return fmt.Errorf("message channel is empty")
	}
	body := m.Body
	if body == nil {
		body = []byte{}
	}

	var created any = sq.Expr("clock_timestamp()")
	if !m.Created.IsZero() {
		created = m.Created
	}

	q := r.sb.
		Insert("messages").
		Columns("id", "channel_id", "content_type", "body", "created").
		Values(m.ID, m.Channel, m.ContentType, body, created).
		Suffix("RETURNING created")

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build create message sql: %w", err)
	}

	if err := r.db.QueryRow(ctx, sqlStr, args...).Scan(&m.Created); err != nil {
		return fmt.Errorf("create message: %w", err)
	}
	return nil
}

func (r *MessageRepository) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	q := r.sb.
		Select("id", "channel_id", "content_type", "body", "created").
		From("messages").
		Where(sq.Eq{"id": id}).
		Limit(1)

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get message sql: %w", err)
	}

	var m models.Message
	err = r.db.QueryRow(ctx, sqlStr, args...).Scan(&m.ID, &m.Channel, &m.ContentType, &m.Body, &m.Created)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get message: %w", err)
	}
	return &m, nil
}

func (r *MessageRepository) ListMessagesByChannel(ctx context.Context, channelID int64) ([]*models.Message, error) {
	q := r.sb.
		Select("id", "channel_id", "content_type", "body", "created").
		From("messages").
		Where(sq.Eq{"channel_id": channelID}).
		OrderBy("created DESC", "id DESC")

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list messages sql: %w", err)
	}

	rows, err := r.db.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	res := make([]*models.Message, 0)
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.Channel, &m.ContentType, &m.Body, &m.Created); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		res = append(res, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}
	return res, nil
}
