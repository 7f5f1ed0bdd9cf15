package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"coffeeshop/internal/models"
	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

type DeliveryRepository struct {
	db *pgxpool.Pool
	sb sq.StatementBuilderType
}

func NewDeliveryRepository(db *pgxpool.Pool) *DeliveryRepository {
	return &DeliveryRepository{
		db: db,
		sb: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

var deliveryColumns = []string{
	"id::text",
	"message_id",
	"recipient_id",
	"status",
	"attempts",
	"last_attempt",
	"next_attempt",
	"last_error",
	"last_status_code",
	"created",
}

// CreateDelivery - всегда в статусе pending с нулём попыток.
func (r *DeliveryRepository) CreateDelivery(ctx context.Context, d *models.Delivery) error {
	if d == nil {
		return fmt.Errorf("delivery is nil")
	}
	if d.ID == "" {
		return fmt.Errorf("delivery id is empty")
	}
	if d.Message == "" || d.Recipient <= 0 {
		return fmt.Errorf("delivery message/recipient is empty")
	}

	q := r.sb.
		Insert("deliveries").
		Columns("id", "message_id", "recipient_id", "status", "attempts", "next_attempt").
		Values(d.ID, d.Message, d.Recipient, models.DeliveryPending, 0, d.NextAttempt).
		Suffix("RETURNING created")

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build create delivery sql: %w", err)
	}

	if err := r.db.QueryRow(ctx, sqlStr, args...).Scan(&d.Created); err != nil {
		return fmt.Errorf("create delivery: %w", err)
	}

	d.Status = models.DeliveryPending
	d.Attempts = 0
	d.LastAttempt = nil
	d.LastError = nil
	d.LastStatusCode = nil
	return nil
}

func (r *DeliveryRepository) GetDelivery(ctx context.Context, id string) (*models.Delivery, error) {
	q := r.sb.
		Select(deliveryColumns...).
		From("deliveries").
		Where(sq.Eq{"id": id}).
		Limit(1)

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get delivery sql: %w", err)
	}

	d, err := scanDelivery(r.db.QueryRow(ctx, sqlStr, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get delivery: %w", err)
	}
	return d, nil
}

// UpdateDelivery перезаписывает изменяемые поля одним UPDATE.
func (r *DeliveryRepository) UpdateDelivery(ctx context.Context, d *models.Delivery) error {
	if d == nil || d.ID == "" {
		return fmt.Errorf("delivery id is empty")
	}
	if !validDeliveryStatus(d.Status) {
		return fmt.Errorf("invalid status: %s", d.Status)
	}

	q := r.sb.
		Update("deliveries").
		Set("status", d.Status).
		Set("attempts", d.Attempts).
		Set("last_attempt", d.LastAttempt).
		Set("next_attempt", d.NextAttempt).
		Set("last_error", d.LastError).
		Set("last_status_code", d.LastStatusCode).
		Where(sq.Eq{"id": d.ID})

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build update delivery sql: %w", err)
	}

	tag, err := r.db.Exec(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("update delivery: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *DeliveryRepository) ListDeliveriesByMessage(ctx context.Context, messageID string) ([]*models.Delivery, error) {
	q := r.sb.
		Select(deliveryColumns...).
		From("deliveries").
		Where(sq.Eq{"message_id": messageID}).
		OrderBy("created ASC", "id ASC")

	return r.list(ctx, q)
}

func (r *DeliveryRepository) ListDeliveriesBySubscriber(ctx context.Context, subscriberID int64, status string) ([]*models.Delivery, error) {
	if status != "" && !validDeliveryStatus(status) {
		return nil, fmt.Errorf("invalid status: %s", status)
	}

	filters := sq.And{sq.Eq{"recipient_id": subscriberID}}
	if status != "" {
		filters = append(filters, sq.Eq{"status": status})
	}

	q := r.sb.
		Select(deliveryColumns...).
		From("deliveries").
		Where(filters).
		OrderBy("created DESC", "id DESC")

	return r.list(ctx, q)
}

func (r *DeliveryRepository) CountOutstandingDeliveries(ctx context.Context, subscriberID int64) (int, error) {
	sqlStr, args, err := r.sb.
		Select("COUNT(*)").
		From("deliveries").
		Where(sq.Eq{"recipient_id": subscriberID}).
		Where(sq.NotEq{"status": models.DeliveryDelivered}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count outstanding sql: %w", err)
	}

	var n int64
	if err := r.db.QueryRow(ctx, sqlStr, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count outstanding deliveries: %w", err)
	}
	return int(n), nil
}

// ListDueDeliveries - pending, у которых next_attempt < before, старые первыми.
func (r *DeliveryRepository) ListDueDeliveries(ctx context.Context, before time.Time, limit int) ([]*models.Delivery, error) {
	if limit <= 0 {
		limit = 100
	}

	q := r.sb.
		Select(deliveryColumns...).
		From("deliveries").
		Where(sq.Eq{"status": models.DeliveryPending}).
		Where(sq.Lt{"next_attempt": before}).
		OrderBy("next_attempt ASC", "id ASC").
		Limit(uint64(limit))

	return r.list(ctx, q)
}

func (r *DeliveryRepository) CountDeliveriesByStatus(ctx context.Context) (map[string]int64, error) {
	sqlStr, args, err := r.sb.
		Select("status", "COUNT(*)").
		From("deliveries").
		GroupBy("status").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build count by status sql: %w", err)
	}

	rows, err := r.db.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("count deliveries by status: %w", err)
	}
	defer rows.Close()

	res := make(map[string]int64, len(allowedDeliveryStatuses))
	for rows.Next() {
		var (
			status string
			cnt    int64
		)
		if err := rows.Scan(&status, &cnt); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		res[status] = cnt
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status counts: %w", err)
	}
	return res, nil
}

func (r *DeliveryRepository) list(ctx context.Context, q sq.SelectBuilder) ([]*models.Delivery, error) {
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list deliveries sql: %w", err)
	}

	rows, err := r.db.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("query deliveries: %w", err)
	}
	defer rows.Close()

	res := make([]*models.Delivery, 0)
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("scan delivery row: %w", err)
		}
		res = append(res, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate delivery rows: %w", err)
	}
	return res, nil
}

func scanDelivery(row pgx.Row) (*models.Delivery, error) {
	var (
		d           models.Delivery
		lastAttempt pgtype.Timestamptz
		nextAttempt pgtype.Timestamptz
		lastError   pgtype.Text
		statusCode  pgtype.Int4
	)

	if err := row.Scan(
		&d.ID,
		&d.Message,
		&d.Recipient,
		&d.Status,
		&d.Attempts,
		&lastAttempt,
		&nextAttempt,
		&lastError,
		&statusCode,
		&d.Created,
	); err != nil {
		return nil, err
	}

	if lastAttempt.Valid {
		t := lastAttempt.Time
		d.LastAttempt = &t
	}
	if nextAttempt.Valid {
		t := nextAttempt.Time
		d.NextAttempt = &t
	}
	if lastError.Valid {
		s := lastError.String
		d.LastError = &s
	}
	if statusCode.Valid {
		c := int(statusCode.Int32)
		d.LastStatusCode = &c
	}
	return &d, nil
}
