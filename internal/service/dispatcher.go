package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"coffeeshop/internal/metrics"
	"coffeeshop/internal/models"
	"coffeeshop/internal/repository"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

type Enqueuer interface {
	Enqueue(ctx context.Context, deliveryID string, notBefore time.Time) error
}

const defaultContentType = "application/octet-stream"

// Dispatcher раскладывает опубликованное сообщение по подписчикам канала.
type Dispatcher struct {
	store  repository.Store
	queue  Enqueuer
	logger *zap.Logger
	now    func() time.Time

	idMu    sync.Mutex
	entropy *ulid.MonotonicEntropy
}

func NewDispatcher(store repository.Store, queue Enqueuer, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		store:   store,
		queue:   queue,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// newMessageID: created сообщения - время из его ULID, поэтому порядок id
// и порядок created совпадают.
func (d *Dispatcher) newMessageID() (string, time.Time) {
	d.idMu.Lock()
	defer d.idMu.Unlock()
	id := ulid.MustNew(ulid.Timestamp(d.now()), d.entropy)
	return id.String(), ulid.Time(id.Time()).UTC()
}

// Publish сохраняет сообщение и создаёт по pending доставке на каждого
// подписчика, который есть в канале в момент публикации. Результат пушей
// не ждёт; сбои очереди только логируются, доставки подберёт sweeper.
func (d *Dispatcher) Publish(ctx context.Context, channelID int64, contentType string, body []byte) (*models.Message, error) {
	if _, err := d.store.GetChannel(ctx, channelID); err != nil {
		return nil, fmt.Errorf("get channel %d: %w", channelID, mapNotFound(err, ErrChannelNotFound))
	}
	if contentType == "" {
		contentType = defaultContentType
	}

	id, created := d.newMessageID()
	msg := &models.Message{
		ID:          id,
		Channel:     channelID,
		ContentType: contentType,
		Body:        body,
		Created:     created,
	}
	if err := d.store.CreateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}

	// снимок подписчиков: подписавшиеся позже этого сообщения не получат
	subs, err := d.store.ListSubscribersByChannel(ctx, channelID)
	if err != nil {
		return nil, fmt.Errorf("list subscribers: %w", err)
	}

	log := d.logger.With(zap.String("message_id", msg.ID), zap.Int64("channel_id", channelID))

	for _, sub := range subs {
		now := d.now()
		del := &models.Delivery{
			ID:          uuid.New().String(),
			Message:     msg.ID,
			Recipient:   sub.ID,
			NextAttempt: &now,
		}
		if err := d.store.CreateDelivery(ctx, del); err != nil {
			return nil, fmt.Errorf("create delivery for subscriber %d: %w", sub.ID, err)
		}
		if err := d.queue.Enqueue(ctx, del.ID, now); err != nil {
			log.Warn("enqueue delivery",
				zap.String("delivery_id", del.ID),
				zap.Int64("subscriber_id", sub.ID),
				zap.Error(err),
			)
		}
	}

	metrics.IncMessagesPublished()
	metrics.ObserveFanout(len(subs))
	log.Info("message published", zap.Int("deliveries", len(subs)), zap.Int("size", len(body)))

	return msg, nil
}
