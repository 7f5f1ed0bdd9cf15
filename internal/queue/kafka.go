package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"coffeeshop/internal/kafka"
	"coffeeshop/internal/metrics"

	"go.uber.org/zap"
)

type KafkaQueueOptions struct {
	Brokers []string
	Topic   string
	GroupID string
	// Hold - насколько задачу можно подождать прямо в партиции. Дальше
	// она паркуется на таймере, чтобы не держать остальные сообщения.
	Hold time.Duration
}

type KafkaQueue struct {
	producer *kafka.Producer
	opts     KafkaQueueOptions
	logger   *zap.Logger

	mu       sync.Mutex
	handler  Handler
	runCtx   context.Context
	consumer *kafka.Consumer
	parked   map[*time.Timer]struct{}
}

func NewKafkaQueue(producer *kafka.Producer, opts KafkaQueueOptions, logger *zap.Logger) *KafkaQueue {
	if opts.Hold <= 0 {
		opts.Hold = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaQueue{
		producer: producer,
		opts:     opts,
		logger:   logger,
		parked:   make(map[*time.Timer]struct{}),
	}
}

func (q *KafkaQueue) Enqueue(_ context.Context, deliveryID string, notBefore time.Time) error {
	if err := q.producer.SendTask(kafka.DeliveryTask{DeliveryID: deliveryID, NotBefore: notBefore.UTC()}); err != nil {
		metrics.IncQueueError(DriverKafka, "enqueue")
		return err
	}
	metrics.IncQueueEnqueued(DriverKafka)
	return nil
}

func (q *KafkaQueue) Start(ctx context.Context, h Handler) error {
	q.mu.Lock()
	q.handler = h
	q.runCtx = ctx
	q.mu.Unlock()

	c, err := kafka.NewConsumer(q.opts.Brokers, q.opts.GroupID, q.opts.Topic, q, q.logger)
	if err != nil {
		return fmt.Errorf("start kafka queue: %w", err)
	}
	q.mu.Lock()
	q.consumer = c
	q.mu.Unlock()

	return c.Start(ctx)
}

// ProcessDeliveryTask вызывается консьюмером для каждого сообщения топика.
func (q *KafkaQueue) ProcessDeliveryTask(ctx context.Context, task kafka.DeliveryTask) error {
	q.mu.Lock()
	h := q.handler
	q.mu.Unlock()
	if h == nil {
		return errors.New("kafka queue: handler is not set")
	}

	delay := time.Until(task.NotBefore)
	switch {
	case delay <= 0:
		return h(ctx, task.DeliveryID)
	case delay <= q.opts.Hold:
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		return h(ctx, task.DeliveryID)
	default:
		q.park(task.DeliveryID, delay)
		return nil
	}
}

func (q *KafkaQueue) park(deliveryID string, delay time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.parked == nil {
		return
	}

	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		q.mu.Lock()
		delete(q.parked, t)
		h, ctx := q.handler, q.runCtx
		q.mu.Unlock()
		if ctx == nil || ctx.Err() != nil {
			return
		}
		if err := h(ctx, deliveryID); err != nil {
			q.logger.Error("handle parked delivery task",
				zap.String("delivery_id", deliveryID),
				zap.Error(err),
			)
			metrics.IncQueueError(DriverKafka, "handle")
		}
	})
	q.parked[t] = struct{}{}
	metrics.SetQueueDepth(DriverKafka, int64(len(q.parked)))
}

func (q *KafkaQueue) Close() error {
	q.mu.Lock()
	for t := range q.parked {
		t.Stop()
	}
	q.parked = nil
	c := q.consumer
	q.mu.Unlock()

	var errs []error
	if c != nil {
		errs = append(errs, c.Close())
	}
	errs = append(errs, q.producer.Close())
	return errors.Join(errs...)
}
