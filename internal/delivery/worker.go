package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"coffeeshop/internal/cache"
	"coffeeshop/internal/metrics"
	"coffeeshop/internal/models"
	"coffeeshop/internal/repository"

	"go.uber.org/zap"
)

// Store - то, что воркеру нужно от хранилища.
type Store interface {
	GetDelivery(ctx context.Context, id string) (*models.Delivery, error)
	UpdateDelivery(ctx context.Context, d *models.Delivery) error
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	GetSubscriber(ctx context.Context, id int64) (*models.Subscriber, error)
}

type Enqueuer interface {
	Enqueue(ctx context.Context, deliveryID string, notBefore time.Time) error
}

// earlySlack - допуск на расхождение часов между узлами.
const earlySlack = time.Second

// Worker делает одну попытку пуша на задачу и меняет только запись Delivery.
type Worker struct {
	store  Store
	pusher Pusher
	queue  Enqueuer
	policy RetryPolicy
	cache  cache.Cache
	logger *zap.Logger
	now    func() time.Time
}

func NewWorker(store Store, pusher Pusher, queue Enqueuer, policy RetryPolicy, c cache.Cache, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		store:  store,
		pusher: pusher,
		queue:  queue,
		policy: policy.withDefaults(),
		cache:  c,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Process - обработчик задачи очереди. Ошибка означает инфраструктурную
// проблему (хранилище), исход пуша ошибкой не считается.
func (w *Worker) Process(ctx context.Context, deliveryID string) error {
	d, err := w.store.GetDelivery(ctx, deliveryID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			w.logger.Warn("task for unknown delivery", zap.String("delivery_id", deliveryID))
			return nil
		}
		return fmt.Errorf("get delivery %s: %w", deliveryID, err)
	}
	// задача пришла повторно
	if d.Terminal() {
		return nil
	}

	now := w.now()
	// устаревшая задача: после неё уже запланирована следующая попытка
	if d.NextAttempt != nil && now.Add(earlySlack).Before(*d.NextAttempt) {
		w.logger.Debug("skip early delivery task",
			zap.String("delivery_id", d.ID),
			zap.Time("next_attempt", *d.NextAttempt),
		)
		return nil
	}

	msg, err := w.store.GetMessage(ctx, d.Message)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return w.fail(ctx, d, fmt.Errorf("%w: message %s is missing", ErrDataIntegrity, d.Message))
		}
		return fmt.Errorf("get message %s: %w", d.Message, err)
	}
	sub, err := w.store.GetSubscriber(ctx, d.Recipient)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return w.fail(ctx, d, fmt.Errorf("%w: subscriber %d is missing", ErrDataIntegrity, d.Recipient))
		}
		return fmt.Errorf("get subscriber %d: %w", d.Recipient, err)
	}

	d.Attempts++
	d.LastAttempt = &now
	metrics.ObserveDeliveryLagSeconds(now.Sub(d.Created).Seconds())

	start := time.Now()
	code, pushErr := w.pusher.Push(ctx, sub, msg, d.ID)
	metrics.ObserveDeliveryDuration(time.Since(start))

	if ctx.Err() != nil {
		// остановка посреди пуша: попытку не записываем, доставку вернёт sweeper
		return ctx.Err()
	}

	if code > 0 {
		metrics.IncDeliveryResponseCode(code)
		d.LastStatusCode = &code
	}

	log := w.logger.With(
		zap.String("delivery_id", d.ID),
		zap.String("message_id", msg.ID),
		zap.Int64("subscriber_id", sub.ID),
		zap.Int64("channel_id", msg.Channel),
		zap.Int("attempt", d.Attempts),
		zap.Int("status_code", code),
	)

	if pushErr == nil {
		d.Status = models.DeliveryDelivered
		d.NextAttempt = nil
		d.LastError = nil
		if err := w.save(ctx, d); err != nil {
			return err
		}
		metrics.IncDeliveryAttempt(metrics.OutcomeDelivered)
		log.Debug("delivered")
		return nil
	}

	errText := pushErr.Error()
	d.LastError = &errText

	if w.policy.Exhausted(d.Attempts) {
		d.Status = models.DeliveryFailed
		d.NextAttempt = nil
		if err := w.save(ctx, d); err != nil {
			return err
		}
		metrics.IncDeliveryAttempt(metrics.OutcomeFailed)
		log.Warn("delivery failed, attempts exhausted", zap.Error(pushErr))
		return nil
	}

	backoff := w.policy.Backoff(d.Attempts)
	next := now.Add(backoff)
	d.NextAttempt = &next
	if err := w.save(ctx, d); err != nil {
		return err
	}
	metrics.IncDeliveryAttempt(metrics.OutcomeRetry)
	log.Info("delivery attempt failed, will retry", zap.Duration("backoff", backoff), zap.Error(pushErr))

	if err := w.queue.Enqueue(ctx, d.ID, next); err != nil {
		// запись уже с next_attempt, sweeper подхватит
		log.Warn("re-enqueue delivery", zap.Error(err))
	}
	return nil
}

func (w *Worker) fail(ctx context.Context, d *models.Delivery, cause error) error {
	errText := cause.Error()
	d.Status = models.DeliveryFailed
	d.NextAttempt = nil
	d.LastError = &errText
	if err := w.save(ctx, d); err != nil {
		return err
	}
	metrics.IncDeliveryIntegrityError()
	metrics.IncDeliveryAttempt(metrics.OutcomeFailed)
	w.logger.Error("delivery failed",
		zap.String("delivery_id", d.ID),
		zap.String("message_id", d.Message),
		zap.Int64("subscriber_id", d.Recipient),
		zap.Error(cause),
	)
	return nil
}

func (w *Worker) save(ctx context.Context, d *models.Delivery) error {
	if err := w.store.UpdateDelivery(ctx, d); err != nil {
		return fmt.Errorf("update delivery %s: %w", d.ID, err)
	}
	// статусы доставок видны в детальке сообщения
	if w.cache != nil {
		if err := w.cache.Del(ctx, cache.MessageDetailKey(d.Message)); err != nil {
			w.logger.Debug("invalidate message cache", zap.String("message_id", d.Message), zap.Error(err))
		}
	}
	return nil
}
