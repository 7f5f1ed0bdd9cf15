package delivery

import (
	"context"
	"fmt"
	"time"

	"coffeeshop/internal/metrics"
	"coffeeshop/internal/models"

	"go.uber.org/zap"
)

type DueLister interface {
	ListDueDeliveries(ctx context.Context, before time.Time, limit int) ([]*models.Delivery, error)
}

// Sweeper переотправляет в очередь pending доставки, чья попытка просрочена
// больше чем на grace: задачи, потерянные между записью и Enqueue или при рестарте.
type Sweeper struct {
	store     DueLister
	queue     Enqueuer
	interval  time.Duration
	grace     time.Duration
	batchSize int
	logger    *zap.Logger
	now       func() time.Time
}

func NewSweeper(
	store DueLister,
	queue Enqueuer,
	interval time.Duration,
	grace time.Duration,
	batchSize int,
	logger *zap.Logger,
) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if grace < 0 {
		grace = 0
	}
	if batchSize <= 0 {
		batchSize = 100
	}

	return &Sweeper{
		store:     store,
		queue:     queue,
		interval:  interval,
		grace:     grace,
		batchSize: batchSize,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Start запускает фоновую горутину.
func (s *Sweeper) Start(ctx context.Context) {
	go func() {
		s.logger.Info("delivery sweeper started")
		defer s.logger.Info("delivery sweeper stopped")

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
					s.logger.Warn("sweep overdue deliveries", zap.Error(err))
				}
			}
		}
	}()
}

// SweepOnce возвращает число переотправленных доставок.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	now := s.now()
	due, err := s.store.ListDueDeliveries(ctx, now.Add(-s.grace), s.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list due deliveries: %w", err)
	}

	n := 0
	for _, d := range due {
		if err := s.queue.Enqueue(ctx, d.ID, now); err != nil {
			s.logger.Warn("re-enqueue overdue delivery",
				zap.String("delivery_id", d.ID),
				zap.Error(err),
			)
			continue
		}
		n++
	}
	if n > 0 {
		metrics.AddDeliveriesSwept(n)
		s.logger.Info("re-enqueued overdue deliveries", zap.Int("count", n))
	}
	return n, nil
}
