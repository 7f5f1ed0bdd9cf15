package metrics

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// StatusCounter - то, что коллектору нужно от хранилища.
type StatusCounter interface {
	CountDeliveriesByStatus(ctx context.Context) (map[string]int64, error)
}

var deliveryStatuses = []string{"pending", "delivered", "failed"}

func StartStoreCollector(ctx context.Context, store StatusCounter, interval time.Duration, logger *zap.Logger) {
	if store == nil {
		return
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}

	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()

		UpdateDeliveryGauges(ctx, store, logger)
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				UpdateDeliveryGauges(ctx, store, logger)
			}
		}
	}()
}

func UpdateDeliveryGauges(ctx context.Context, store StatusCounter, logger *zap.Logger) {
	counts, err := store.CountDeliveriesByStatus(ctx)
	if err != nil {
		logger.Warn("metrics: count deliveries by status", zap.Error(err))
		return
	}
	// статусы без строк обнуляем, иначе gauge залипнет на старом значении
	for _, s := range deliveryStatuses {
		SetDeliveryStatusCount(s, counts[s])
	}
}
