package queue

import (
	"context"
	"sync"
	"time"

	"coffeeshop/internal/metrics"

	"go.uber.org/zap"
)

// MemoryQueue - пул воркеров на буферизованном канале, отложенные задачи
// ждут на time.AfterFunc. Всё теряется при рестарте, это покрывает sweeper.
type MemoryQueue struct {
	tasks   chan string
	workers int
	logger  *zap.Logger

	mu     sync.Mutex
	timers map[*time.Timer]struct{}
	closed bool

	closeOnce sync.Once
}

func NewMemoryQueue(workers, buffer int, logger *zap.Logger) *MemoryQueue {
	if workers <= 0 {
		workers = 4
	}
	if buffer <= 0 {
		buffer = 256
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryQueue{
		tasks:   make(chan string, buffer),
		workers: workers,
		logger:  logger,
		timers:  make(map[*time.Timer]struct{}),
	}
}

func (q *MemoryQueue) Enqueue(_ context.Context, deliveryID string, notBefore time.Time) error {
	delay := time.Until(notBefore)
	if delay <= 0 {
		if err := q.push(deliveryID); err != nil {
			metrics.IncQueueError(DriverMemory, "enqueue")
			return err
		}
		metrics.IncQueueEnqueued(DriverMemory)
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}

	// колбэк ждёт q.mu, поэтому t успевает записаться до delete
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		q.mu.Lock()
		delete(q.timers, t)
		q.mu.Unlock()

		if err := q.push(deliveryID); err != nil {
			q.logger.Warn("drop scheduled delivery task",
				zap.String("delivery_id", deliveryID),
				zap.Error(err),
			)
			metrics.IncQueueError(DriverMemory, "schedule")
		}
	})
	q.timers[t] = struct{}{}

	metrics.IncQueueEnqueued(DriverMemory)
	metrics.SetQueueDepth(DriverMemory, int64(len(q.tasks)+len(q.timers)))
	return nil
}

func (q *MemoryQueue) push(deliveryID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case q.tasks <- deliveryID:
		metrics.SetQueueDepth(DriverMemory, int64(len(q.tasks)+len(q.timers)))
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *MemoryQueue) Start(ctx context.Context, h Handler) error {
	var wg sync.WaitGroup
	for i := 0; i < q.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.workerLoop(ctx, h)
		}()
	}
	wg.Wait()
	return nil
}

func (q *MemoryQueue) workerLoop(ctx context.Context, h Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		case id, ok := <-q.tasks:
			if !ok {
				return
			}
			if err := h(ctx, id); err != nil {
				q.logger.Error("handle delivery task",
					zap.String("delivery_id", id),
					zap.Error(err),
				)
				metrics.IncQueueError(DriverMemory, "handle")
			}
		}
	}
}

// Close гасит таймеры и закрывает канал, воркеры дорабатывают буфер.
func (q *MemoryQueue) Close() error {
	q.closeOnce.Do(func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		q.closed = true
		for t := range q.timers {
			t.Stop()
		}
		q.timers = nil
		close(q.tasks)
	})
	return nil
}
