package queue

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"coffeeshop/internal/metrics"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisQueue - sorted set, score = notBefore в unix ms. Созревшие задачи
// забираются через ZREM: member получает тот консьюмер, чей ZREM вернул 1.
type RedisQueue struct {
	rdb     *redis.Client
	key     string
	poll    time.Duration
	batch   int64
	workers int
	logger  *zap.Logger
}

type RedisQueueOptions struct {
	Key          string
	PollInterval time.Duration
	Batch        int
	Workers      int
}

func NewRedisQueue(rdb *redis.Client, opts RedisQueueOptions, logger *zap.Logger) *RedisQueue {
	if opts.Key == "" {
		opts.Key = "coffeeshop:deliveries"
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	if opts.Batch <= 0 {
		opts.Batch = 100
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisQueue{
		rdb:     rdb,
		key:     opts.Key,
		poll:    opts.PollInterval,
		batch:   int64(opts.Batch),
		workers: opts.Workers,
		logger:  logger,
	}
}

const (
	opSchedule = "schedule"
	opClaim    = "claim"
	opDepth    = "depth"
)

func (q *RedisQueue) Enqueue(ctx context.Context, deliveryID string, notBefore time.Time) error {
	start := time.Now()
	metrics.IncRedisRequest("queue", opSchedule)
	defer func() { metrics.ObserveRedisDuration("queue", opSchedule, time.Since(start)) }()

	// повторный Enqueue того же id просто переносит score
	err := q.rdb.ZAdd(ctx, q.key, redis.Z{
		Score:  float64(notBefore.UnixMilli()),
		Member: deliveryID,
	}).Err()
	if err != nil {
		metrics.IncRedisError("queue", opSchedule)
		metrics.IncQueueError(DriverRedis, "enqueue")
		return fmt.Errorf("zadd delivery task: %w", err)
	}
	metrics.IncQueueEnqueued(DriverRedis)
	return nil
}

func (q *RedisQueue) Start(ctx context.Context, h Handler) error {
	jobs := make(chan string)

	var wg sync.WaitGroup
	for i := 0; i < q.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				if err := h(ctx, id); err != nil {
					q.logger.Error("handle delivery task",
						zap.String("delivery_id", id),
						zap.Error(err),
					)
					metrics.IncQueueError(DriverRedis, "handle")
				}
			}
		}()
	}

	t := time.NewTicker(q.poll)
	defer func() {
		t.Stop()
		close(jobs)
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			// при ошибке ids содержит уже снятые из zset задачи, их отдаём воркерам
			ids, err := q.ClaimDue(ctx, time.Now())
			if err != nil && ctx.Err() == nil {
				q.logger.Warn("claim due delivery tasks", zap.Int("claimed", len(ids)), zap.Error(err))
			}
			for _, id := range ids {
				select {
				case jobs <- id:
				case <-ctx.Done():
					// уже снятые из zset задачи вернёт sweeper
					return nil
				}
			}
			q.updateDepth(ctx)
		}
	}
}

// ClaimDue снимает из zset до batch задач со score <= now.
func (q *RedisQueue) ClaimDue(ctx context.Context, now time.Time) ([]string, error) {
	start := time.Now()
	metrics.IncRedisRequest("queue", opClaim)
	defer func() { metrics.ObserveRedisDuration("queue", opClaim, time.Since(start)) }()

	candidates, err := q.rdb.ZRangeByScore(ctx, q.key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: q.batch,
	}).Result()
	if err != nil {
		metrics.IncRedisError("queue", opClaim)
		metrics.IncQueueError(DriverRedis, "claim")
		return nil, fmt.Errorf("zrangebyscore: %w", err)
	}

	claimed := make([]string, 0, len(candidates))
	for _, id := range candidates {
		n, err := q.rdb.ZRem(ctx, q.key, id).Result()
		if err != nil {
			metrics.IncRedisError("queue", opClaim)
			metrics.IncQueueError(DriverRedis, "claim")
			return claimed, fmt.Errorf("zrem %s: %w", id, err)
		}
		if n == 1 {
			claimed = append(claimed, id)
		}
	}
	return claimed, nil
}

func (q *RedisQueue) updateDepth(ctx context.Context) {
	metrics.IncRedisRequest("queue", opDepth)
	n, err := q.rdb.ZCard(ctx, q.key).Result()
	if err != nil {
		metrics.IncRedisError("queue", opDepth)
		return
	}
	metrics.SetQueueDepth(DriverRedis, n)
}

func (q *RedisQueue) Close() error { return q.rdb.Close() }
