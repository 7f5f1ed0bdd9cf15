package cache

import (
	"context"
	"strconv"
	"strings"
	"time"

	"coffeeshop/internal/metrics"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func StartRedisSizeCollector(ctx context.Context, client *redis.Client, interval time.Duration, logger *zap.Logger) {
	if client == nil {
		return
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}

	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()

		update := func() {
			n, err := UsedMemory(ctx, client)
			if err != nil {
				metrics.IncRedisError(component, "info")
				logger.Debug("redis info memory", zap.Error(err))
				return
			}
			metrics.SetRedisUsedMemoryBytes(n)
		}

		update()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				update()
			}
		}
	}()
}

// UsedMemory достаёт used_memory из INFO memory.
func UsedMemory(ctx context.Context, client *redis.Client) (int64, error) {
	info, err := client.Info(ctx, "memory").Result()
	if err != nil {
		return 0, err
	}
	return parseUsedMemory(info), nil
}

// ищем строку вида: used_memory:123456
func parseUsedMemory(info string) int64 {
	for _, line := range strings.Split(info, "\n") {
		line = strings.TrimSpace(line)
		if v, ok := strings.CutPrefix(line, "used_memory:"); ok {
			n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
			if err == nil {
				return n
			}
		}
	}
	return 0
}
