package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"HTTP_PORT", "QUEUE_DRIVER", "DELIVERY_MAX_ATTEMPTS", "DELIVERY_BACKOFF_BASE",
		"DELIVERY_BACKOFF_MAX", "DELIVERY_TIMEOUT", "KAFKA_BROKERS"} {
		t.Setenv(k, "")
	}

	cfg := Load()

	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, "memory", cfg.QueueDriver)
	assert.Equal(t, 5, cfg.Delivery.MaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.Delivery.BackoffBase)
	assert.Equal(t, time.Hour, cfg.Delivery.BackoffMax)
	assert.Equal(t, 10*time.Second, cfg.Delivery.Timeout)
	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("QUEUE_DRIVER", "Redis")
	t.Setenv("DELIVERY_MAX_ATTEMPTS", "3")
	t.Setenv("DELIVERY_BACKOFF_BASE", "2s")
	t.Setenv("DELIVERY_TIMEOUT", "1.5")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("CACHE_ENABLED", "true")

	cfg := Load()

	assert.Equal(t, "redis", cfg.QueueDriver)
	assert.Equal(t, 3, cfg.Delivery.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Delivery.BackoffBase)
	assert.Equal(t, 1500*time.Millisecond, cfg.Delivery.Timeout)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.True(t, cfg.CacheEnabled)
}

func TestLoadIgnoresGarbage(t *testing.T) {
	t.Setenv("QUEUE_WORKERS", "many")
	t.Setenv("SWEEP_INTERVAL", "soon")
	t.Setenv("CACHE_ENABLED", "perhaps")

	cfg := Load()

	assert.Equal(t, 4, cfg.QueueWorkers)
	assert.Equal(t, 30*time.Second, cfg.SweepInterval)
	assert.False(t, cfg.CacheEnabled)
}
