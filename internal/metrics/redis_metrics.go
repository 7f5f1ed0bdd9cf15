package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	redisRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redis_requests_total",
			Help: "Total number of Redis requests",
		},
		[]string{"component", "operation"}, // cache|queue, get/set/delete/schedule/claim
	)

	redisCacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "redis_cache_hits_total",
			Help: "Total number of cache hits",
		},
	)

	redisCacheMissesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "redis_cache_misses_total",
			Help: "Total number of cache misses",
		},
	)

	redisErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redis_errors_total",
			Help: "Total number of Redis errors",
		},
		[]string{"component", "operation"},
	)

	redisRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_request_duration_seconds",
			Help:    "Redis request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"component", "operation"},
	)

	redisUsedMemory = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "redis_used_memory_bytes",
			Help: "Redis used_memory as reported by INFO memory",
		},
	)
)

// вызывается из Register()
func registerRedisMetrics() {
	prometheus.MustRegister(
		redisRequestsTotal,
		redisCacheHitsTotal,
		redisCacheMissesTotal,
		redisErrorsTotal,
		redisRequestDuration,
		redisUsedMemory,
	)
}

func IncRedisRequest(component, op string) {
	redisRequestsTotal.WithLabelValues(component, op).Inc()
}

func IncRedisError(component, op string) {
	redisErrorsTotal.WithLabelValues(component, op).Inc()
}

func ObserveRedisDuration(component, op string, d time.Duration) {
	redisRequestDuration.WithLabelValues(component, op).Observe(d.Seconds())
}

func IncRedisHit()  { redisCacheHitsTotal.Inc() }
func IncRedisMiss() { redisCacheMissesTotal.Inc() }

func SetRedisUsedMemoryBytes(n int64) {
	if n < 0 {
		n = 0
	}
	redisUsedMemory.Set(float64(n))
}
