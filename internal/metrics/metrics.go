package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "code"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "code"},
	)

	// Hub
	messagesPublished = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hub_messages_published_total",
			Help: "Total number of messages published to channels.",
		},
	)
	fanoutSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hub_fanout_subscribers",
			Help:    "Number of deliveries created per published message.",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50, 100, 250, 500},
		},
	)
	guardRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hub_delete_rejected_total",
			Help: "Delete requests rejected because of outstanding dependencies.",
		},
		[]string{"entity"},
	)

	// Delivery
	deliveryAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_attempts_total",
			Help: "Delivery push attempts by outcome (delivered, retry, failed).",
		},
		[]string{"outcome"},
	)
	deliveryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "delivery_push_duration_seconds",
			Help:    "Time spent pushing a single message to a subscriber (seconds).",
			Buckets: prometheus.DefBuckets,
		},
	)
	deliveryLagSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "delivery_lag_seconds",
			Help:    "Lag between delivery creation and a push attempt (seconds).",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600, 1800, 3600},
		},
	)
	deliveryResponseCodes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_response_codes_total",
			Help: "HTTP status codes returned by subscriber endpoints.",
		},
		[]string{"code"},
	)
	deliveryIntegrityErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "delivery_integrity_errors_total",
			Help: "Deliveries failed because their message or subscriber is missing.",
		},
	)
	deliveryStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "delivery_status_count",
			Help: "Current count of deliveries by status.",
		},
		[]string{"status"},
	)
	deliveriesSwept = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "delivery_swept_total",
			Help: "Overdue pending deliveries re-enqueued by the sweeper.",
		},
	)

	// Queue
	queueEnqueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_tasks_enqueued_total",
			Help: "Delivery tasks enqueued.",
		},
		[]string{"driver"},
	)
	queueErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_errors_total",
			Help: "Task queue errors.",
		},
		[]string{"driver", "operation"},
	)
	queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queue_depth",
			Help: "Tasks waiting in the queue (scheduled or ready).",
		},
		[]string{"driver"},
	)
	kafkaConsumerLag = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kafka_consumer_lag",
			Help: "Kafka consumer lag (high watermark - current offset - 1).",
		},
		[]string{"topic", "partition"},
	)
)

var registerOnce sync.Once

func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,

			messagesPublished,
			fanoutSize,
			guardRejections,

			deliveryAttempts,
			deliveryDuration,
			deliveryLagSeconds,
			deliveryResponseCodes,
			deliveryIntegrityErrors,
			deliveryStatus,
			deliveriesSwept,

			queueEnqueued,
			queueErrors,
			queueDepth,
			kafkaConsumerLag,
		)
		registerRedisMetrics()
	})
}

func Handler() http.Handler {
	return promhttp.Handler()
}

// --- HTTP ---
func ObserveHTTPRequest(method, route, code string, d time.Duration) {
	httpRequests.WithLabelValues(method, route, code).Inc()
	httpDuration.WithLabelValues(method, route, code).Observe(d.Seconds())
}

// --- Hub ---
func IncMessagesPublished()     { messagesPublished.Inc() }
func ObserveFanout(n int)       { fanoutSize.Observe(float64(max0(n))) }
func IncGuardRejected(e string) { guardRejections.WithLabelValues(e).Inc() }

// --- Delivery ---
const (
	OutcomeDelivered = "delivered"
	OutcomeRetry     = "retry"
	OutcomeFailed    = "failed"
)

func IncDeliveryAttempt(outcome string)       { deliveryAttempts.WithLabelValues(outcome).Inc() }
func ObserveDeliveryDuration(d time.Duration) { deliveryDuration.Observe(d.Seconds()) }
func IncDeliveryResponseCode(code int) {
	deliveryResponseCodes.WithLabelValues(strconv.Itoa(code)).Inc()
}
func IncDeliveryIntegrityError() { deliveryIntegrityErrors.Inc() }
func AddDeliveriesSwept(n int)   { deliveriesSwept.Add(float64(max0(n))) }
func ObserveDeliveryLagSeconds(sec float64) {
	if sec < 0 {
		sec = 0
	}
	deliveryLagSeconds.Observe(sec)
}

// --- Queue ---
func IncQueueEnqueued(driver string) { queueEnqueued.WithLabelValues(driver).Inc() }
func IncQueueError(driver, operation string) {
	queueErrors.WithLabelValues(driver, operation).Inc()
}
func SetQueueDepth(driver string, n int64) {
	if n < 0 {
		n = 0
	}
	queueDepth.WithLabelValues(driver).Set(float64(n))
}
func SetKafkaConsumerLag(topic string, partition int32, lag int64) {
	if lag < 0 {
		lag = 0
	}
	kafkaConsumerLag.WithLabelValues(topic, strconv.FormatInt(int64(partition), 10)).Set(float64(lag))
}

// --- Gauges (store collectors) ---
func SetDeliveryStatusCount(status string, count int64) {
	if count < 0 {
		count = 0
	}
	deliveryStatus.WithLabelValues(status).Set(float64(count))
}

func max0(v int) int {
	if v < 0 {
		return 0
	}
	return v
}
