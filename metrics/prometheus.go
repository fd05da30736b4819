package metrics

import "github.com/prometheus/client_golang/prometheus"

var HttpRequestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests received",
	},
	[]string{"endpoint", "status", "method"},
)

var HttpRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"endpoint", "method"},
)

var HttpErrorsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "http_errors_total",
		Help: "Total number of failed HTTP requests (4xx/5xx)",
	},
	[]string{"endpoint", "status", "method"},
)

var HttpRateLimitRejectionsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "http_rate_limit_rejections_total",
		Help: "Total number of HTTP requests rejected due to rate limiting",
	},
)

var JobsRejectedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "notification_jobs_rejected_total",
		Help: "Send-notification requests rejected at the API boundary",
	},
	[]string{"reason"},
)

var PushSendsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "push_sends_total",
		Help: "Web push deliveries per subscription endpoint",
	},
	[]string{"status"},
)

var PushSendDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "push_send_duration_seconds",
		Help:    "Time taken by the push service to accept one delivery",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"status"},
)

var JobDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "push_job_duration_seconds",
		Help:    "Time from fetch to final outcome of a push job, retries included",
		Buckets: prometheus.DefBuckets,
	},
)

var JobsProcessedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "notification_jobs_processed_total",
		Help: "Dispatch jobs by final outcome",
	},
	[]string{"result"},
)

var NotificationRetriesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "notification_retries_total",
		Help: "Total number of dispatch job retries",
	},
	[]string{"reason"},
)

var NotificationDLQTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "notification_dlq_total",
		Help: "Total number of dispatch jobs sent to DLQ",
	},
	[]string{"reason"},
)

var SubscriptionCacheTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "subscription_cache_total",
		Help: "Subscription cache lookups by result",
	},
	[]string{"result"},
)

var KafkaPublishSuccessTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "kafka_publish_success_total",
		Help: "Total number of successful Kafka publishes",
	},
	[]string{"topic"},
)

var KafkaPublishFailureTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "kafka_publish_failure_total",
		Help: "Total number of failed Kafka publishes",
	},
	[]string{"topic"},
)

var KafkaSubscriberFailureTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "kafka_subscriber_failure_total",
		Help: "Total number of failed Kafka fetches or commits",
	},
	[]string{"topic"},
)

var KafkaConsumerLag = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "kafka_consumer_lag",
		Help: "Lag of Kafka consumer group per topic",
	},
	[]string{"group", "topic"},
)

var EventsConsumedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "lifecycle_events_consumed_total",
		Help: "Lifecycle events accumulated into the counter store",
	},
	[]string{"group", "event"},
)

var EventsRejectedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "lifecycle_events_rejected_total",
		Help: "Undecodable lifecycle events skipped by a consumer",
	},
	[]string{"group"},
)

var CounterStoreFailuresTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "counter_store_failures_total",
		Help: "Failed counter store operations",
	},
	[]string{"op"},
)

var FlushCyclesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "analytics_flush_cycles_total",
		Help: "Flush cycles by result (ok, partial, skipped, locked)",
	},
	[]string{"result"},
)

var FlushDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "analytics_flush_duration_seconds",
		Help:    "Wall time of one flush cycle",
		Buckets: prometheus.DefBuckets,
	},
)

var FlushKeysTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "analytics_flush_keys_total",
		Help: "Rotated keys processed by the flusher",
	},
	[]string{"kind", "result"},
)

var RetryQueueLength = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "analytics_retry_queue_length",
		Help: "Entries waiting on a retry list after the last cycle",
	},
	[]string{"kind"},
)

var RetryLostTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "analytics_retry_lost_total",
		Help: "Retry entries whose rotated key expired before a successful commit",
	},
	[]string{"kind"},
)

var WebhookSignalsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "webhook_signals_total",
		Help: "Webhook signals by outcome (queued, dropped, relayed, failed)",
	},
	[]string{"result"},
)

func InitAPIMetrics() {
	prometheus.MustRegister(HttpRequestsTotal)
	prometheus.MustRegister(HttpRequestDuration)
	prometheus.MustRegister(HttpErrorsTotal)
	prometheus.MustRegister(HttpRateLimitRejectionsTotal)
	prometheus.MustRegister(JobsRejectedTotal)
}

func InitWorkerMetrics() {
	prometheus.MustRegister(PushSendsTotal)
	prometheus.MustRegister(PushSendDuration)
	prometheus.MustRegister(JobDuration)
	prometheus.MustRegister(JobsProcessedTotal)
	prometheus.MustRegister(NotificationRetriesTotal)
	prometheus.MustRegister(NotificationDLQTotal)
	prometheus.MustRegister(SubscriptionCacheTotal)
}

func InitAnalyticsMetrics() {
	prometheus.MustRegister(EventsConsumedTotal)
	prometheus.MustRegister(EventsRejectedTotal)
	prometheus.MustRegister(CounterStoreFailuresTotal)
	prometheus.MustRegister(FlushCyclesTotal)
	prometheus.MustRegister(FlushDuration)
	prometheus.MustRegister(FlushKeysTotal)
	prometheus.MustRegister(RetryQueueLength)
	prometheus.MustRegister(RetryLostTotal)
}

func InitKafkaMetrics() {
	prometheus.MustRegister(KafkaPublishSuccessTotal)
	prometheus.MustRegister(KafkaPublishFailureTotal)
	prometheus.MustRegister(KafkaSubscriberFailureTotal)
	prometheus.MustRegister(KafkaConsumerLag)
	prometheus.MustRegister(WebhookSignalsTotal)
}
