package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auditlens_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "auditlens_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "auditlens_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	// Record write path
	RecordsWrittenTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auditlens_records_written_total",
			Help: "Total number of audit records persisted",
		},
		[]string{"category", "severity"},
	)

	RecordFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auditlens_record_failures_total",
			Help: "Audit writes that were swallowed, by failing stage",
		},
		[]string{"stage"},
	)

	DispatchDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auditlens_dispatch_dropped_total",
			Help: "Asynchronous audit writes dropped before reaching the recorder",
		},
		[]string{"reason"},
	)

	DispatchQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "auditlens_dispatch_queue_depth",
			Help: "Pending asynchronous audit writes",
		},
	)

	// Store metrics
	StoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "auditlens_store_operation_duration_seconds",
			Help:    "Event store operation latency",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
		},
		[]string{"engine", "operation"},
	)

	StoreOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auditlens_store_operations_total",
			Help: "Event store operations by result",
		},
		[]string{"engine", "operation", "status"},
	)

	// Query metrics
	QueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auditlens_queries_total",
			Help: "Search and statistics queries served",
		},
		[]string{"kind", "status"},
	)

	// Notification metrics
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auditlens_notifications_total",
			Help: "Critical event notifications by notifier and result",
		},
		[]string{"notifier", "status"},
	)

	StreamClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "auditlens_stream_clients",
			Help: "Connected live feed clients",
		},
	)

	StreamEventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "auditlens_stream_events_dropped_total",
			Help: "Live feed events dropped because a client was too slow",
		},
	)

	// Screening and detection
	ScreeningRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auditlens_screening_rejections_total",
			Help: "Requests rejected by input screening, by pattern",
		},
		[]string{"pattern"},
	)

	AnomaliesDetectedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "auditlens_anomalies_detected_total",
			Help: "Anomalous actor-days detected",
		},
	)

	RiskScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "auditlens_risk_score",
			Help:    "Distribution of computed actor risk scores",
			Buckets: []float64{0, 10, 30, 50, 80, 100, 200},
		},
	)

	ReviewsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auditlens_reviews_total",
			Help: "Review workflow transitions by target status",
		},
		[]string{"status"},
	)

	// Retention
	RetentionAffectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auditlens_retention_affected_total",
			Help: "Records archived or purged by retention sweeps",
		},
		[]string{"sweep"},
	)

	RetentionLastRun = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "auditlens_retention_last_run_timestamp_seconds",
			Help: "Unix time of the last completed retention sweep",
		},
		[]string{"sweep"},
	)

	// Enrichment
	GeoLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auditlens_geo_lookups_total",
			Help: "Geolocation lookups by result (hit, miss, skipped, error, open)",
		},
		[]string{"result"},
	)

	// System metrics
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "auditlens_build_info",
			Help: "Build information",
		},
		[]string{"version", "go_version"},
	)
)
