package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_indexer_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_indexer_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_indexer_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)
)

// Database metrics
var (
	DBQueryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_indexer_db_queries_total",
			Help: "Total number of database queries",
		},
		[]string{"operation", "status"},
	)

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_indexer_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"operation"},
	)

	DBTransactionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_indexer_db_transaction_duration_seconds",
			Help:    "Database transaction duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		},
		[]string{"result"},
	)

	DBConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_indexer_db_connections_open",
			Help: "Number of open database connections",
		},
	)

	DBSizeBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "media_indexer_db_size_bytes",
			Help: "Size of SQLite database files in bytes",
		},
		[]string{"file"}, // "main", "wal", "shm"
	)
)

// Scanner metrics
var (
	ScannerRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_indexer_scanner_runs_total",
			Help: "Total number of scanner runs",
		},
		[]string{"mode"}, // "scan" or "quiet"
	)

	ScannerLastRunDuration = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "media_indexer_scanner_last_run_duration_seconds",
			Help: "Duration of the last scanner run in seconds",
		},
		[]string{"mode"},
	)

	ScannerFilesSeen = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_indexer_scanner_files_seen_total",
			Help: "Total number of files observed by the scanner",
		},
		[]string{"mode"},
	)

	ScannerRecordsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_indexer_scanner_records_created_total",
			Help: "Total number of new records created by the scanner",
		},
	)

	ScannerRecordsRebound = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_indexer_scanner_records_rebound_total",
			Help: "Total number of records rebound to a new path by the scanner",
		},
	)

	ScannerRecordsMarkedMissing = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_indexer_scanner_records_marked_missing_total",
			Help: "Total number of records the scanner flipped to missing",
		},
	)

	ScannerErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_indexer_scanner_errors_total",
			Help: "Total number of scanner errors",
		},
	)

	ScannerIsRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_indexer_scanner_running",
			Help: "Whether a scan is currently running (1 = running, 0 = idle)",
		},
	)
)

// Integrity reconciliation metrics
var (
	IntegrityVerifyRunsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_indexer_integrity_verify_runs_total",
			Help: "Total number of verify-and-recover passes",
		},
	)

	IntegrityRecordsHealed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_indexer_integrity_records_healed_total",
			Help: "Total number of ghost records healed back to available",
		},
	)

	IntegrityRecordsRecovered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_indexer_integrity_records_recovered_total",
			Help: "Total number of missing records recovered at a new path",
		},
	)

	IntegrityRecordsLost = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_indexer_integrity_records_lost_total",
			Help: "Total number of records marked missing with no recovery candidate",
		},
	)
)

// Rebinder metrics
var (
	RebinderMatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_indexer_rebinder_matches_total",
			Help: "Total number of candidate matches by method",
		},
		[]string{"method"}, // "inode" or "hash"
	)

	RebinderMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_indexer_rebinder_misses_total",
			Help: "Total number of candidate lookups that found no match",
		},
	)

	RebinderHashCalculations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_indexer_rebinder_hash_calculations_total",
			Help: "Total number of content hash computations triggered by candidate matching",
		},
	)
)

// Harvester metrics
var (
	HarvesterExtractionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_indexer_harvester_extractions_total",
			Help: "Total number of metadata extractions",
		},
		[]string{"source", "status"}, // source: "priority"/"batch"; status: "completed"/"failed"/"skipped"
	)

	HarvesterExtractionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "media_indexer_harvester_extraction_duration_seconds",
			Help:    "Metadata extraction duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)

	HarvesterQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "media_indexer_harvester_queue_depth",
			Help: "Current depth of the harvester queues",
		},
		[]string{"queue"}, // "priority" or "batch"
	)
)

// Watcher metrics
var (
	WatcherEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_indexer_watcher_events_total",
			Help: "Total number of filesystem watcher events processed",
		},
		[]string{"op"}, // "create", "write", "remove", "rename"
	)

	WatcherEventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_indexer_watcher_events_dropped_total",
			Help: "Total number of watcher events dropped due to a full queue",
		},
	)
)

// Outbound event dispatcher metrics
var (
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_indexer_events_published_total",
			Help: "Total number of outbound events published",
		},
		[]string{"kind"},
	)

	EventsSubscriberDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_indexer_events_dropped_total",
			Help: "Total number of outbound events dropped due to a full subscriber queue",
		},
		[]string{"kind"},
	)
)

// Library gauges updated by the collector
var (
	LibraryRecords = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "media_indexer_library_records",
			Help: "Number of records in the library by status",
		},
		[]string{"status"}, // "available" or "missing"
	)

	LibraryMetadataBacklog = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "media_indexer_library_metadata_backlog",
			Help: "Number of records awaiting or having failed metadata extraction",
		},
		[]string{"state"}, // "pending" or "failed"
	)
)

// Filesystem operation metrics
var (
	FilesystemOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_indexer_filesystem_operation_duration_seconds",
			Help:    "Filesystem operation duration in seconds",
			Buckets: []float64{0.0001, 0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"volume", "operation"},
	)

	FilesystemOperationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_indexer_filesystem_operation_errors_total",
			Help: "Total number of filesystem operation errors",
		},
		[]string{"volume", "operation"},
	)

	FilesystemRetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_indexer_filesystem_retry_attempts_total",
			Help: "Total number of filesystem operation retries",
		},
		[]string{"operation", "volume"},
	)

	FilesystemRetrySuccess = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_indexer_filesystem_retry_success_total",
			Help: "Total number of filesystem operations that succeeded after retry",
		},
		[]string{"operation", "volume"},
	)

	FilesystemRetryFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_indexer_filesystem_retry_failures_total",
			Help: "Total number of filesystem operations that failed after all retries",
		},
		[]string{"operation", "volume"},
	)

	FilesystemRetryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_indexer_filesystem_retry_duration_seconds",
			Help:    "Total duration of filesystem operations including retries",
			Buckets: []float64{0.0001, 0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"operation", "volume"},
	)

	FilesystemStaleErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_indexer_filesystem_stale_errors_total",
			Help: "Total number of NFS stale file handle errors",
		},
		[]string{"operation", "volume"},
	)
)
