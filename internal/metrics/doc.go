// Package metrics provides Prometheus instrumentation for the media indexer.
//
// This package defines and exposes various metrics that can be scraped by
// Prometheus to monitor the health, performance, and behavior of the
// application. All metrics are prefixed with "media_indexer_" to avoid naming
// collisions with other applications.
//
// # Metric Categories
//
// ## HTTP Metrics
//
// Track HTTP request performance and error rates:
//   - HTTPRequestsTotal: Counter of total requests by method, path, and status
//   - HTTPRequestDuration: Histogram of request duration by method and path
//   - HTTPRequestsInFlight: Gauge of currently processing requests
//
// ## Database Metrics
//
// Monitor store query performance and storage:
//   - DBQueryTotal: Counter of queries by operation and status
//   - DBQueryDuration: Histogram of query duration by operation
//   - DBTransactionDuration: Histogram of batch transaction duration by outcome
//   - DBConnectionsOpen: Gauge of open database connections
//   - DBSizeBytes: Gauge of database file sizes (main, WAL, SHM)
//
// ## Scanner Metrics
//
// Track library scanning in both modes ("scan" interactive, "quiet" background):
//   - ScannerRunsTotal: Counter of scan runs by mode
//   - ScannerLastRunDuration: Gauge of last run duration by mode
//   - ScannerFilesSeen: Counter of files enumerated by mode
//   - ScannerRecordsCreated / Rebound / MarkedMissing: record outcome counters
//   - ScannerErrors: Counter of scan errors
//   - ScannerIsRunning: Gauge indicating an active scan
//
// ## Integrity Metrics
//
// Track verification and recovery passes:
//   - IntegrityVerifyRunsTotal: Counter of verification passes
//   - IntegrityRecordsHealed: missing records whose path reappeared
//   - IntegrityRecordsRecovered: records rebound to a relocated file
//   - IntegrityRecordsLost: records flagged unrecoverable this pass
//
// ## Rebinder Metrics
//
//   - RebinderMatches: Counter of candidate matches by source (inode, hash)
//   - RebinderMisses: Counter of resolutions that found no candidate
//   - RebinderHashCalculations: Counter of partial-hash computations
//
// ## Harvester Metrics
//
//   - HarvesterExtractionsTotal: Counter by source (priority, batch) and status
//   - HarvesterExtractionDuration: Histogram of probe duration
//   - HarvesterQueueDepth: Gauge of queue depth by queue (priority, batch)
//
// ## Watcher and Event Metrics
//
//   - WatcherEventsTotal: Counter of filesystem events by operation
//   - WatcherEventsDropped: Counter of events dropped at the bounded queue
//   - EventsPublished: Counter of outbound messages by kind
//   - EventsSubscriberDropped: Counter of messages dropped per slow subscriber
//
// ## Library Metrics
//
//   - LibraryRecords: Gauge of records by status (available, missing)
//   - LibraryMetadataBacklog: Gauge of records by metadata state
//
// ## Filesystem Metrics
//
// Observe NFS-resilient filesystem helpers, labeled by volume:
//   - FilesystemOperationDuration / OperationErrors
//   - FilesystemRetryAttempts / RetrySuccess / RetryFailures / RetryDuration
//   - FilesystemStaleErrors: Counter of ESTALE occurrences
//
// # Usage
//
// Metrics are automatically registered with the default Prometheus registry
// using promauto. To expose them, mount the promhttp.Handler() on your
// metrics endpoint:
//
//	import "github.com/prometheus/client_golang/prometheus/promhttp"
//
//	mux.Handle("/metrics", promhttp.Handler())
//
// To record metrics from other packages, import this package and use the
// exported metric variables:
//
//	import "media-indexer/internal/metrics"
//
//	metrics.ScannerRecordsCreated.Inc()
//	metrics.HarvesterExtractionDuration.Observe(0.123)
//
// # Collector
//
// The package provides a [Collector] type that periodically gathers
// statistics from a [StatsProvider] and updates the corresponding gauges:
//
//	collector := metrics.NewCollector(statsProvider, dbPath, 30*time.Second)
//	collector.Start()
//	defer collector.Stop()
//
// # Prometheus Queries
//
// Example PromQL queries for common use cases:
//
// Scan throughput by mode:
//
//	sum(rate(media_indexer_scanner_files_seen_total[5m])) by (mode)
//
// Rebind hit rate:
//
//	sum(rate(media_indexer_rebinder_matches_total[1h])) /
//	(sum(rate(media_indexer_rebinder_matches_total[1h])) + rate(media_indexer_rebinder_misses_total[1h]))
//
// P95 probe latency:
//
//	histogram_quantile(0.95, rate(media_indexer_harvester_extraction_duration_seconds_bucket[5m]))
//
// Metadata backlog burn-down:
//
//	media_indexer_library_metadata_backlog{state="pending"}
//
// NFS stale-handle pressure by volume:
//
//	sum(rate(media_indexer_filesystem_stale_errors_total[15m])) by (volume)
package metrics
