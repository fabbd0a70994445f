package metrics

// InitializeMetrics pre-populates the expected label combinations so that
// every metric is exported from the first Prometheus scrape.
// Call this once at startup after metric registration.
func InitializeMetrics() {
	for _, file := range []string{"main", "wal", "shm"} {
		DBSizeBytes.WithLabelValues(file)
	}

	volumes := []string{"media", "database", "unknown"}
	fsOps := []string{"read", "stat", "readdir"}

	for _, vol := range volumes {
		for _, op := range fsOps {
			FilesystemOperationDuration.WithLabelValues(vol, op)
			FilesystemOperationErrors.WithLabelValues(vol, op)
		}
	}

	retryOps := []string{"stat", "open", "readdir"}
	for _, op := range retryOps {
		for _, vol := range volumes {
			FilesystemRetryAttempts.WithLabelValues(op, vol)
			FilesystemRetrySuccess.WithLabelValues(op, vol)
			FilesystemRetryFailures.WithLabelValues(op, vol)
			FilesystemStaleErrors.WithLabelValues(op, vol)
			FilesystemRetryDuration.WithLabelValues(op, vol)
		}
	}

	for _, mode := range []string{"scan", "quiet"} {
		ScannerRunsTotal.WithLabelValues(mode)
		ScannerLastRunDuration.WithLabelValues(mode)
		ScannerFilesSeen.WithLabelValues(mode)
	}

	for _, method := range []string{"inode", "hash"} {
		RebinderMatches.WithLabelValues(method)
	}

	for _, source := range []string{"priority", "batch"} {
		for _, status := range []string{"completed", "failed", "skipped"} {
			HarvesterExtractionsTotal.WithLabelValues(source, status)
		}
	}
	for _, queue := range []string{"priority", "batch"} {
		HarvesterQueueDepth.WithLabelValues(queue)
	}

	for _, op := range []string{"create", "write", "remove", "rename"} {
		WatcherEventsTotal.WithLabelValues(op)
	}

	for _, status := range []string{"available", "missing"} {
		LibraryRecords.WithLabelValues(status)
	}
	for _, state := range []string{"pending", "failed"} {
		LibraryMetadataBacklog.WithLabelValues(state)
	}

	for _, op := range []string{"insert_record", "get_by_path", "get_by_id",
		"find_by_inode", "find_missing_by_size", "get_many_by_paths",
		"list_by_parent", "rebind", "update_stat_fields",
		"reset_technical_metadata", "mark_missing", "mark_missing_by_id",
		"stamp_scan_attempt", "set_file_hash", "set_metadata_status",
		"complete_metadata", "query_by_metadata_status", "delete_by_id",
		"reset_stuck_processing", "reset_incomplete_completed",
		"delete_expired_missing", "calculate_stats", "vacuum"} {
		DBQueryTotal.WithLabelValues(op, "success")
		DBQueryTotal.WithLabelValues(op, "error")
		DBQueryDuration.WithLabelValues(op)
	}

	for _, t := range []string{"commit", "rollback"} {
		DBTransactionDuration.WithLabelValues(t)
	}
}
