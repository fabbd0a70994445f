package database

import (
	"context"
	"time"

	"media-indexer/internal/logging"
)

// ResetStuckProcessing re-queues records left in metadata_status=processing
// by a crash mid-extraction. Idempotent; run once at harvester startup.
func (d *Database) ResetStuckProcessing(ctx context.Context) (int64, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("reset_stuck_processing", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	result, execErr := d.db.ExecContext(ctx, `
		UPDATE media_records SET metadata_status = 'pending', updated_at = strftime('%s', 'now')
		WHERE metadata_status = 'processing'
	`)
	if execErr != nil {
		err = execErr
		return 0, err
	}

	rows, _ := result.RowsAffected()
	if rows > 0 {
		logging.Info("Reset %d records stuck in processing state", rows)
	}
	return rows, nil
}

// ResetIncompleteCompleted re-queues records marked completed that are
// missing fps or codec, typically after an extraction upgrade. They will be
// naturally re-harvested.
func (d *Database) ResetIncompleteCompleted(ctx context.Context) (int64, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("reset_incomplete_completed", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	result, execErr := d.db.ExecContext(ctx, `
		UPDATE media_records SET metadata_status = 'pending', updated_at = strftime('%s', 'now')
		WHERE metadata_status = 'completed' AND (fps IS NULL OR codec IS NULL)
	`)
	if execErr != nil {
		err = execErr
		return 0, err
	}

	rows, _ := result.RowsAffected()
	if rows > 0 {
		logging.Info("Re-queued %d completed records with incomplete technical metadata", rows)
	}
	return rows, nil
}

// DeleteExpiredMissing hard-deletes tombstones whose file has been missing
// longer than the retention window. Dependent favorites and tag links
// cascade. Returns the number of records removed.
func (d *Database) DeleteExpiredMissing(ctx context.Context, retention time.Duration) (int64, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("delete_expired_missing", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	cutoff := Millis(time.Now().Add(-retention))
	result, execErr := d.db.ExecContext(ctx, `
		DELETE FROM media_records WHERE status = 'missing' AND last_seen_at < ?
	`, cutoff)
	if execErr != nil {
		err = execErr
		return 0, err
	}

	rows, _ := result.RowsAffected()
	return rows, nil
}

// CalculateStats queries live counts for the stats cache.
func (d *Database) CalculateStats(ctx context.Context) (LibraryStats, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("calculate_stats", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var stats LibraryStats
	err = d.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(status = 'available'), 0),
			COALESCE(SUM(status = 'missing'), 0),
			COALESCE(SUM(metadata_status = 'pending'), 0),
			COALESCE(SUM(metadata_status = 'failed'), 0)
		FROM media_records
	`).Scan(&stats.TotalRecords, &stats.Available, &stats.Missing,
		&stats.MetadataPending, &stats.MetadataFailed)
	if err != nil {
		return LibraryStats{}, err
	}
	return stats, nil
}
