package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// maxQueryParams bounds the parameter count of IN(...) queries, matching
// SQLite's default variable limit with headroom.
const maxQueryParams = 500

// recordColumns is the canonical SELECT list for media_records.
const recordColumns = `id, path, parent_path, name, size, mtime, ino, file_hash,
	status, last_seen_at, last_scan_attempt_at,
	duration, width, height, aspect_ratio, fps, codec,
	metadata_status, generation_params`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*MediaRecord, error) {
	var rec MediaRecord
	var ino, width, height, lastAttempt sql.NullInt64
	var duration, aspectRatio, fps sql.NullFloat64
	var fileHash, codec, params sql.NullString

	err := row.Scan(
		&rec.ID, &rec.Path, &rec.ParentPath, &rec.Name, &rec.Size, &rec.MTime,
		&ino, &fileHash, &rec.Status, &rec.LastSeenAt, &lastAttempt,
		&duration, &width, &height, &aspectRatio, &fps, &codec,
		&rec.MetadataStatus, &params,
	)
	if err != nil {
		return nil, err
	}

	if ino.Valid {
		rec.Ino = &ino.Int64
	}
	if fileHash.Valid {
		rec.FileHash = &fileHash.String
	}
	if lastAttempt.Valid {
		rec.LastScanAttemptAt = &lastAttempt.Int64
	}
	if duration.Valid {
		rec.Duration = &duration.Float64
	}
	if width.Valid {
		rec.Width = &width.Int64
	}
	if height.Valid {
		rec.Height = &height.Int64
	}
	if aspectRatio.Valid {
		rec.AspectRatio = &aspectRatio.Float64
	}
	if fps.Valid {
		rec.FPS = &fps.Float64
	}
	if codec.Valid {
		rec.Codec = &codec.String
	}
	if params.Valid {
		rec.GenerationParams = &params.String
	}

	return &rec, nil
}

func collectRecords(rows *sql.Rows) ([]*MediaRecord, error) {
	defer rows.Close()

	var records []*MediaRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// execer lets single-row mutations run either directly or inside a batch
// transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Insert persists a new record. The caller allocates the id.
func (d *Database) Insert(ctx context.Context, rec *MediaRecord) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("insert_record", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	err = insertRecord(ctx, d.db, rec)
	return err
}

// InsertTx persists a new record within a batch transaction.
func (d *Database) InsertTx(tx *sql.Tx, rec *MediaRecord) error {
	// Transaction lifetime is controlled by EndBatch.
	return insertRecord(context.Background(), tx, rec)
}

func insertRecord(ctx context.Context, e execer, rec *MediaRecord) error {
	if rec.ParentPath == "" {
		rec.ParentPath = filepath.Dir(rec.Path)
	}
	if rec.Name == "" {
		rec.Name = filepath.Base(rec.Path)
	}
	if rec.Status == "" {
		rec.Status = StatusAvailable
	}
	if rec.MetadataStatus == "" {
		rec.MetadataStatus = MetadataPending
	}
	if rec.LastSeenAt == 0 {
		rec.LastSeenAt = NowMillis()
	}

	_, err := e.ExecContext(ctx, `
		INSERT INTO media_records
			(id, path, parent_path, name, size, mtime, ino, file_hash,
			 status, last_seen_at, metadata_status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.Path, rec.ParentPath, rec.Name, rec.Size, rec.MTime,
		rec.Ino, rec.FileHash, rec.Status, rec.LastSeenAt, rec.MetadataStatus)
	return err
}

// GetByPath returns the record for a path, preferring an available record
// over a tombstone at the same path. Returns (nil, nil) when no record
// exists.
func (d *Database) GetByPath(ctx context.Context, path string) (*MediaRecord, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("get_by_path", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	query := fmt.Sprintf(`SELECT %s FROM media_records WHERE path = ?
		ORDER BY (status = 'available') DESC, last_seen_at DESC LIMIT 1`, recordColumns)

	rec, scanErr := scanRecord(d.db.QueryRowContext(ctx, query, path))
	if errors.Is(scanErr, sql.ErrNoRows) {
		return nil, nil
	}
	err = scanErr
	return rec, err
}

// GetByID returns a record by id, or (nil, nil) when it no longer exists.
func (d *Database) GetByID(ctx context.Context, id string) (*MediaRecord, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("get_by_id", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	query := fmt.Sprintf(`SELECT %s FROM media_records WHERE id = ?`, recordColumns)

	rec, scanErr := scanRecord(d.db.QueryRowContext(ctx, query, id))
	if errors.Is(scanErr, sql.ErrNoRows) {
		return nil, nil
	}
	err = scanErr
	return rec, err
}

// FindByInode returns all records carrying the given inode number.
func (d *Database) FindByInode(ctx context.Context, ino int64) ([]*MediaRecord, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("find_by_inode", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	query := fmt.Sprintf(`SELECT %s FROM media_records WHERE ino = ?`, recordColumns)

	rows, queryErr := d.db.QueryContext(ctx, query, ino)
	if queryErr != nil {
		err = queryErr
		return nil, err
	}

	records, collectErr := collectRecords(rows)
	err = collectErr
	return records, err
}

// FindMissingBySize returns missing records of exactly the given size, the
// cheap pre-filter before a hash comparison.
func (d *Database) FindMissingBySize(ctx context.Context, size int64) ([]*MediaRecord, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("find_missing_by_size", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	query := fmt.Sprintf(`SELECT %s FROM media_records
		WHERE size = ? AND status = 'missing'
		ORDER BY last_seen_at DESC`, recordColumns)

	rows, queryErr := d.db.QueryContext(ctx, query, size)
	if queryErr != nil {
		err = queryErr
		return nil, err
	}

	records, collectErr := collectRecords(rows)
	err = collectErr
	return records, err
}

// GetManyByPaths fetches records for a set of paths, chunked to stay under
// the store's query parameter limit.
func (d *Database) GetManyByPaths(ctx context.Context, paths []string) ([]*MediaRecord, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("get_many_by_paths", start, err) }()

	if len(paths) == 0 {
		return nil, nil
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	var records []*MediaRecord
	for offset := 0; offset < len(paths); offset += maxQueryParams {
		end := offset + maxQueryParams
		if end > len(paths) {
			end = len(paths)
		}
		chunk := paths[offset:end]

		placeholders := strings.Repeat("?,", len(chunk)-1) + "?"
		query := fmt.Sprintf(`SELECT %s FROM media_records WHERE path IN (%s)`,
			recordColumns, placeholders)

		args := make([]any, len(chunk))
		for i, p := range chunk {
			args[i] = p
		}

		chunkCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
		rows, queryErr := d.db.QueryContext(chunkCtx, query, args...)
		if queryErr != nil {
			cancel()
			err = queryErr
			return nil, err
		}

		chunkRecords, collectErr := collectRecords(rows)
		cancel()
		if collectErr != nil {
			err = collectErr
			return nil, err
		}
		records = append(records, chunkRecords...)
	}

	return records, nil
}

// ListByParent returns the available records whose path sits directly under
// the given directory. Used by the shallow scan's missing-detection.
func (d *Database) ListByParent(ctx context.Context, parent string) ([]*MediaRecord, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("list_by_parent", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	query := fmt.Sprintf(`SELECT %s FROM media_records
		WHERE parent_path = ? AND status = 'available'`, recordColumns)

	rows, queryErr := d.db.QueryContext(ctx, query, parent)
	if queryErr != nil {
		err = queryErr
		return nil, err
	}

	records, collectErr := collectRecords(rows)
	err = collectErr
	return records, err
}

// Rebind restores a record to available at a (possibly new) path with fresh
// stat fields. This is the single primitive behind both "heal in place" and
// "recover at new location": last_scan_attempt_at is cleared so future
// recovery passes may consider the record again.
func (d *Database) Rebind(ctx context.Context, id, newPath string, size, mtime int64, ino *int64) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("rebind", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	err = rebindRecord(ctx, d.db, id, newPath, size, mtime, ino)
	return err
}

// RebindTx is Rebind within a batch transaction.
func (d *Database) RebindTx(tx *sql.Tx, id, newPath string, size, mtime int64, ino *int64) error {
	return rebindRecord(context.Background(), tx, id, newPath, size, mtime, ino)
}

func rebindRecord(ctx context.Context, e execer, id, newPath string, size, mtime int64, ino *int64) error {
	_, err := e.ExecContext(ctx, `
		UPDATE media_records SET
			path = ?, parent_path = ?, name = ?,
			size = ?, mtime = ?, ino = ?,
			status = 'available', last_seen_at = ?, last_scan_attempt_at = NULL,
			updated_at = strftime('%s', 'now')
		WHERE id = ?
	`, newPath, filepath.Dir(newPath), filepath.Base(newPath),
		size, mtime, ino, NowMillis(), id)
	return err
}

// UpdateStatFields refreshes size/mtime/ino and last_seen_at for a record
// whose path did not change.
func (d *Database) UpdateStatFields(ctx context.Context, id string, size, mtime int64, ino *int64) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("update_stat_fields", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err = d.db.ExecContext(ctx, `
		UPDATE media_records SET
			size = ?, mtime = ?, ino = ?, last_seen_at = ?,
			updated_at = strftime('%s', 'now')
		WHERE id = ?
	`, size, mtime, ino, NowMillis(), id)
	return err
}

// UpdateStatFieldsTx is UpdateStatFields within a batch transaction.
func (d *Database) UpdateStatFieldsTx(tx *sql.Tx, id string, size, mtime int64, ino *int64) error {
	_, err := tx.ExecContext(context.Background(), `
		UPDATE media_records SET
			size = ?, mtime = ?, ino = ?, last_seen_at = ?,
			updated_at = strftime('%s', 'now')
		WHERE id = ?
	`, size, mtime, ino, NowMillis(), id)
	return err
}

// ResetTechnicalMetadata nulls the technical fields and re-queues the record
// for harvesting. Called when the underlying bytes are judged changed.
func (d *Database) ResetTechnicalMetadata(ctx context.Context, id string) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("reset_technical_metadata", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	err = resetTechnicalMetadata(ctx, d.db, id)
	return err
}

// ResetTechnicalMetadataTx is ResetTechnicalMetadata within a batch
// transaction.
func (d *Database) ResetTechnicalMetadataTx(tx *sql.Tx, id string) error {
	return resetTechnicalMetadata(context.Background(), tx, id)
}

func resetTechnicalMetadata(ctx context.Context, e execer, id string) error {
	_, err := e.ExecContext(ctx, `
		UPDATE media_records SET
			duration = NULL, width = NULL, height = NULL,
			aspect_ratio = NULL, fps = NULL, codec = NULL,
			metadata_status = 'pending',
			updated_at = strftime('%s', 'now')
		WHERE id = ?
	`, id)
	return err
}

// MarkMissing flips the available record at path to missing. Returns whether
// a record changed state.
func (d *Database) MarkMissing(ctx context.Context, path string) (bool, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("mark_missing", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	result, execErr := d.db.ExecContext(ctx, `
		UPDATE media_records SET status = 'missing', updated_at = strftime('%s', 'now')
		WHERE path = ? AND status = 'available'
	`, path)
	if execErr != nil {
		err = execErr
		return false, err
	}

	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

// MarkMissingByID flips a record to missing regardless of its path.
func (d *Database) MarkMissingByID(ctx context.Context, id string) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("mark_missing_by_id", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	err = markMissingByID(ctx, d.db, id)
	return err
}

// MarkMissingTx is MarkMissingByID within a batch transaction.
func (d *Database) MarkMissingTx(tx *sql.Tx, id string) error {
	return markMissingByID(context.Background(), tx, id)
}

func markMissingByID(ctx context.Context, e execer, id string) error {
	_, err := e.ExecContext(ctx, `
		UPDATE media_records SET status = 'missing', updated_at = strftime('%s', 'now')
		WHERE id = ?
	`, id)
	return err
}

// StampScanAttempt records an unsuccessful recovery attempt so the record is
// not rescanned until something changes its path set again.
func (d *Database) StampScanAttempt(ctx context.Context, id string, at int64) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("stamp_scan_attempt", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err = d.db.ExecContext(ctx, `
		UPDATE media_records SET last_scan_attempt_at = ?, updated_at = strftime('%s', 'now')
		WHERE id = ?
	`, at, id)
	return err
}

// SetFileHash applies an asynchronously computed content hash. Best-effort:
// if the record was deleted or rebound to a different path in the meantime
// the update is a no-op. Returns whether the hash was applied.
func (d *Database) SetFileHash(ctx context.Context, id, path, hash string) (bool, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("set_file_hash", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	result, execErr := d.db.ExecContext(ctx, `
		UPDATE media_records SET file_hash = ?, updated_at = strftime('%s', 'now')
		WHERE id = ? AND path = ? AND status = 'available'
	`, hash, id, path)
	if execErr != nil {
		err = execErr
		return false, err
	}

	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

// SetMetadataStatus moves a record through the harvester state machine.
func (d *Database) SetMetadataStatus(ctx context.Context, id string, status MetadataStatus) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("set_metadata_status", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err = d.db.ExecContext(ctx, `
		UPDATE media_records SET metadata_status = ?, updated_at = strftime('%s', 'now')
		WHERE id = ?
	`, status, id)
	return err
}

// CompleteMetadata persists a successful extraction. Each field updates
// independently: a nil field falls back to the previously stored value.
func (d *Database) CompleteMetadata(ctx context.Context, id string, meta *TechnicalMetadata) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("complete_metadata", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err = d.db.ExecContext(ctx, `
		UPDATE media_records SET
			duration = COALESCE(?, duration),
			width = COALESCE(?, width),
			height = COALESCE(?, height),
			aspect_ratio = COALESCE(?, aspect_ratio),
			fps = COALESCE(?, fps),
			codec = COALESCE(?, codec),
			generation_params = COALESCE(?, generation_params),
			metadata_status = 'completed',
			updated_at = strftime('%s', 'now')
		WHERE id = ?
	`, meta.Duration, meta.Width, meta.Height, meta.AspectRatio,
		meta.FPS, meta.Codec, meta.Params, id)
	return err
}

// QueryByMetadataStatus returns up to limit records in the given metadata
// state, newest-modified-first. This is the harvester's batch refill.
func (d *Database) QueryByMetadataStatus(ctx context.Context, status MetadataStatus, limit int) ([]*MediaRecord, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("query_by_metadata_status", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	query := fmt.Sprintf(`SELECT %s FROM media_records
		WHERE metadata_status = ? AND status = 'available'
		ORDER BY mtime DESC LIMIT ?`, recordColumns)

	rows, queryErr := d.db.QueryContext(ctx, query, status, limit)
	if queryErr != nil {
		err = queryErr
		return nil, err
	}

	records, collectErr := collectRecords(rows)
	err = collectErr
	return records, err
}

// DeleteByID hard-deletes a record; favorites and tag links cascade.
func (d *Database) DeleteByID(ctx context.Context, id string) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("delete_by_id", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err = d.db.ExecContext(ctx, `DELETE FROM media_records WHERE id = ?`, id)
	return err
}
