// Package scanner reconciles directory contents against the record store.
//
// Two modes with different cost profiles: Scan is the shallow interactive
// mode used when a consumer opens a folder, and ScanQuietly is the
// recursive background mode. Only the interactive mode flips records to
// missing; quiet scans run unattended over a possibly incomplete view and
// are strictly additive.
package scanner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"media-indexer/internal/database"
	"media-indexer/internal/events"
	"media-indexer/internal/filesystem"
	"media-indexer/internal/hasher"
	"media-indexer/internal/logging"
	"media-indexer/internal/mediatypes"
	"media-indexer/internal/metrics"
	"media-indexer/internal/rebinder"
	"media-indexer/internal/runstate"
	"media-indexer/internal/workers"
)

const (
	// statBatchSize bounds concurrent stat calls to avoid descriptor
	// exhaustion on large directories.
	statBatchSize = 50

	// diffChunkSize bounds one store diff round trip, under the query
	// parameter limit of the store.
	diffChunkSize = 500

	// quietMaxDepth limits recursion in the background scan.
	quietMaxDepth = 20

	// quietBatchSize is the stat+rebind-or-insert step size in quiet mode.
	quietBatchSize = 50
)

// Scanner drives bulk reconciliation of directories.
type Scanner struct {
	db       *database.Database
	rebinder *rebinder.Rebinder
	events   *events.Dispatcher

	// probeAvailable gates the extended extension set; without the probe
	// tool those containers cannot be enriched and are not indexed.
	probeAvailable func() bool

	scanGuard  runstate.Guard
	quietGuard runstate.Guard
}

// New creates a Scanner. probeAvailable reports whether the external
// probe tool is present and executable; pass nil to always use the
// native extension set only.
func New(db *database.Database, rb *rebinder.Rebinder, dispatcher *events.Dispatcher, probeAvailable func() bool) *Scanner {
	if probeAvailable == nil {
		probeAvailable = func() bool { return false }
	}
	return &Scanner{
		db:             db,
		rebinder:       rb,
		events:         dispatcher,
		probeAvailable: probeAvailable,
	}
}

// statResult pairs a discovered path with its stat info.
type statResult struct {
	path string
	info os.FileInfo
}

// Scan reconciles one directory level against the store and returns the
// records now bound to its files. Records whose stored parent is folder
// but whose file is gone from the listing are flagged missing.
//
// A concurrent Scan is dropped and returns nil.
func (s *Scanner) Scan(ctx context.Context, folder string) ([]*database.MediaRecord, error) {
	if !s.scanGuard.TryStart() {
		logging.Debug("Scan of %s dropped: scan already in flight", folder)
		return nil, nil
	}
	defer s.scanGuard.Finish()

	start := time.Now()
	metrics.ScannerRunsTotal.WithLabelValues("scan").Inc()
	metrics.ScannerIsRunning.Set(1)
	defer func() {
		metrics.ScannerIsRunning.Set(0)
		metrics.ScannerLastRunDuration.WithLabelValues("scan").Set(time.Since(start).Seconds())
	}()

	entries, err := filesystem.ReadDirWithRetry(folder, filesystem.DefaultRetryConfig())
	if err != nil {
		metrics.ScannerErrors.Inc()
		return nil, fmt.Errorf("failed to list %s: %w", folder, err)
	}

	extended := s.probeAvailable()
	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !entry.Type().IsRegular() {
			continue
		}
		if mediatypes.Accepted(entry.Name(), extended) {
			names = append(names, entry.Name())
		}
	}
	metrics.ScannerFilesSeen.WithLabelValues("scan").Add(float64(len(names)))

	present := make(map[string]bool, len(names))
	paths := make([]string, 0, len(names))
	for _, name := range names {
		p := filepath.Join(folder, name)
		present[p] = true
		paths = append(paths, p)
	}

	if err := s.markDeparted(ctx, folder, present); err != nil {
		return nil, err
	}

	stats := s.statAll(paths)

	var changedPaths, newPaths []string
	for i := 0; i < len(paths); i += diffChunkSize {
		end := i + diffChunkSize
		if end > len(paths) {
			end = len(paths)
		}
		if s.scanGuard.StopRequested() {
			break
		}

		chunkChanged, chunkNew, err := s.applyChunk(ctx, paths[i:end], stats)
		if err != nil {
			metrics.ScannerErrors.Inc()
			return nil, err
		}
		changedPaths = append(changedPaths, chunkChanged...)
		newPaths = append(newPaths, chunkNew...)
	}

	s.refreshStats(ctx)

	for _, p := range changedPaths {
		s.events.Publish(events.ThumbnailInvalidate{Path: p})
	}
	if len(changedPaths) > 0 {
		s.events.Publish(events.ThumbnailRequest{Paths: changedPaths, Regenerate: true})
	}
	if len(newPaths) > 0 {
		s.events.Publish(events.ThumbnailRequest{Paths: newPaths, Regenerate: false})
	}
	s.events.Publish(events.LibraryRefresh{Folder: folder})

	logging.Info("Scanned %s: %d files, %d changed, %d new in %v",
		folder, len(paths), len(changedPaths), len(newPaths), time.Since(start))

	return s.db.GetManyByPaths(ctx, paths)
}

// markDeparted flips records whose parent is folder but whose file is no
// longer listed.
func (s *Scanner) markDeparted(ctx context.Context, folder string, present map[string]bool) error {
	known, err := s.db.ListByParent(ctx, folder)
	if err != nil {
		return fmt.Errorf("failed to list records under %s: %w", folder, err)
	}

	var departed []*database.MediaRecord
	for _, rec := range known {
		if !present[rec.Path] {
			departed = append(departed, rec)
		}
	}
	if len(departed) == 0 {
		return nil
	}

	tx, err := s.db.BeginBatch()
	if err != nil {
		return err
	}
	for _, rec := range departed {
		if err := s.db.MarkMissingTx(tx, rec.ID); err != nil {
			return s.db.EndBatch(tx, err)
		}
		logging.Info("Marked missing: %s", rec.Path)
	}
	if err := s.db.EndBatch(tx, nil); err != nil {
		return err
	}

	metrics.ScannerRecordsMarkedMissing.Add(float64(len(departed)))
	for _, rec := range departed {
		s.events.Publish(events.ThumbnailInvalidate{Path: rec.Path})
	}
	return nil
}

// statAll stats paths concurrently with a bounded number in flight.
// Failures degrade to "entry absent".
func (s *Scanner) statAll(paths []string) map[string]os.FileInfo {
	out := make(map[string]os.FileInfo, len(paths))
	var mu sync.Mutex

	limit := workers.ForIO(statBatchSize)
	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup

	for _, p := range paths {
		p := p
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			info, err := filesystem.StatWithRetry(p, filesystem.DefaultRetryConfig())
			if err != nil || info.IsDir() {
				return
			}
			mu.Lock()
			out[p] = info
			mu.Unlock()
		}()
	}
	wg.Wait()
	return out
}

// applyChunk diffs one chunk of paths against the store and applies all
// resulting writes in a single transaction. Returns the changed and newly
// registered paths.
func (s *Scanner) applyChunk(ctx context.Context, chunk []string, stats map[string]os.FileInfo) (changed, created []string, err error) {
	records, err := s.db.GetManyByPaths(ctx, chunk)
	if err != nil {
		return nil, nil, fmt.Errorf("chunk lookup failed: %w", err)
	}
	// A path can carry both a tombstone and an available record; the diff
	// considers the available one, falling back to the freshest tombstone.
	byPath := make(map[string]*database.MediaRecord, len(records))
	for _, rec := range records {
		prev, ok := byPath[rec.Path]
		if !ok || (!prev.IsAvailable() && rec.IsAvailable()) ||
			(prev.IsAvailable() == rec.IsAvailable() && rec.LastSeenAt > prev.LastSeenAt) {
			byPath[rec.Path] = rec
		}
	}

	// Hash computations fire only after the transaction commits, since the
	// hash write requires the committed available state.
	type hashJob struct{ id, path string }
	var hashJobs []hashJob

	tx, err := s.db.BeginBatch()
	if err != nil {
		return nil, nil, err
	}

	for _, p := range chunk {
		info, ok := stats[p]
		if !ok {
			continue // vanished between listing and stat
		}

		size := info.Size()
		mtime := database.Millis(info.ModTime())
		ino := rebinder.InodeOf(info)

		if rec, known := byPath[p]; known {
			inodeChanged := rec.Ino != nil && ino != nil && *rec.Ino != *ino
			if rec.IsAvailable() && rec.StatMatches(size, mtime) && !inodeChanged {
				continue // unchanged
			}

			// Changed or revived: restore stat, reset harvested fields
			if err := s.db.RebindTx(tx, rec.ID, p, size, mtime, ino); err != nil {
				return nil, nil, s.db.EndBatch(tx, err)
			}
			if err := s.db.ResetTechnicalMetadataTx(tx, rec.ID); err != nil {
				return nil, nil, s.db.EndBatch(tx, err)
			}
			hashJobs = append(hashJobs, hashJob{rec.ID, p})
			changed = append(changed, p)
			continue
		}

		// Unknown path: try a cheap rebind before creating a record. Hashing
		// is disallowed here to keep the interactive path fast; a move that
		// only a hash could prove becomes a duplicate record instead.
		candidate, err := s.rebinder.FindCandidate(ctx, p, info, false)
		if err != nil {
			logging.Debug("Candidate search for %s failed: %v", p, err)
			candidate = nil
		}

		if candidate != nil {
			logging.Info("Rebinding %s: %s -> %s", candidate.ID, candidate.Path, p)
			if err := s.db.RebindTx(tx, candidate.ID, p, size, mtime, ino); err != nil {
				return nil, nil, s.db.EndBatch(tx, err)
			}
			metrics.ScannerRecordsRebound.Inc()
			if candidate.FileHash == nil {
				hashJobs = append(hashJobs, hashJob{candidate.ID, p})
			}
			changed = append(changed, p)
			continue
		}

		rec := &database.MediaRecord{
			ID:     uuid.NewString(),
			Path:   p,
			Size:   size,
			MTime:  mtime,
			Ino:    ino,
			Status: database.StatusAvailable,
		}
		if err := s.db.InsertTx(tx, rec); err != nil {
			return nil, nil, s.db.EndBatch(tx, err)
		}
		metrics.ScannerRecordsCreated.Inc()
		hashJobs = append(hashJobs, hashJob{rec.ID, p})
		created = append(created, p)
	}

	if err := s.db.EndBatch(tx, nil); err != nil {
		return nil, nil, err
	}

	for _, job := range hashJobs {
		hasher.ComputeAndStoreAsync(s.db, job.id, job.path)
	}
	return changed, created, nil
}

// ScanQuietly recursively registers files under folder without ever
// flipping anything to missing. Returns whether anything new was
// registered.
//
// A concurrent quiet scan is dropped and reports no change.
func (s *Scanner) ScanQuietly(ctx context.Context, folder string) (bool, error) {
	if !s.quietGuard.TryStart() {
		logging.Debug("Quiet scan of %s dropped: already in flight", folder)
		return false, nil
	}
	defer s.quietGuard.Finish()

	start := time.Now()
	metrics.ScannerRunsTotal.WithLabelValues("quiet").Inc()
	defer func() {
		metrics.ScannerLastRunDuration.WithLabelValues("quiet").Set(time.Since(start).Seconds())
	}()

	extended := s.probeAvailable()
	var paths []string
	s.enumerate(folder, 0, extended, &paths)
	metrics.ScannerFilesSeen.WithLabelValues("quiet").Add(float64(len(paths)))

	changed := false
	for i := 0; i < len(paths); i += diffChunkSize {
		end := i + diffChunkSize
		if end > len(paths) {
			end = len(paths)
		}
		if s.quietGuard.StopRequested() {
			break
		}

		records, err := s.db.GetManyByPaths(ctx, paths[i:end])
		if err != nil {
			metrics.ScannerErrors.Inc()
			return changed, fmt.Errorf("quiet chunk lookup failed: %w", err)
		}
		known := make(map[string]bool, len(records))
		for _, rec := range records {
			known[rec.Path] = true
		}

		var unknown []string
		for _, p := range paths[i:end] {
			if !known[p] {
				unknown = append(unknown, p)
			}
		}

		for j := 0; j < len(unknown); j += quietBatchSize {
			batchEnd := j + quietBatchSize
			if batchEnd > len(unknown) {
				batchEnd = len(unknown)
			}
			registered, err := s.registerBatch(ctx, unknown[j:batchEnd])
			if err != nil {
				metrics.ScannerErrors.Inc()
				return changed, err
			}
			changed = changed || registered
		}
	}

	if changed {
		s.refreshStats(ctx)
		s.events.Publish(events.LibraryRefresh{Folder: folder})
	}

	logging.Debug("Quiet scan of %s: %d files, changed=%v in %v", folder, len(paths), changed, time.Since(start))
	return changed, nil
}

// enumerate collects accepted files under dir, depth-limited, never
// following symlinks, skipping dot entries. Read failures degrade to an
// empty view of that directory.
func (s *Scanner) enumerate(dir string, depth int, extended bool, out *[]string) {
	if depth > quietMaxDepth {
		return
	}

	entries, err := filesystem.ReadDirWithRetry(dir, filesystem.DefaultRetryConfig())
	if err != nil {
		logging.Debug("Quiet scan skipping unreadable %s: %v", dir, err)
		return
	}

	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		full := filepath.Join(dir, name)
		switch {
		case entry.IsDir():
			s.enumerate(full, depth+1, extended, out)
		case entry.Type().IsRegular() && mediatypes.Accepted(name, extended):
			*out = append(*out, full)
		}
	}
}

// registerBatch stats a batch of unknown paths and rebinds or inserts
// each in one transaction. Returns whether anything was registered.
func (s *Scanner) registerBatch(ctx context.Context, batch []string) (bool, error) {
	stats := s.statAll(batch)
	if len(stats) == 0 {
		return false, nil
	}

	type hashJob struct{ id, path string }
	var hashJobs []hashJob
	var newPaths []string

	tx, err := s.db.BeginBatch()
	if err != nil {
		return false, err
	}

	registered := false
	for _, p := range batch {
		info, ok := stats[p]
		if !ok {
			continue
		}

		size := info.Size()
		mtime := database.Millis(info.ModTime())
		ino := rebinder.InodeOf(info)

		candidate, err := s.rebinder.FindCandidate(ctx, p, info, false)
		if err != nil {
			logging.Debug("Candidate search for %s failed: %v", p, err)
			candidate = nil
		}

		if candidate != nil {
			logging.Info("Rebinding %s: %s -> %s", candidate.ID, candidate.Path, p)
			if err := s.db.RebindTx(tx, candidate.ID, p, size, mtime, ino); err != nil {
				return registered, s.db.EndBatch(tx, err)
			}
			metrics.ScannerRecordsRebound.Inc()
			if candidate.FileHash == nil {
				hashJobs = append(hashJobs, hashJob{candidate.ID, p})
			}
			registered = true
			continue
		}

		rec := &database.MediaRecord{
			ID:     uuid.NewString(),
			Path:   p,
			Size:   size,
			MTime:  mtime,
			Ino:    ino,
			Status: database.StatusAvailable,
		}
		if err := s.db.InsertTx(tx, rec); err != nil {
			return registered, s.db.EndBatch(tx, err)
		}
		metrics.ScannerRecordsCreated.Inc()
		hashJobs = append(hashJobs, hashJob{rec.ID, p})
		newPaths = append(newPaths, p)
		registered = true
	}

	if err := s.db.EndBatch(tx, nil); err != nil {
		return false, err
	}

	for _, job := range hashJobs {
		hasher.ComputeAndStoreAsync(s.db, job.id, job.path)
	}
	if len(newPaths) > 0 {
		s.events.Publish(events.ThumbnailRequest{Paths: newPaths, Regenerate: false})
	}
	return registered, nil
}

// refreshStats recomputes the cached library statistics after a bulk
// mutation.
func (s *Scanner) refreshStats(ctx context.Context) {
	stats, err := s.db.CalculateStats(ctx)
	if err != nil {
		logging.Warn("Failed to refresh library stats: %v", err)
		return
	}
	s.db.UpdateStats(stats)
}

// Running reports whether any scan is in flight.
func (s *Scanner) Running() bool {
	return s.scanGuard.Running() || s.quietGuard.Running()
}

// Stop asks in-flight scans to wind down at their next chunk boundary.
func (s *Scanner) Stop() {
	s.scanGuard.RequestStop()
	s.quietGuard.RequestStop()
}
