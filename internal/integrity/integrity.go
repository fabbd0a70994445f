// Package integrity converts filesystem observations into correct record
// state. It is the single entry point for "a path was seen on disk" and
// "a path was reported gone", handling revivals, content changes, moves
// and genuinely new files, plus bulk verification with move recovery.
package integrity

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"media-indexer/internal/database"
	"media-indexer/internal/events"
	"media-indexer/internal/filesystem"
	"media-indexer/internal/hasher"
	"media-indexer/internal/logging"
	"media-indexer/internal/metrics"
	"media-indexer/internal/pathindex"
	"media-indexer/internal/rebinder"
	"media-indexer/internal/runstate"
	"media-indexer/internal/workers"
)

const (
	// maxStatsInFlight bounds concurrent existence checks during bulk
	// verification to cap descriptor usage on large path lists.
	maxStatsInFlight = 50

	// recoveryIndexDepth bounds the path index walk during move recovery.
	recoveryIndexDepth = 20
)

// Service reconciles observed filesystem state with the record store.
type Service struct {
	db       *database.Database
	rebinder *rebinder.Rebinder
	events   *events.Dispatcher
	roots    []string

	verifyGuard runstate.Guard
}

// New creates the reconciliation service. roots are the configured library
// roots used to bound move-recovery searches.
func New(db *database.Database, rb *rebinder.Rebinder, dispatcher *events.Dispatcher, roots []string) *Service {
	return &Service{
		db:       db,
		rebinder: rb,
		events:   dispatcher,
		roots:    roots,
	}
}

// ProcessNewFile handles a single concretely observed file, from a watcher
// add/change event or an explicit re-registration. It returns the record
// now bound to path, or nil when the file could not be observed.
//
// Filesystem errors degrade to "not found": a path that vanished between
// the event and the stat is simply skipped.
func (s *Service) ProcessNewFile(ctx context.Context, path string) (*database.MediaRecord, error) {
	info, err := filesystem.StatWithRetry(path, filesystem.DefaultRetryConfig())
	if err != nil {
		logging.Debug("Skipping %s: %v", path, err)
		return nil, nil
	}
	if info.IsDir() {
		return nil, nil
	}

	size := info.Size()
	mtime := database.Millis(info.ModTime())
	ino := rebinder.InodeOf(info)

	existing, err := s.db.GetByPath(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("path lookup for %s failed: %w", path, err)
	}

	if existing != nil {
		inodeStable := existing.Ino == nil || ino == nil || *existing.Ino == *ino

		if existing.IsAvailable() && inodeStable {
			return s.reconfirm(ctx, existing, size, mtime, ino)
		}
		if !existing.IsAvailable() && inodeStable {
			// File came back at the very same path
			return s.revive(ctx, existing, path, size, mtime, ino)
		}
	}

	// A move or rename from somewhere else?
	candidate, err := s.rebinder.FindCandidate(ctx, path, info, true)
	if err != nil {
		logging.Warn("Candidate search for %s failed: %v", path, err)
		candidate = nil
	}

	if candidate != nil && (existing == nil || candidate.ID != existing.ID) {
		if existing != nil {
			// The path-matched record was a duplicate stub for the same
			// bytes; the matched record keeps the favorites and tags.
			logging.Info("Deleting stale duplicate %s for %s", existing.ID, path)
			if err := s.db.DeleteByID(ctx, existing.ID); err != nil {
				return nil, fmt.Errorf("failed to delete stale duplicate %s: %w", existing.ID, err)
			}
		}

		logging.Info("Rebinding %s: %s -> %s", candidate.ID, candidate.Path, path)
		if err := s.rebinder.Execute(ctx, candidate.ID, path, size, mtime, ino, candidate.FileHash); err != nil {
			return nil, err
		}
		metrics.IntegrityRecordsRecovered.Inc()

		s.events.Publish(events.ThumbnailInvalidate{Path: candidate.Path})
		s.events.Publish(events.ThumbnailRequest{Paths: []string{path}, Regenerate: true})
		s.events.Publish(events.RecordChanged{ID: candidate.ID, Path: path})
		return s.db.GetByID(ctx, candidate.ID)
	}

	if candidate != nil {
		// The path record itself matched through the resolver (inode moved
		// within the same path entry); treat as a revival.
		return s.revive(ctx, candidate, path, size, mtime, ino)
	}

	if existing != nil && existing.IsAvailable() {
		// Atomic replace: an editor wrote a temp file and renamed it over
		// the path, so the record is current but the inode is fresh. The
		// unique path index forbids a second available row here; rebind
		// the existing record in place and rehash.
		logging.Info("Inode changed in place: %s", path)
		if err := s.db.ResetTechnicalMetadata(ctx, existing.ID); err != nil {
			return nil, err
		}
		if err := s.db.Rebind(ctx, existing.ID, path, size, mtime, ino); err != nil {
			return nil, err
		}
		hasher.ComputeAndStoreAsync(s.db, existing.ID, path)

		s.events.Publish(events.ThumbnailInvalidate{Path: path})
		s.events.Publish(events.ThumbnailRequest{Paths: []string{path}, Regenerate: true})
		s.events.Publish(events.RecordChanged{ID: existing.ID, Path: path})
		return s.db.GetByID(ctx, existing.ID)
	}

	// Genuinely new file
	rec := &database.MediaRecord{
		ID:     uuid.NewString(),
		Path:   path,
		Size:   size,
		MTime:  mtime,
		Ino:    ino,
		Status: database.StatusAvailable,
	}
	if err := s.db.Insert(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to insert record for %s: %w", path, err)
	}
	metrics.ScannerRecordsCreated.Inc()
	hasher.ComputeAndStoreAsync(s.db, rec.ID, path)

	s.events.Publish(events.ThumbnailRequest{Paths: []string{path}, Regenerate: true})
	s.events.Publish(events.RecordChanged{ID: rec.ID, Path: path})
	return rec, nil
}

// reconfirm handles an available record seen again at its own path.
func (s *Service) reconfirm(ctx context.Context, rec *database.MediaRecord, size, mtime int64, ino *int64) (*database.MediaRecord, error) {
	if rec.StatMatches(size, mtime) {
		if err := s.db.UpdateStatFields(ctx, rec.ID, size, mtime, ino); err != nil {
			return nil, err
		}
		// Unchanged; only make sure a thumbnail exists
		s.events.Publish(events.ThumbnailRequest{Paths: []string{rec.Path}, Regenerate: false})
		return s.db.GetByID(ctx, rec.ID)
	}

	logging.Info("Content changed: %s", rec.Path)
	if err := s.db.ResetTechnicalMetadata(ctx, rec.ID); err != nil {
		return nil, err
	}
	if err := s.db.UpdateStatFields(ctx, rec.ID, size, mtime, ino); err != nil {
		return nil, err
	}
	hasher.ComputeAndStoreAsync(s.db, rec.ID, rec.Path)

	s.events.Publish(events.ThumbnailInvalidate{Path: rec.Path})
	s.events.Publish(events.ThumbnailRequest{Paths: []string{rec.Path}, Regenerate: true})
	s.events.Publish(events.RecordChanged{ID: rec.ID, Path: rec.Path})
	return s.db.GetByID(ctx, rec.ID)
}

// revive restores a missing record whose file reappeared at its own path.
func (s *Service) revive(ctx context.Context, rec *database.MediaRecord, path string, size, mtime int64, ino *int64) (*database.MediaRecord, error) {
	logging.Info("Reviving %s at %s", rec.ID, path)
	if err := s.db.Rebind(ctx, rec.ID, path, size, mtime, ino); err != nil {
		return nil, err
	}

	if !rec.StatMatches(size, mtime) {
		if err := s.db.ResetTechnicalMetadata(ctx, rec.ID); err != nil {
			return nil, err
		}
		hasher.ComputeAndStoreAsync(s.db, rec.ID, path)
		s.events.Publish(events.ThumbnailInvalidate{Path: path})
		s.events.Publish(events.ThumbnailRequest{Paths: []string{path}, Regenerate: true})
	} else {
		s.events.Publish(events.ThumbnailRequest{Paths: []string{path}, Regenerate: false})
	}

	metrics.IntegrityRecordsHealed.Inc()
	s.events.Publish(events.RecordChanged{ID: rec.ID, Path: path})
	return s.db.GetByID(ctx, rec.ID)
}

// VerifyAndRecover reconciles a known list of paths against the filesystem,
// healing ghosts, flagging vanished files missing, and recovering moved
// files through a filename index over the library roots. Returns whether
// any record changed state.
//
// A second invocation while one is in flight is dropped and reports no
// change.
func (s *Service) VerifyAndRecover(ctx context.Context, paths []string) (bool, error) {
	if !s.verifyGuard.TryStart() {
		logging.Debug("Verification already in flight, dropping trigger")
		return false, nil
	}
	defer s.verifyGuard.Finish()

	start := time.Now()
	metrics.IntegrityVerifyRunsTotal.Inc()

	exists := s.checkExistence(paths)

	var existing, gone []string
	for _, p := range paths {
		if exists[p] {
			existing = append(existing, p)
		} else {
			gone = append(gone, p)
		}
	}

	changed := false

	healed, err := s.healGhosts(ctx, existing)
	if err != nil {
		return changed, err
	}
	changed = changed || healed

	recovered, err := s.recoverGone(ctx, gone)
	if err != nil {
		return changed, err
	}
	changed = changed || recovered

	logging.Debug("Verified %d paths in %v (changed=%v)", len(paths), time.Since(start), changed)
	return changed, nil
}

// checkExistence stats paths concurrently with a bounded number in flight.
func (s *Service) checkExistence(paths []string) map[string]bool {
	exists := make(map[string]bool, len(paths))
	var mu sync.Mutex

	limit := workers.ForIO(maxStatsInFlight)
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
			ok := err == nil && !info.IsDir()
			mu.Lock()
			exists[p] = ok
			mu.Unlock()
		}()
	}
	wg.Wait()
	return exists
}

// healGhosts restores records that are flagged missing (or scarred with a
// failed recovery attempt) even though their file demonstrably exists.
// This self-heals files restored while the process was not watching.
func (s *Service) healGhosts(ctx context.Context, paths []string) (bool, error) {
	if len(paths) == 0 {
		return false, nil
	}

	records, err := s.db.GetManyByPaths(ctx, paths)
	if err != nil {
		return false, fmt.Errorf("ghost lookup failed: %w", err)
	}

	changed := false
	for _, rec := range records {
		if rec.IsAvailable() && rec.LastScanAttemptAt == nil {
			continue
		}
		if s.verifyGuard.StopRequested() {
			break
		}

		info, err := filesystem.StatWithRetry(rec.Path, filesystem.DefaultRetryConfig())
		if err != nil {
			continue
		}

		logging.Info("Healing ghost record %s at %s", rec.ID, rec.Path)
		mtime := database.Millis(info.ModTime())
		if err := s.db.Rebind(ctx, rec.ID, rec.Path, info.Size(), mtime, rebinder.InodeOf(info)); err != nil {
			logging.Warn("Failed to heal %s: %v", rec.ID, err)
			continue
		}
		metrics.IntegrityRecordsHealed.Inc()
		changed = true
		s.events.Publish(events.ThumbnailRequest{Paths: []string{rec.Path}, Regenerate: false})
		s.events.Publish(events.RecordChanged{ID: rec.ID, Path: rec.Path})
	}
	return changed, nil
}

// recoverGone handles records whose path no longer exists: fresh
// disappearances are flagged missing, and eligible missing records get one
// index-bounded recovery attempt by filename and size.
func (s *Service) recoverGone(ctx context.Context, paths []string) (bool, error) {
	if len(paths) == 0 {
		return false, nil
	}

	records, err := s.db.GetManyByPaths(ctx, paths)
	if err != nil {
		return false, fmt.Errorf("lookup of vanished paths failed: %w", err)
	}

	changed := false
	var scanTargets []*database.MediaRecord

	for _, rec := range records {
		switch {
		case rec.IsAvailable():
			// The watcher missed a deletion
			logging.Info("Flagging vanished record missing: %s", rec.Path)
			if err := s.db.MarkMissingByID(ctx, rec.ID); err != nil {
				logging.Warn("Failed to mark %s missing: %v", rec.ID, err)
				continue
			}
			metrics.ScannerRecordsMarkedMissing.Inc()
			changed = true
			scanTargets = append(scanTargets, rec)
		case rec.LastScanAttemptAt == nil:
			scanTargets = append(scanTargets, rec)
		}
	}

	if len(scanTargets) == 0 {
		return changed, nil
	}

	idx := pathindex.Build(s.roots, recoveryIndexDepth)
	now := database.NowMillis()

	for _, rec := range scanTargets {
		if s.verifyGuard.StopRequested() {
			break
		}

		newPath := s.findRelocated(rec, idx)
		if newPath == "" {
			if err := s.db.StampScanAttempt(ctx, rec.ID, now); err != nil {
				logging.Warn("Failed to stamp scan attempt for %s: %v", rec.ID, err)
			}
			metrics.IntegrityRecordsLost.Inc()
			continue
		}

		info, err := filesystem.StatWithRetry(newPath, filesystem.DefaultRetryConfig())
		if err != nil {
			continue
		}

		logging.Info("RECOVERED %s: %s -> %s", rec.ID, rec.Path, newPath)
		mtime := database.Millis(info.ModTime())
		if err := s.rebinder.Execute(ctx, rec.ID, newPath, info.Size(), mtime, rebinder.InodeOf(info), rec.FileHash); err != nil {
			logging.Warn("Failed to recover %s: %v", rec.ID, err)
			continue
		}
		metrics.IntegrityRecordsRecovered.Inc()
		changed = true
		s.events.Publish(events.ThumbnailInvalidate{Path: rec.Path})
		s.events.Publish(events.ThumbnailRequest{Paths: []string{newPath}, Regenerate: true})
		s.events.Publish(events.RecordChanged{ID: rec.ID, Path: newPath})
	}

	return changed, nil
}

// findRelocated returns the first same-filename candidate whose size
// matches the record, or "" when none qualifies.
func (s *Service) findRelocated(rec *database.MediaRecord, idx *pathindex.Index) string {
	for _, cand := range idx.Lookup(filepath.Base(rec.Path)) {
		if cand == rec.Path {
			continue
		}
		info, err := os.Stat(cand)
		if err != nil || info.IsDir() {
			continue
		}
		if info.Size() == rec.Size {
			return cand
		}
	}
	return ""
}

// MarkAsMissing flips the available record at path to missing with no
// recovery attempt, for explicit watcher delete events. Returns whether a
// record changed state.
func (s *Service) MarkAsMissing(ctx context.Context, path string) (bool, error) {
	changed, err := s.db.MarkMissing(ctx, path)
	if err != nil {
		return false, err
	}
	if changed {
		metrics.ScannerRecordsMarkedMissing.Inc()
		s.events.Publish(events.ThumbnailInvalidate{Path: path})
		s.events.Publish(events.LibraryRefresh{Folder: filepath.Dir(path)})
	}
	return changed, nil
}

// MarkAsMissingByID is MarkAsMissing keyed by record id.
func (s *Service) MarkAsMissingByID(ctx context.Context, id string) error {
	if err := s.db.MarkMissingByID(ctx, id); err != nil {
		return err
	}
	metrics.ScannerRecordsMarkedMissing.Inc()
	return nil
}

// Running reports whether a verification pass is currently in flight.
func (s *Service) Running() bool {
	return s.verifyGuard.Running()
}

// Stop asks an in-flight verification to wind down at its next checkpoint.
func (s *Service) Stop() {
	s.verifyGuard.RequestStop()
}
