// Package rebinder decides whether a freshly observed file corresponds to
// an existing record, so that renames and moves re-use the original record
// instead of creating a duplicate and orphaning its favorites and tags.
//
// Matching uses two hints in order: the inode number (guarded by a size
// check against inode reuse) and, when the caller allows it, a partial
// content hash compared against missing records of the same size.
package rebinder

import (
	"context"
	"fmt"
	"os"
	"sort"
	"syscall"

	"media-indexer/internal/database"
	"media-indexer/internal/hasher"
	"media-indexer/internal/logging"
	"media-indexer/internal/metrics"
)

// Rebinder resolves observed files to existing records.
type Rebinder struct {
	db *database.Database
}

// New creates a Rebinder backed by the given database.
func New(db *database.Database) *Rebinder {
	return &Rebinder{db: db}
}

// InodeOf extracts the inode number from a FileInfo, if the platform
// provides one.
func InodeOf(info os.FileInfo) *int64 {
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		ino := int64(st.Ino)
		return &ino
	}
	return nil
}

// FindCandidate returns the existing record the observed file most likely
// is, or nil when no record matches.
//
// Inode matches are ranked available-first, then most recently seen. The
// top candidate is accepted only if its stored size matches the observed
// size, since the OS may hand a deleted file's inode to an unrelated new
// file. Without an inode match, and only when allowHashCalc is set, the
// observed file is hashed and compared against missing records of the
// same size.
func (r *Rebinder) FindCandidate(ctx context.Context, path string, info os.FileInfo, allowHashCalc bool) (*database.MediaRecord, error) {
	size := info.Size()

	if ino := InodeOf(info); ino != nil {
		candidates, err := r.db.FindByInode(ctx, *ino)
		if err != nil {
			return nil, fmt.Errorf("inode lookup for %s failed: %w", path, err)
		}
		if len(candidates) > 0 {
			sort.SliceStable(candidates, func(i, j int) bool {
				if candidates[i].IsAvailable() != candidates[j].IsAvailable() {
					return candidates[i].IsAvailable()
				}
				return candidates[i].LastSeenAt > candidates[j].LastSeenAt
			})
			top := candidates[0]
			if top.Size == size {
				metrics.RebinderMatches.WithLabelValues("inode").Inc()
				return top, nil
			}
			logging.Debug("Inode %d candidate %s rejected: size %d != %d (inode reuse?)",
				*ino, top.Path, top.Size, size)
		}
	}

	if !allowHashCalc {
		metrics.RebinderMisses.Inc()
		return nil, nil
	}

	candidates, err := r.db.FindMissingBySize(ctx, size)
	if err != nil {
		return nil, fmt.Errorf("size lookup for %s failed: %w", path, err)
	}
	if len(candidates) == 0 {
		metrics.RebinderMisses.Inc()
		return nil, nil
	}

	metrics.RebinderHashCalculations.Inc()
	hash, err := hasher.Compute(path)
	if err != nil {
		return nil, fmt.Errorf("hash of %s failed: %w", path, err)
	}

	for _, cand := range candidates {
		if cand.FileHash != nil && *cand.FileHash == hash {
			metrics.RebinderMatches.WithLabelValues("hash").Inc()
			return cand, nil
		}
	}

	metrics.RebinderMisses.Inc()
	return nil, nil
}

// Execute rebinds record id to newPath with fresh stat fields, restoring
// it to available. When the record has no stored hash yet, computation is
// kicked off in the background so the caller never waits on file I/O.
func (r *Rebinder) Execute(ctx context.Context, id, newPath string, size, mtime int64, ino *int64, existingHash *string) error {
	if err := r.db.Rebind(ctx, id, newPath, size, mtime, ino); err != nil {
		return fmt.Errorf("rebind of %s to %s failed: %w", id, newPath, err)
	}

	if existingHash == nil {
		hasher.ComputeAndStoreAsync(r.db, id, newPath)
	}

	return nil
}
