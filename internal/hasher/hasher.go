// Package hasher computes partial content fingerprints for media files.
//
// A fingerprint covers the decimal file size, the first 16 KiB, and (for
// files larger than 32 KiB) the last 16 KiB. Files at or under 32 KiB are
// hashed whole. This bounds I/O cost for large video files at the price of
// not detecting mid-file edits as moves.
package hasher

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"

	"media-indexer/internal/filesystem"
	"media-indexer/internal/logging"
)

const chunkSize = 16 * 1024

// Compute returns the partial content hash for the file at path.
func Compute(path string) (string, error) {
	info, err := filesystem.StatWithRetry(path, filesystem.DefaultRetryConfig())
	if err != nil {
		return "", fmt.Errorf("failed to stat %s: %w", path, err)
	}

	f, err := filesystem.OpenWithRetry(path, filesystem.DefaultRetryConfig())
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	size := info.Size()
	h := md5.New()
	h.Write([]byte(strconv.FormatInt(size, 10)))

	if size <= 2*chunkSize {
		if _, err := io.Copy(h, f); err != nil {
			return "", fmt.Errorf("failed to read %s: %w", path, err)
		}
		return hex.EncodeToString(h.Sum(nil)), nil
	}

	if _, err := io.CopyN(h, f, chunkSize); err != nil {
		return "", fmt.Errorf("failed to read head of %s: %w", path, err)
	}

	if _, err := f.Seek(-chunkSize, io.SeekEnd); err != nil {
		return "", fmt.Errorf("failed to seek tail of %s: %w", path, err)
	}
	if _, err := io.CopyN(h, f, chunkSize); err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to read tail of %s: %w", path, err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// Store persists a computed hash for a record. It is implemented by the
// database layer; the store must refuse the write if the record has
// moved or gone missing since the hash was requested.
type Store interface {
	SetFileHash(ctx context.Context, id, path, hash string) (bool, error)
}

// ComputeAndStoreAsync computes the hash for a record's file in the
// background and stores it best-effort. The caller is never blocked and
// failures are only logged; the next hash opportunity will retry.
func ComputeAndStoreAsync(store Store, id, path string) {
	go func() {
		hash, err := Compute(path)
		if err != nil {
			logging.Debug("Hash computation for %s failed: %v", path, err)
			return
		}

		applied, err := store.SetFileHash(context.Background(), id, path, hash)
		if err != nil {
			logging.Warn("Failed to store hash for record %s: %v", id, err)
			return
		}
		if !applied {
			// Record moved or went missing while we were hashing
			logging.Debug("Discarded stale hash for record %s (%s)", id, path)
		}
	}()
}
