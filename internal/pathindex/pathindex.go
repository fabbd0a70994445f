// Package pathindex builds a transient basename lookup over the library
// roots. It bounds the search space for move recovery: instead of hashing
// the whole tree, recovery only stats files that share a missing record's
// filename.
//
// The index is rebuilt fresh for each use and never persisted. It is used
// immediately after construction, so staleness is not a concern.
package pathindex

import (
	"path/filepath"
	"strings"

	"media-indexer/internal/filesystem"
	"media-indexer/internal/logging"
)

// Index maps file basenames to every full path carrying that name.
type Index struct {
	byName map[string][]string
}

// Build walks the given roots up to maxDepth levels deep and records every
// regular file it sees. Hidden entries are skipped and symlinks are never
// followed. Unreadable directories are logged and skipped.
func Build(roots []string, maxDepth int) *Index {
	idx := &Index{byName: make(map[string][]string)}
	for _, root := range roots {
		idx.walk(root, 0, maxDepth)
	}
	return idx
}

func (idx *Index) walk(dir string, depth, maxDepth int) {
	if depth > maxDepth {
		return
	}

	entries, err := filesystem.ReadDirWithRetry(dir, filesystem.DefaultRetryConfig())
	if err != nil {
		logging.Debug("Path index skipping unreadable directory %s: %v", dir, err)
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
			idx.walk(full, depth+1, maxDepth)
		case entry.Type().IsRegular():
			idx.byName[name] = append(idx.byName[name], full)
		}
		// Symlinks and other special entries are ignored
	}
}

// Lookup returns every indexed path whose basename equals name.
func (idx *Index) Lookup(name string) []string {
	return idx.byName[name]
}

// Len returns the number of distinct basenames indexed.
func (idx *Index) Len() int {
	return len(idx.byName)
}
