package handlers

import (
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"media-indexer/internal/database"
	"media-indexer/internal/harvester"
	"media-indexer/internal/integrity"
	"media-indexer/internal/scanner"
	"media-indexer/internal/startup"
)

type Handlers struct {
	db        *database.Database
	scanner   *scanner.Scanner
	integrity *integrity.Service
	harvester *harvester.Harvester
	roots     []string
	startedAt time.Time
	ready     atomic.Bool
}

func New(db *database.Database, sc *scanner.Scanner, ig *integrity.Service, hv *harvester.Harvester, config *startup.Config) *Handlers {
	return &Handlers{
		db:        db,
		scanner:   sc,
		integrity: ig,
		harvester: hv,
		roots:     config.MediaDirs,
		startedAt: time.Now(),
	}
}

// MarkReady flips the readiness probe once startup has finished wiring the
// subsystems. Called exactly once from main.
func (h *Handlers) MarkReady() {
	h.ready.Store(true)
}

// resolveFolder cleans a requested folder path and verifies it sits under one
// of the configured library roots. Returns the cleaned path and true when the
// folder is acceptable.
func (h *Handlers) resolveFolder(folder string) (string, bool) {
	if folder == "" {
		return "", false
	}
	cleaned := filepath.Clean(folder)
	for _, root := range h.roots {
		if cleaned == root || strings.HasPrefix(cleaned, root+string(filepath.Separator)) {
			return cleaned, true
		}
	}
	return "", false
}
