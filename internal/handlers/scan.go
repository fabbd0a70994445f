package handlers

import (
	"context"
	"net/http"

	"media-indexer/internal/logging"
)

// TriggerScan starts an interactive scan of a single folder. The scan runs in
// the background; duplicate triggers while one is in flight are dropped.
func (h *Handlers) TriggerScan(w http.ResponseWriter, r *http.Request) {
	folder, ok := h.resolveFolder(r.URL.Query().Get("folder"))
	if !ok {
		writeJSONError(w, "Folder is missing or outside the library roots", http.StatusBadRequest)
		return
	}

	if h.scanner.Running() {
		writeJSONStatus(w, "already_running", http.StatusConflict)
		return
	}

	go func() {
		if _, err := h.scanner.Scan(context.Background(), folder); err != nil {
			logging.Error("triggered scan of %s failed: %v", folder, err)
		}
	}()

	writeJSONStatus(w, "started", http.StatusAccepted)
}

// TriggerQuietScan starts a background quiet scan across all library roots.
func (h *Handlers) TriggerQuietScan(w http.ResponseWriter, _ *http.Request) {
	if h.scanner.Running() {
		writeJSONStatus(w, "already_running", http.StatusConflict)
		return
	}

	go func() {
		for _, root := range h.roots {
			if _, err := h.scanner.ScanQuietly(context.Background(), root); err != nil {
				logging.Error("triggered quiet scan of %s failed: %v", root, err)
			}
		}
	}()

	writeJSONStatus(w, "started", http.StatusAccepted)
}
