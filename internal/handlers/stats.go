package handlers

import (
	"net/http"
)

// GetStats returns the cached library statistics
func (h *Handlers) GetStats(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, h.db.GetStats())
}
