package handlers

import (
	"net/http"

	"media-indexer/internal/logging"

	"github.com/gorilla/mux"
)

// RequestMetadata places a record at the front of the metadata queue. The
// extraction itself happens asynchronously on the harvester worker.
func (h *Handlers) RequestMetadata(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]

	rec, err := h.db.GetByID(r.Context(), id)
	if err != nil {
		logging.Error("RequestMetadata database error: %v", err)
		writeJSONError(w, "Failed to load record", http.StatusInternalServerError)
		return
	}
	if rec == nil {
		writeJSONError(w, "Record not found", http.StatusNotFound)
		return
	}

	h.harvester.Request(id)
	writeJSONStatus(w, "queued", http.StatusAccepted)
}
