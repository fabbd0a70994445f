package handlers

import (
	"net/http"

	"media-indexer/internal/logging"

	"github.com/gorilla/mux"
)

// GetRecord returns a single record by id
func (h *Handlers) GetRecord(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]

	rec, err := h.db.GetByID(r.Context(), id)
	if err != nil {
		logging.Error("GetRecord database error: %v", err)
		writeJSONError(w, "Failed to load record", http.StatusInternalServerError)
		return
	}
	if rec == nil {
		writeJSONError(w, "Record not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, rec)
}

// LookupRecord resolves a record by absolute path, preferring the available
// record when a tombstone shares the path
func (h *Handlers) LookupRecord(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeJSONError(w, "Missing path parameter", http.StatusBadRequest)
		return
	}

	rec, err := h.db.GetByPath(r.Context(), path)
	if err != nil {
		logging.Error("LookupRecord database error: %v", err)
		writeJSONError(w, "Failed to load record", http.StatusInternalServerError)
		return
	}
	if rec == nil {
		writeJSONError(w, "Record not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, rec)
}

// ListFolder returns the available records directly under a folder
func (h *Handlers) ListFolder(w http.ResponseWriter, r *http.Request) {
	folder := r.URL.Query().Get("path")
	if folder == "" {
		writeJSONError(w, "Missing path parameter", http.StatusBadRequest)
		return
	}

	records, err := h.db.ListByParent(r.Context(), folder)
	if err != nil {
		logging.Error("ListFolder database error: %v", err)
		writeJSONError(w, "Failed to list folder", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, records)
}
