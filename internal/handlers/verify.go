package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"media-indexer/internal/logging"
)

// verifyRequest is the body accepted by TriggerVerify.
type verifyRequest struct {
	Paths []string `json:"paths"`
}

// TriggerVerify starts an existence verification and recovery pass over the
// supplied paths. The pass runs in the background; a second trigger while one
// is in flight is rejected.
func (h *Handlers) TriggerVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Paths) == 0 {
		writeJSONError(w, "No paths supplied", http.StatusBadRequest)
		return
	}

	if h.integrity.Running() {
		writeJSONStatus(w, "already_running", http.StatusConflict)
		return
	}

	paths := req.Paths
	go func() {
		if _, err := h.integrity.VerifyAndRecover(context.Background(), paths); err != nil {
			logging.Error("triggered verification failed: %v", err)
		}
	}()

	writeJSONStatus(w, "started", http.StatusAccepted)
}
