package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	apperrors "github.com/taskdeck/clientsync/internal/errors"
	"github.com/taskdeck/clientsync/internal/scheduler"
)

// SyncHandler handles sync trigger and status endpoints.
type SyncHandler struct {
	scheduler *scheduler.Scheduler
}

// NewSyncHandler creates a new SyncHandler.
func NewSyncHandler(s *scheduler.Scheduler) *SyncHandler {
	return &SyncHandler{scheduler: s}
}

// GetStatus handles GET /api/sync/status
// Returns the scheduler state and queue counters.
func (h *SyncHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	status := h.scheduler.GetStatus(r.Context())

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

// TriggerSync handles POST /api/sync/trigger
// Runs a sync cycle immediately. Returns 409 if a cycle is already
// in progress.
func (h *SyncHandler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	if err := h.scheduler.SyncNow(r.Context()); err != nil {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) && appErr.Code == apperrors.ErrSyncInProgress {
			http.Error(w, "Sync already in progress", http.StatusConflict)
			return
		}
		http.Error(w, "Sync failed: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "success",
	})
}

// SetOnline handles PUT /api/sync/online
// Toggles the connectivity flag that gates the background scan loop.
func (h *SyncHandler) SetOnline(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Online bool `json:"online"`
	}

	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	h.scheduler.SetOnline(request.Online)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "success",
		"online": request.Online,
	})
}
