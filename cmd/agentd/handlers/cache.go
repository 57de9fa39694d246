package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/taskdeck/clientsync/internal/cache"
)

// CacheHandler handles the persisted query cache snapshot endpoints.
type CacheHandler struct {
	persister *cache.Persister
}

// NewCacheHandler creates a new CacheHandler.
func NewCacheHandler(p *cache.Persister) *CacheHandler {
	return &CacheHandler{persister: p}
}

// Persist handles POST /api/cache
// Stores a client snapshot. The body is the snapshot itself.
func (h *CacheHandler) Persist(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	if !json.Valid(body) {
		http.Error(w, "Snapshot must be valid JSON", http.StatusBadRequest)
		return
	}

	h.persister.PersistClient(r.Context(), body)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "success",
	})
}

// Restore handles GET /api/cache
// Returns the persisted snapshot, or 404 when none is usable.
func (h *CacheHandler) Restore(w http.ResponseWriter, r *http.Request) {
	snapshot := h.persister.RestoreClient(r.Context())
	if snapshot == nil {
		http.Error(w, "No cached snapshot available", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(snapshot)
}

// Remove handles DELETE /api/cache
// Discards the persisted snapshot.
func (h *CacheHandler) Remove(w http.ResponseWriter, r *http.Request) {
	h.persister.RemoveClient(r.Context())

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "success",
	})
}
