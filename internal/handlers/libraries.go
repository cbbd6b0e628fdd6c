package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"media-index/internal/logging"
)

// AddLibraryRequest is the POST /api/libraries body.
type AddLibraryRequest struct {
	RootPath string `json:"rootPath"`
	Name     string `json:"name,omitempty"`
}

// ListLibraries returns every registered library.
func (h *Handlers) ListLibraries(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, h.registry.List())
}

// AddLibrary registers a new library root, starts watching it and kicks
// off its initial full scan.
func (h *Handlers) AddLibrary(w http.ResponseWriter, r *http.Request) {
	var req AddLibraryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.RootPath == "" {
		writeJSONError(w, "rootPath is required", http.StatusBadRequest)
		return
	}

	lib, err := h.registry.Add(req.RootPath, req.Name)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.detector.Watch(lib); err != nil {
		logging.Warn("Change detection unavailable for %s: %v", lib.RootPath, err)
	}
	if err := h.coord.RequestFullScan(lib.ID); err != nil {
		logging.Warn("Initial scan failed to start for %s: %v", lib.RootPath, err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, lib)
}

// GetLibrary returns one library by id.
func (h *Handlers) GetLibrary(w http.ResponseWriter, r *http.Request) {
	lib, err := h.registry.Get(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, lib)
}

// RemoveLibrary unregisters a library. The on-disk index directory is
// left in place; re-adding the same root picks it back up.
func (h *Handlers) RemoveLibrary(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	lib, err := h.registry.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}

	// Stop change detection and any active scan before dropping the
	// registration, then close the store handle so the file releases.
	h.detector.Unwatch(id)
	h.coord.ResetLibrary(id)
	if err := h.pool.Close(lib.RootPath); err != nil {
		logging.Warn("Failed to close index for removed library %s: %v", lib.RootPath, err)
	}

	if err := h.registry.Remove(id); err != nil {
		writeError(w, err)
		return
	}

	writeJSONStatus(w, "removed")
}
