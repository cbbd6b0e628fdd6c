package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"media-index/internal/library"
	"media-index/internal/store"
)

// withLibraryStore resolves the library from the route, acquires its
// store handle for the duration of fn and releases it afterwards.
func (h *Handlers) withLibraryStore(w http.ResponseWriter, r *http.Request, fn func(lib *library.Library, st *store.Store) error) {
	lib, err := h.registry.Get(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}

	st, err := h.pool.Acquire(r.Context(), lib.RootPath)
	if err != nil {
		writeError(w, err)
		return
	}
	defer h.pool.Release(lib.RootPath)

	if err := fn(lib, st); err != nil {
		writeError(w, err)
	}
}

// GetTree returns the library's full folder tree with per-folder counts.
func (h *Handlers) GetTree(w http.ResponseWriter, r *http.Request) {
	h.withLibraryStore(w, r, func(lib *library.Library, st *store.Store) error {
		payload, err := h.cache.LibraryTree(r.Context(), st)
		if err != nil {
			return err
		}
		w.Header().Set("Content-Type", "application/json")
		writeJSON(w, payload)
		return nil
	})
}

// GetFolder returns one folder's direct file listing. The folder is
// passed in the "path" query parameter; empty means the library root.
func (h *Handlers) GetFolder(w http.ResponseWriter, r *http.Request) {
	folder := r.URL.Query().Get("path")

	h.withLibraryStore(w, r, func(lib *library.Library, st *store.Store) error {
		payload, err := h.cache.FolderListing(r.Context(), st, folder)
		if err != nil {
			return err
		}
		w.Header().Set("Content-Type", "application/json")
		writeJSON(w, payload)
		return nil
	})
}

// GetStats returns aggregate counts for a library.
func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	h.withLibraryStore(w, r, func(lib *library.Library, st *store.Store) error {
		stats, err := st.CalculateStats(r.Context())
		if err != nil {
			return err
		}
		w.Header().Set("Content-Type", "application/json")
		writeJSON(w, stats)
		return nil
	})
}
