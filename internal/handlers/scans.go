package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
)

// GetScanState returns the library's current scan state snapshot.
func (h *Handlers) GetScanState(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := h.registry.Get(id); err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, h.coord.GetState(id))
}

// StartScan starts a full scan for the library.
func (h *Handlers) StartScan(w http.ResponseWriter, r *http.Request) {
	if err := h.coord.RequestFullScan(mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	writeJSONStatus(w, "scanning")
}

// StartSync starts an incremental sync for the library.
func (h *Handlers) StartSync(w http.ResponseWriter, r *http.Request) {
	if err := h.coord.RequestSync(mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	writeJSONStatus(w, "syncing")
}

// StopScan requests a stop of the active scan. A full scan pauses at
// the next batch boundary; the response reflects the request only, the
// state transition is observable via GetScanState or the event stream.
func (h *Handlers) StopScan(w http.ResponseWriter, r *http.Request) {
	if err := h.coord.RequestStop(mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	writeJSONStatus(w, "stopping")
}

// ResumeScan continues a paused scan over its preserved pending list.
func (h *Handlers) ResumeScan(w http.ResponseWriter, r *http.Request) {
	if err := h.coord.RequestResume(mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	writeJSONStatus(w, "resuming")
}
