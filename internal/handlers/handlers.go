package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"media-index/internal/cache"
	"media-index/internal/detect"
	"media-index/internal/library"
	"media-index/internal/notify"
	"media-index/internal/pool"
	"media-index/internal/scan"
)

// Handlers carries the wired engine components into the HTTP layer.
type Handlers struct {
	registry *library.Registry
	coord    *scan.Coordinator
	pool     *pool.Pool
	cache    *cache.Cache
	bus      *notify.Bus
	detector detect.Detector
	started  time.Time
}

// New creates the handler set.
func New(registry *library.Registry, coord *scan.Coordinator, p *pool.Pool, c *cache.Cache, bus *notify.Bus, detector detect.Detector) *Handlers {
	return &Handlers{
		registry: registry,
		coord:    coord,
		pool:     p,
		cache:    c,
		bus:      bus,
		detector: detector,
		started:  time.Now(),
	}
}

// RegisterRoutes attaches every route to the router.
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)
	r.HandleFunc("/livez", h.LivenessCheck).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/readyz", h.ReadinessCheck).Methods(http.MethodGet)
	r.HandleFunc("/version", h.GetVersion).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/libraries", h.ListLibraries).Methods(http.MethodGet)
	api.HandleFunc("/libraries", h.AddLibrary).Methods(http.MethodPost)
	api.HandleFunc("/libraries/{id}", h.GetLibrary).Methods(http.MethodGet)
	api.HandleFunc("/libraries/{id}", h.RemoveLibrary).Methods(http.MethodDelete)

	api.HandleFunc("/libraries/{id}/tree", h.GetTree).Methods(http.MethodGet)
	api.HandleFunc("/libraries/{id}/folder", h.GetFolder).Methods(http.MethodGet)
	api.HandleFunc("/libraries/{id}/stats", h.GetStats).Methods(http.MethodGet)

	api.HandleFunc("/libraries/{id}/scan", h.GetScanState).Methods(http.MethodGet)
	api.HandleFunc("/libraries/{id}/scan", h.StartScan).Methods(http.MethodPost)
	api.HandleFunc("/libraries/{id}/scan/stop", h.StopScan).Methods(http.MethodPost)
	api.HandleFunc("/libraries/{id}/scan/resume", h.ResumeScan).Methods(http.MethodPost)
	api.HandleFunc("/libraries/{id}/sync", h.StartSync).Methods(http.MethodPost)

	api.HandleFunc("/libraries/{id}/events", h.StreamEvents).Methods(http.MethodGet)
}
