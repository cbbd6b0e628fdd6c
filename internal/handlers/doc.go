// Package handlers implements the HTTP API for the media index engine.
//
// The handler layer is deliberately thin: it translates requests into
// calls on the library registry, the scan coordinator, the connection
// pool and the read cache, and maps engine errors onto HTTP status
// codes (unknown ids to 404, state conflicts to 409).
//
// # Routes
//
// Service endpoints:
//   - GET /health: service health summary
//   - GET /livez, /readyz: liveness and readiness probes
//   - GET /version: build information
//
// Library management:
//   - GET /api/libraries: list registered libraries
//   - POST /api/libraries: register a root, watch it and start its
//     initial scan
//   - GET /api/libraries/{id}: one library
//   - DELETE /api/libraries/{id}: unregister (index files stay on disk)
//
// Reads (served through the version-checked cache):
//   - GET /api/libraries/{id}/tree: folder tree with counts
//   - GET /api/libraries/{id}/folder?path=: one folder's listing
//   - GET /api/libraries/{id}/stats: aggregate counts
//
// Scan control:
//   - GET /api/libraries/{id}/scan: current scan state
//   - POST /api/libraries/{id}/scan: start a full scan
//   - POST /api/libraries/{id}/sync: start an incremental sync
//   - POST /api/libraries/{id}/scan/stop: pause the active scan
//   - POST /api/libraries/{id}/scan/resume: resume a paused scan
//
// Events:
//   - GET /api/libraries/{id}/events: server-sent event stream of scan
//     lifecycle notifications
package handlers
