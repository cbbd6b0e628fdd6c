// Package middleware provides HTTP middleware for the index server.
//
// It includes:
//   - Request logging in W3C Extended Log Format
//   - Prometheus request metrics with path normalization
//   - Response compression (gzip)
//   - Configurable filtering for static files and health checks
package middleware
