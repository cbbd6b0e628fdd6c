// Package startup handles application initialization, configuration loading,
// and startup/shutdown logging.
//
// This package centralizes all application configuration and provides consistent
// logging throughout the application lifecycle.
//
// # Configuration
//
// All configuration is loaded from environment variables via [LoadConfig].
// The following environment variables are supported:
//
//   - DATA_DIR: Application data directory for the library registry and scan
//     states (default: /data)
//   - PORT: HTTP server port (default: 8080)
//   - METRICS_PORT: Prometheus metrics server port (default: 9090)
//   - METRICS_ENABLED: Enable or disable metrics server (default: true)
//   - CHANGE_DETECTOR: Change detection strategy, "polling" or "events"
//     (default: polling)
//   - POLL_INTERVAL: Polling detector cycle interval as Go duration (default: 30s)
//   - RESUME_SETTLE: Settle delay before auto-resuming interrupted scans
//     (default: 3s)
//   - POOL_IDLE_TIMEOUT: Idle time before an unused index handle is closed
//     (default: 5m)
//   - POOL_SWEEP_INTERVAL: Idle-handle sweep interval (default: 1m)
//   - SCAN_WORKERS: Override for the parallel extraction worker count
//   - LOG_LEVEL: Logging level - debug, info, warn, error (default: info)
//   - LOG_STATIC_FILES: Log static file requests (default: false)
//   - LOG_HEALTH_CHECKS: Log health check requests (default: true)
//   - MEMORY_LIMIT: Container memory limit for automatic GOMEMLIMIT configuration
//   - MEMORY_RATIO: Percentage of MEMORY_LIMIT for Go heap (default: 0.85)
//   - GOMEMLIMIT: Direct override for Go's memory limit
//
// # Directory Setup
//
// The data directory is created if missing and must be writable; each
// library's index and cache live inside the library root itself, so no
// other directories are provisioned here.
//
// # Build Information
//
// Build-time variables are injected via ldflags and exposed via [GetBuildInfo]:
//   - Version: Application version
//   - Commit: Git commit hash
//   - BuildTime: Build timestamp
//   - GoVersion: Go compiler version
//
// # Lifecycle Logging
//
// The package provides structured logging functions for consistent output:
//   - [LogRegistryInit]: Library registry load timing
//   - [LogCoordinatorInit]: Scan coordinator configuration
//   - [LogDetectorInit]: Change detector strategy and interval
//   - [LogExtractorInit]: Derived-asset extractor availability
//   - [LogHTTPRoutes]: Registered HTTP routes (debug level)
//   - [LogServerStarted]: Server endpoints and startup duration
//   - [LogShutdownInitiated]: Graceful shutdown start
//   - [LogShutdownComplete]: Shutdown completion
//   - [LogMemoryConfig]: Memory limit configuration
//
// # Example Usage
//
//	config, err := startup.LoadConfig()
//	if err != nil {
//	    startup.LogFatal("Configuration error: %v", err)
//	}
//
//	// Initialize components...
//	startup.LogRegistryInit(registry.Count(), time.Since(regStart))
//	startup.LogDetectorInit(config.DetectorStrategy, config.PollInterval)
//
//	// Start server...
//	startup.LogServerStarted(startup.ServerConfig{
//	    Port:            config.Port,
//	    MetricsPort:     config.MetricsPort,
//	    MetricsEnabled:  config.MetricsEnabled,
//	    StartupDuration: time.Since(startTime),
//	})
//
//	// On shutdown...
//	startup.LogShutdownInitiated("SIGTERM")
//	// ... cleanup ...
//	startup.LogShutdownComplete()
package startup
