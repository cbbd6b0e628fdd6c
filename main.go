package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"media-index/internal/cache"
	"media-index/internal/detect"
	"media-index/internal/extract"
	"media-index/internal/filesystem"
	"media-index/internal/handlers"
	"media-index/internal/library"
	"media-index/internal/logging"
	"media-index/internal/memory"
	"media-index/internal/metrics"
	"media-index/internal/middleware"
	"media-index/internal/notify"
	"media-index/internal/pool"
	"media-index/internal/scan"
	"media-index/internal/startup"
)

func main() {
	startTime := time.Now()

	// Configure GOMEMLIMIT before significant allocations
	memResult := memory.ConfigureFromEnv()

	// Load configuration
	config, err := startup.LoadConfig()
	if err != nil {
		startup.LogFatal("Configuration error: %v", err)
	}

	startup.LogMemoryConfig(startup.MemoryConfig{
		Configured:     memResult.Configured,
		Source:         memResult.Source,
		ContainerLimit: memResult.ContainerLimit,
		GoMemLimit:     memResult.GoMemLimit,
		Ratio:          memResult.Ratio,
	})

	// Load library registry
	regStart := time.Now()
	registry, err := library.NewRegistry(config.DataDir)
	if err != nil {
		startup.LogFatal("Failed to load library registry: %v", err)
	}
	startup.LogRegistryInit(registry.Count(), time.Since(regStart))

	// Connection pool and read cache
	p := pool.New(pool.Config{
		IdleTimeout:   config.PoolIdleTimeout,
		SweepInterval: config.PoolSweepInterval,
	})
	readCache := cache.New()

	// Filesystem retry metrics
	filesystem.SetObserver(metrics.NewFilesystemObserver())

	// Derived-asset extractor
	if err := extract.InitVips(); err != nil {
		logging.Warn("libvips initialization failed: %v", err)
	}
	startup.LogExtractorInit(extract.IsVipsAvailable())
	extractor := extract.New()

	// Memory pressure monitor
	memMonitor := memory.NewMonitor(memory.DefaultConfig())
	memMonitor.Start()

	// Scan coordinator
	startup.LogCoordinatorInit(config.SettleDelay)
	bus := notify.NewBus()
	coord, err := scan.NewCoordinator(registry, p, readCache, extractor, bus, config.DataDir)
	if err != nil {
		startup.LogFatal("Failed to initialize scan coordinator: %v", err)
	}
	coord.SetMemoryMonitor(memMonitor)
	if err := coord.ReloadStates(); err != nil {
		startup.LogFatal("Failed to reload scan states: %v", err)
	}

	// Change detector
	startup.LogDetectorInit(config.DetectorStrategy, config.PollInterval)
	detector, err := detect.New(config.DetectorStrategy, coord, p, detect.Config{
		PollInterval: config.PollInterval,
	})
	if err != nil {
		startup.LogFatal("Failed to initialize change detector: %v", err)
	}
	for _, lib := range registry.List() {
		if err := detector.Watch(lib); err != nil {
			logging.Warn("Change detection unavailable for %s: %v", lib.RootPath, err)
		}
	}

	// Resume scans interrupted by the previous process exit
	coord.AutoResume(config.SettleDelay)

	// Periodic stats collection for gauges
	collector := metrics.NewCollector(&statsProvider{registry: registry, pool: p}, 5*time.Minute)
	collector.Start()

	// Initialize handlers and router
	h := handlers.New(registry, coord, p, readCache, bus, detector)
	router := mux.NewRouter()
	h.RegisterRoutes(router)

	startup.LogHTTPRoutes(router, config.LogStaticFiles, config.LogHealthChecks)

	// Middleware chain: metrics innermost, then logging, compression last
	metricsHandler := middleware.Metrics(middleware.DefaultMetricsConfig())(router)

	loggingConfig := middleware.DefaultLoggingConfig()
	loggingConfig.LogStaticFiles = config.LogStaticFiles
	loggingConfig.LogHealthChecks = config.LogHealthChecks
	loggedHandler := middleware.Logger(loggingConfig)(metricsHandler)

	handler := middleware.Compression(middleware.DefaultCompressionConfig())(loggedHandler)

	srv := &http.Server{
		Addr:         ":" + config.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // SSE streams stay open indefinitely
		IdleTimeout:  60 * time.Second,
	}

	var metricsSrv *http.Server
	if config.MetricsEnabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{
			Addr:         ":" + config.MetricsPort,
			Handler:      metricsMux,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
		}
	}

	// Start graceful shutdown handler
	go handleShutdown(srv, metricsSrv, detector, coord, collector, memMonitor, p)

	startup.LogServerStarted(startup.ServerConfig{
		Port:            config.Port,
		MetricsPort:     config.MetricsPort,
		MetricsEnabled:  config.MetricsEnabled,
		StartupDuration: time.Since(startTime),
	})

	var g errgroup.Group
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	if metricsSrv != nil {
		g.Go(func() error {
			if err := metricsSrv.ListenAndServe(); err != http.ErrServerClosed {
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		startup.LogFatal("Server error: %v", err)
	}
}

// statsProvider aggregates index counts across every registered library
// for the periodic metrics collector.
type statsProvider struct {
	registry *library.Registry
	pool     *pool.Pool
}

func (sp *statsProvider) GetStats() metrics.Stats {
	libs := sp.registry.List()
	stats := metrics.Stats{TotalLibraries: len(libs)}

	for _, lib := range libs {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		st, err := sp.pool.Acquire(ctx, lib.RootPath)
		cancel()
		if err != nil {
			logging.Debug("Stats collection skipped for %s: %v", lib.RootPath, err)
			continue
		}

		libStats, err := st.CalculateStats(context.Background())
		sp.pool.Release(lib.RootPath)
		if err != nil {
			logging.Debug("Stats query failed for %s: %v", lib.RootPath, err)
			continue
		}

		stats.TotalFiles += libStats.TotalFiles
		stats.TotalFolders += libStats.TotalFolders
		stats.TotalImages += libStats.TotalImages
		stats.TotalVideos += libStats.TotalVideos
	}
	return stats
}

func handleShutdown(srv, metricsSrv *http.Server, detector detect.Detector, coord *scan.Coordinator, collector *metrics.Collector, memMonitor *memory.Monitor, p *pool.Pool) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	startup.LogShutdownInitiated(sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	startup.LogShutdownStep("Stopping change detector")
	detector.Close()
	startup.LogShutdownStepComplete("Change detector stopped")

	startup.LogShutdownStep("Pausing active scans")
	if err := coord.Shutdown(ctx); err != nil {
		logging.Warn("Coordinator shutdown error: %v", err)
	} else {
		startup.LogShutdownStepComplete("Active scans paused")
	}

	collector.Stop()
	memMonitor.Stop()

	startup.LogShutdownStep("Shutting down HTTP server")
	if err := srv.Shutdown(ctx); err != nil {
		logging.Warn("Server shutdown error: %v", err)
	} else {
		startup.LogShutdownStepComplete("HTTP server stopped")
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(ctx); err != nil {
			logging.Warn("Metrics server shutdown error: %v", err)
		}
	}

	startup.LogShutdownStep("Closing index stores")
	p.CloseAll()
	startup.LogShutdownStepComplete("Index stores closed")

	extract.ShutdownVips()

	startup.LogShutdownComplete()
}
