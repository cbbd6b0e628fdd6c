package metrics

import (
	"time"

	"media-index/internal/logging"
)

// StatsProvider interface for collecting stats
type StatsProvider interface {
	GetStats() Stats
}

// Stats holds the current index-wide statistics
type Stats struct {
	TotalLibraries int
	TotalFiles     int
	TotalFolders   int
	TotalImages    int
	TotalVideos    int
}

// Collector periodically collects and updates metrics
type Collector struct {
	statsProvider StatsProvider
	interval      time.Duration
	stopChan      chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(provider StatsProvider, interval time.Duration) *Collector {
	return &Collector{
		statsProvider: provider,
		interval:      interval,
		stopChan:      make(chan struct{}),
	}
}

// Start begins the metrics collection loop
func (c *Collector) Start() {
	go c.collectLoop()
}

// Stop stops the metrics collection
func (c *Collector) Stop() {
	close(c.stopChan)
}

func (c *Collector) collectLoop() {
	// Collect immediately on start
	c.collect()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.collect()
		case <-c.stopChan:
			return
		}
	}
}

func (c *Collector) collect() {
	if c.statsProvider == nil {
		return
	}

	stats := c.statsProvider.GetStats()

	LibrariesTotal.Set(float64(stats.TotalLibraries))
	IndexedFilesTotal.WithLabelValues("image").Set(float64(stats.TotalImages))
	IndexedFilesTotal.WithLabelValues("video").Set(float64(stats.TotalVideos))
	IndexedFoldersTotal.Set(float64(stats.TotalFolders))

	logging.Debug("Metrics collected: libraries=%d, files=%d, folders=%d",
		stats.TotalLibraries, stats.TotalFiles, stats.TotalFolders)
}
