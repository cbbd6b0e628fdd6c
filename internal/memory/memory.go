package memory

import (
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"media-index/internal/logging"
	"media-index/internal/metrics"
)

// Config tunes the pressure monitor.
type Config struct {
	// LimitBytes is the heap budget. Zero adopts GOMEMLIMIT when one
	// is set; with neither, the monitor is inert.
	LimitBytes int64

	// HighWater is the fraction of the budget below which a paused
	// monitor resumes.
	HighWater float64

	// CriticalWater is the fraction of the budget at which extraction
	// pauses.
	CriticalWater float64

	// CheckInterval is the sampling period.
	CheckInterval time.Duration
}

// DefaultConfig returns the watermarks the index engine runs with.
func DefaultConfig() Config {
	return Config{
		HighWater:     0.7,
		CriticalWater: 0.85,
		CheckInterval: 5 * time.Second,
	}
}

// Monitor samples heap usage and pauses extraction batches while the
// process sits above the critical watermark. Reconcilers block in
// WaitIfPaused between batches, so a paused scan costs no memory
// beyond what is already allocated.
type Monitor struct {
	cfg   Config
	limit int64

	mu     sync.RWMutex
	alloc  uint64
	paused bool
	resume chan struct{}

	stop chan struct{}
}

// NewMonitor creates a monitor. With no explicit limit it adopts
// GOMEMLIMIT, matching whatever ConfigureFromEnv decided at startup.
func NewMonitor(cfg Config) *Monitor {
	limit := cfg.LimitBytes
	if limit == 0 {
		if l := debug.SetMemoryLimit(-1); l > 0 && l < 1<<62 {
			limit = l
			logging.Info("Memory monitor adopting GOMEMLIMIT: %s", formatBytes(limit))
		}
	}
	if limit == 0 {
		logging.Warn("No memory limit configured, scan backpressure disabled")
	}

	return &Monitor{
		cfg:    cfg,
		limit:  limit,
		resume: make(chan struct{}),
		stop:   make(chan struct{}),
	}
}

// Start launches the sampling loop. A monitor without a limit never
// starts one.
func (m *Monitor) Start() {
	if m.limit == 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(m.cfg.CheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.check()
			case <-m.stop:
				return
			}
		}
	}()
}

// Stop ends sampling and releases any goroutine blocked in
// WaitIfPaused.
func (m *Monitor) Stop() {
	close(m.stop)
}

func (m *Monitor) check() {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.alloc = stats.Alloc
	if m.limit <= 0 {
		return
	}

	usage := float64(stats.Alloc) / float64(m.limit)
	metrics.MemoryUsageRatio.Set(usage)

	switch {
	case !m.paused && usage >= m.cfg.CriticalWater:
		logging.Warn("Heap at %.0f%% of limit, pausing extraction", usage*100)
		m.paused = true
		metrics.MemoryPaused.Set(1)
		metrics.MemoryGCPauses.Inc()
		go runtime.GC()

	case m.paused && usage < m.cfg.HighWater:
		logging.Info("Heap back to %.0f%% of limit, resuming extraction", usage*100)
		m.paused = false
		metrics.MemoryPaused.Set(0)
		close(m.resume)
		m.resume = make(chan struct{})
	}
}

// WaitIfPaused blocks while the monitor is paused. Returns false only
// when the monitor was stopped, so callers can abandon the batch.
func (m *Monitor) WaitIfPaused() bool {
	m.mu.RLock()
	if !m.paused {
		m.mu.RUnlock()
		return true
	}
	resume := m.resume
	m.mu.RUnlock()

	select {
	case <-resume:
		return true
	case <-m.stop:
		return false
	}
}

// IsPaused reports whether extraction is currently held.
func (m *Monitor) IsPaused() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.paused
}

// Usage returns the last sampled heap allocation as a fraction of the
// limit. Zero when no limit is configured.
func (m *Monitor) Usage() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.limit == 0 {
		return 0
	}
	return float64(m.alloc) / float64(m.limit)
}

// Limit returns the heap budget in bytes, zero when unlimited.
func (m *Monitor) Limit() int64 {
	return m.limit
}
