package pool

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"media-index/internal/logging"
	"media-index/internal/metrics"
	"media-index/internal/store"
)

// Config controls idle handle reclamation.
type Config struct {
	// IdleTimeout is how long a handle with refCount 0 may sit unused
	// before the sweep closes it.
	IdleTimeout time.Duration

	// SweepInterval is how often the background sweep runs.
	SweepInterval time.Duration
}

// DefaultConfig returns the default pool configuration.
func DefaultConfig() Config {
	return Config{
		IdleTimeout:   5 * time.Minute,
		SweepInterval: time.Minute,
	}
}

type handle struct {
	store      *store.Store
	refCount   int
	lastUsedAt time.Time
}

// Pool hands out one shared store handle per library root, reference
// counted. Acquire/release pairing is a caller contract; the pool floors
// the count at zero but cannot verify discipline.
type Pool struct {
	cfg      Config
	mu       sync.Mutex
	handles  map[string]*handle
	stopChan chan struct{}
	stopOnce sync.Once
}

// New creates a pool and starts its idle sweep.
func New(cfg Config) *Pool {
	p := &Pool{
		cfg:      cfg,
		handles:  make(map[string]*handle),
		stopChan: make(chan struct{}),
	}
	go p.sweepLoop()
	return p
}

func key(rootPath string) string {
	abs, err := filepath.Abs(rootPath)
	if err != nil {
		return filepath.Clean(rootPath)
	}
	return abs
}

// Acquire returns the shared store handle for a library root, opening it
// on first use, and increments its reference count. An open failure
// (including store corruption) propagates unmodified.
func (p *Pool) Acquire(ctx context.Context, rootPath string) (*store.Store, error) {
	k := key(rootPath)

	p.mu.Lock()
	defer p.mu.Unlock()

	if h, ok := p.handles[k]; ok {
		h.refCount++
		h.lastUsedAt = time.Now()
		metrics.PoolAcquiresTotal.WithLabelValues("hit").Inc()
		return h.store, nil
	}

	st, err := store.Open(ctx, k)
	if err != nil {
		metrics.PoolAcquiresTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	p.handles[k] = &handle{store: st, refCount: 1, lastUsedAt: time.Now()}
	metrics.PoolAcquiresTotal.WithLabelValues("opened").Inc()
	metrics.PoolHandlesOpen.Set(float64(len(p.handles)))
	logging.Debug("Pool opened store handle for %s", k)
	return st, nil
}

// Release decrements the reference count for a root (floored at zero)
// and marks the handle recently used. The handle stays open; only the
// idle sweep or a forced Close ever closes it.
func (p *Pool) Release(rootPath string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	h, ok := p.handles[key(rootPath)]
	if !ok {
		return
	}

	if h.refCount > 0 {
		h.refCount--
	}
	h.lastUsedAt = time.Now()
	metrics.PoolReleasesTotal.Inc()
}

// Close force-closes the handle for a root regardless of its reference
// count, checkpointing the WAL first. Used only for explicit lifecycle
// events such as library removal.
func (p *Pool) Close(rootPath string) error {
	k := key(rootPath)

	p.mu.Lock()
	h, ok := p.handles[k]
	if ok {
		delete(p.handles, k)
		metrics.PoolHandlesOpen.Set(float64(len(p.handles)))
	}
	p.mu.Unlock()

	if !ok {
		return nil
	}

	if h.refCount > 0 {
		logging.Warn("Pool force-closing %s with refCount=%d", k, h.refCount)
	}
	return p.closeHandle(k, h, "forced")
}

// CloseAll stops the sweep and force-closes every handle. Process
// shutdown only.
func (p *Pool) CloseAll() {
	p.stopOnce.Do(func() { close(p.stopChan) })

	p.mu.Lock()
	handles := p.handles
	p.handles = make(map[string]*handle)
	metrics.PoolHandlesOpen.Set(0)
	p.mu.Unlock()

	for k, h := range handles {
		if err := p.closeHandle(k, h, "shutdown"); err != nil {
			logging.Error("failed to close store handle for %s: %v", k, err)
		}
	}
}

// OpenHandles returns the number of handles currently open.
func (p *Pool) OpenHandles() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.handles)
}

func (p *Pool) closeHandle(k string, h *handle, reason string) error {
	if err := h.store.Checkpoint(); err != nil {
		logging.Warn("WAL checkpoint failed for %s: %v", k, err)
	}
	if err := h.store.Close(); err != nil {
		return fmt.Errorf("failed to close store for %s: %w", k, err)
	}
	metrics.PoolHandlesClosedTotal.WithLabelValues(reason).Inc()
	logging.Debug("Pool closed store handle for %s (%s)", k, reason)
	return nil
}

func (p *Pool) sweepLoop() {
	ticker := time.NewTicker(p.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.sweep()
		case <-p.stopChan:
			return
		}
	}
}

// sweep closes handles with refCount 0 idle beyond the timeout.
func (p *Pool) sweep() {
	metrics.PoolSweepsTotal.Inc()
	cutoff := time.Now().Add(-p.cfg.IdleTimeout)

	p.mu.Lock()
	var idle []string
	for k, h := range p.handles {
		if h.refCount == 0 && h.lastUsedAt.Before(cutoff) {
			idle = append(idle, k)
		}
	}
	closing := make(map[string]*handle, len(idle))
	for _, k := range idle {
		closing[k] = p.handles[k]
		delete(p.handles, k)
	}
	metrics.PoolHandlesOpen.Set(float64(len(p.handles)))
	p.mu.Unlock()

	for k, h := range closing {
		if err := p.closeHandle(k, h, "idle"); err != nil {
			logging.Error("idle sweep failed to close %s: %v", k, err)
		}
	}
}
