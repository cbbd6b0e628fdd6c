package memory

import (
	"testing"
	"time"
)

func newTestMonitor(limit int64) *Monitor {
	cfg := DefaultConfig()
	cfg.LimitBytes = limit
	cfg.CheckInterval = 10 * time.Millisecond
	return NewMonitor(cfg)
}

func TestMonitorUsesExplicitLimit(t *testing.T) {
	m := newTestMonitor(100 << 20)
	if m.Limit() != 100<<20 {
		t.Errorf("Limit() = %d, want %d", m.Limit(), int64(100<<20))
	}
	if m.IsPaused() {
		t.Error("New monitor must start unpaused")
	}
}

func TestMonitorPausesAboveCriticalWater(t *testing.T) {
	// One byte of budget: any live heap trips the critical watermark.
	m := newTestMonitor(1)
	m.check()

	if !m.IsPaused() {
		t.Fatal("Expected pause with heap far above the budget")
	}
	if m.Usage() <= 1 {
		t.Errorf("Usage() = %v, expected ratio above 1", m.Usage())
	}

	// Raising the budget puts the heap under the high watermark and
	// must release waiters.
	m.limit = 1 << 60
	m.check()

	if m.IsPaused() {
		t.Fatal("Expected resume once usage dropped below the high watermark")
	}
	if !m.WaitIfPaused() {
		t.Error("WaitIfPaused must pass after resume")
	}
}

func TestWaitIfPausedBlocksUntilResume(t *testing.T) {
	m := newTestMonitor(1)
	m.check()
	if !m.IsPaused() {
		t.Fatal("Expected paused monitor")
	}

	released := make(chan bool, 1)
	go func() { released <- m.WaitIfPaused() }()

	select {
	case <-released:
		t.Fatal("WaitIfPaused returned while still paused")
	case <-time.After(50 * time.Millisecond):
	}

	m.limit = 1 << 60
	m.check()

	select {
	case ok := <-released:
		if !ok {
			t.Error("WaitIfPaused = false after resume, want true")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("WaitIfPaused never returned after resume")
	}
}

func TestStopReleasesPausedWaiters(t *testing.T) {
	m := newTestMonitor(1)
	m.check()

	released := make(chan bool, 1)
	go func() { released <- m.WaitIfPaused() }()

	m.Stop()

	select {
	case ok := <-released:
		if ok {
			t.Error("WaitIfPaused = true after Stop, want false")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("WaitIfPaused never returned after Stop")
	}
}

func TestMonitorWithoutLimitIsInert(t *testing.T) {
	m := newTestMonitor(0)
	// Adopted GOMEMLIMIT may apply in some environments; only the
	// unlimited case has fixed expectations.
	if m.Limit() != 0 {
		t.Skip("Ambient GOMEMLIMIT present")
	}

	m.Start()
	m.check()
	if m.IsPaused() {
		t.Error("Monitor without a limit must never pause")
	}
	if m.Usage() != 0 {
		t.Errorf("Usage() = %v, want 0 without a limit", m.Usage())
	}
	m.Stop()
}

func TestStartStopLifecycle(t *testing.T) {
	m := newTestMonitor(100 << 20)
	m.Start()
	time.Sleep(30 * time.Millisecond)
	m.Stop()

	// An unpaused monitor passes straight through even after Stop.
	if !m.WaitIfPaused() {
		t.Error("WaitIfPaused = false for unpaused monitor")
	}
}
