package notify

import (
	"testing"
	"time"
)

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for event")
		return Event{}
	}
}

func TestPublishDeliversToLibrarySubscriber(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe("lib-1", 4)
	defer cancel()

	bus.Publish("lib-1", EventScanStarted, map[string]any{"mode": "full"})

	ev := receive(t, ch)
	if ev.Type != EventScanStarted {
		t.Errorf("Type = %q, want %q", ev.Type, EventScanStarted)
	}
	if ev.LibraryID != "lib-1" {
		t.Errorf("LibraryID = %q, want 'lib-1'", ev.LibraryID)
	}
	if ev.Data["mode"] != "full" {
		t.Errorf("Data[mode] = %v, want 'full'", ev.Data["mode"])
	}
}

func TestSubscriberFiltersByLibrary(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe("lib-1", 4)
	defer cancel()

	bus.Publish("lib-2", EventScanStarted, nil)
	bus.Publish("lib-1", EventScanCompleted, nil)

	ev := receive(t, ch)
	if ev.LibraryID != "lib-1" {
		t.Errorf("Received event for %q, want lib-1 only", ev.LibraryID)
	}
	if ev.Type != EventScanCompleted {
		t.Errorf("Type = %q, want %q", ev.Type, EventScanCompleted)
	}
}

func TestEmptySubscriptionReceivesAll(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe("", 4)
	defer cancel()

	bus.Publish("lib-1", EventScanStarted, nil)
	bus.Publish("lib-2", EventScanStarted, nil)

	first := receive(t, ch)
	second := receive(t, ch)
	if first.LibraryID == second.LibraryID {
		t.Errorf("Expected events for two libraries, got %q twice", first.LibraryID)
	}
}

func TestPublishNeverBlocksOnFullSubscriber(t *testing.T) {
	bus := NewBus()
	_, cancel := bus.Subscribe("lib-1", 1)
	defer cancel()

	// Second publish overflows the buffer; it must drop, not block.
	done := make(chan struct{})
	go func() {
		bus.Publish("lib-1", EventScanProgress, nil)
		bus.Publish("lib-1", EventScanProgress, nil)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a saturated subscriber")
	}
}

func TestCancelClosesChannel(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe("lib-1", 4)

	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("Expected closed channel after cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("Channel not closed after cancel")
	}

	// Cancel is idempotent and publishing after cancel is a no-op.
	cancel()
	bus.Publish("lib-1", EventScanStarted, nil)
}
