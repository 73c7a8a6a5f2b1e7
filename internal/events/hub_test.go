package events

import (
	"testing"
	"time"
)

func TestPublishAndSubscribe(t *testing.T) {
	h := NewHub(10)

	ch, cancel := h.Subscribe()
	defer cancel()

	h.Publish(TypeCycleProcessed, map[string]string{"topic": "orders"})

	select {
	case ev := <-ch:
		if ev.Type != TypeCycleProcessed {
			t.Errorf("expected type %s, got %s", TypeCycleProcessed, ev.Type)
		}
		if ev.ID != 1 {
			t.Errorf("expected id 1, got %d", ev.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestReplaySince(t *testing.T) {
	h := NewHub(4)

	for i := 0; i < 6; i++ {
		h.Publish(TypePushDelivery, nil)
	}

	// Ring capacity is 4, so only the last 4 remain.
	all := h.ReplaySince(0)
	if len(all) != 4 {
		t.Fatalf("expected 4 buffered events, got %d", len(all))
	}
	if all[0].ID != 3 {
		t.Errorf("expected oldest surviving id 3, got %d", all[0].ID)
	}

	tail := h.ReplaySince(5)
	if len(tail) != 1 || tail[0].ID != 6 {
		t.Errorf("expected only id 6 after lastID 5, got %+v", tail)
	}
}

func TestCounts(t *testing.T) {
	h := NewHub(2)

	h.Publish(TypePullError, nil)
	h.Publish(TypePullError, nil)
	h.Publish(TypeHandlerError, nil)

	counts := h.Counts()
	if counts[TypePullError] != 2 {
		t.Errorf("expected 2 pull errors, got %d", counts[TypePullError])
	}
	if counts[TypeHandlerError] != 1 {
		t.Errorf("expected 1 handler error, got %d", counts[TypeHandlerError])
	}
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	h := NewHub(4)

	// Subscribe but never drain; publishing past the channel buffer must not block.
	_, cancel := h.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 300; i++ {
			h.Publish(TypeCycleProcessed, nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}
