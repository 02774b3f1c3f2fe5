package broadcast

import (
	"testing"
	"time"
)

func TestHubDeliversLatestOnSubscribe(t *testing.T) {
	t.Parallel()

	hub := NewHub[int]()
	hub.Publish(1)
	hub.Publish(2)

	ch, unsubscribe := hub.Subscribe()
	defer unsubscribe()

	if got := await(t, ch); got != 2 {
		t.Fatalf("initial value = %d, want 2", got)
	}
}

func TestHubDropsOldestOnBackpressure(t *testing.T) {
	t.Parallel()

	hub := NewHub[int]()
	ch, unsubscribe := hub.Subscribe()
	defer unsubscribe()

	for i := 1; i <= 5; i++ {
		hub.Publish(i)
	}

	if got := await(t, ch); got != 5 {
		t.Fatalf("value after backpressure = %d, want 5", got)
	}
	select {
	case v := <-ch:
		t.Fatalf("unexpected extra value %d", v)
	default:
	}
}

func TestHubUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()

	hub := NewHub[string]()
	ch, unsubscribe := hub.Subscribe()
	if hub.Len() != 1 {
		t.Fatalf("Len = %d, want 1", hub.Len())
	}

	unsubscribe()
	unsubscribe()

	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after unsubscribe")
	}
	if hub.Len() != 0 {
		t.Fatalf("Len = %d, want 0", hub.Len())
	}

	hub.Publish("ignored")
	if latest, ok := hub.Latest(); !ok || latest != "ignored" {
		t.Fatalf("Latest = %q, %v", latest, ok)
	}
}

func TestHubClose(t *testing.T) {
	t.Parallel()

	hub := NewHub[int]()
	ch, unsubscribe := hub.Subscribe()
	hub.Close()
	unsubscribe()

	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after Close")
	}
}

func await[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		if !ok {
			t.Fatal("channel closed unexpectedly")
		}
		return v
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timed out waiting for value")
	}
	var zero T
	return zero
}
