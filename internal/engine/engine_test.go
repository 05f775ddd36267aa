package engine

import "testing"

// TestEmitOverwritesUnreadEvent exercises the single-slot, lossy
// back-pressure semantics the Node Event Router depends on: a second emit
// before the first is drained replaces it rather than blocking.
func TestEmitOverwritesUnreadEvent(t *testing.T) {
	c := &Coordinator{events: make(chan Event, 1)}

	c.emit(Event{Kind: EventProtocolCompleted, Trader: "trader-a"})
	c.emit(Event{Kind: EventProtocolFailed, Trader: "trader-b"})

	got := <-c.events
	if got.Kind != EventProtocolFailed || got.Trader != "trader-b" {
		t.Fatalf("expected the newer event to win, got %+v", got)
	}

	select {
	case ev := <-c.events:
		t.Fatalf("expected channel drained after one read, got %+v", ev)
	default:
	}
}

func TestEmitDoesNotBlockWhenChannelEmpty(t *testing.T) {
	c := &Coordinator{events: make(chan Event, 1)}
	c.emit(Event{Kind: EventChannelStateChanged, Trader: "trader-a"})

	got := <-c.events
	if got.Kind != EventChannelStateChanged {
		t.Fatalf("unexpected event: %+v", got)
	}
}
