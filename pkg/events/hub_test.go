package events

import (
	"testing"
)

func TestPublishSubscribe(t *testing.T) {
	h := NewEventHub()
	ch := h.Subscribe()
	if h.Subscribers() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", h.Subscribers())
	}

	h.Publish(StageStarted, StageEvent{RunID: "r1", Stage: 3, Name: "Pump Heating"})
	ev := <-ch
	if ev.Name != StageStarted {
		t.Fatalf("unexpected event name %s", ev.Name)
	}
	p, err := DecodeAs[StageEvent](ev)
	if err != nil {
		t.Fatal(err)
	}
	if p.Stage != 3 || p.RunID != "r1" {
		t.Fatalf("unexpected payload %+v", p)
	}

	h.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after unsubscribe")
	}
	// Unsubscribing twice is harmless.
	h.Unsubscribe(ch)
}

func TestPublishDropsForSlowSubscriber(t *testing.T) {
	h := NewEventHub()
	ch := h.Subscribe()
	for i := 0; i < subscriberBuffer+10; i++ {
		h.Publish(Snapshot, map[string]int{"i": i})
	}
	if len(ch) != subscriberBuffer {
		t.Fatalf("expected a full buffer of %d, got %d", subscriberBuffer, len(ch))
	}
}

func TestNilHub(t *testing.T) {
	var h *EventHub
	h.Publish(SafetyStop, AbortEvent{Reason: "test"})
}

func TestDecodeEmpty(t *testing.T) {
	v, err := DecodeAs[AbortEvent](Event{Name: RunAborted})
	if err != nil || v.Reason != "" {
		t.Fatalf("unexpected %+v %v", v, err)
	}
}
