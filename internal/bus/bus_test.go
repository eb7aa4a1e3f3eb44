package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("room.", 10)
	defer unsub()

	b.Emit(KindRoomViewChanged, "r1")

	select {
	case evt := <-ch:
		if evt.Kind != KindRoomViewChanged {
			t.Errorf("got kind %q, want %s", evt.Kind, KindRoomViewChanged)
		}
		if evt.Timestamp.IsZero() {
			t.Error("timestamp not set")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("transport.", 10)
	defer unsub()

	b.Publish(Event{Kind: KindRoomNotice})
	b.Publish(Event{Kind: KindTransportConnected})

	select {
	case evt := <-ch:
		if evt.Kind != KindTransportConnected {
			t.Errorf("got kind %q, want %s", evt.Kind, KindTransportConnected)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("session.", 10)
	unsub()
	unsub()

	b.Publish(Event{Kind: KindSessionStatusChanged})

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("outbox.", 1)
	defer unsub()

	b.Publish(Event{Kind: "outbox.one"})
	// Dropped: the buffer is full.
	b.Publish(Event{Kind: "outbox.two"})

	evt := <-ch
	if evt.Kind != "outbox.one" {
		t.Errorf("got %q, want outbox.one", evt.Kind)
	}
}

func TestNilBusDiscards(t *testing.T) {
	var b *Bus
	b.Emit(KindRoomNotice, nil)
}
