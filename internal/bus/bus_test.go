package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("rt.", 10)
	defer unsub()

	b.Publish(Event{Kind: KindStateChanged, Payload: "connected"})

	select {
	case evt := <-ch:
		if evt.Kind != KindStateChanged {
			t.Errorf("got kind %q, want %s", evt.Kind, KindStateChanged)
		}
		if evt.Timestamp.IsZero() {
			t.Error("Timestamp not filled in")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("network.", 10)
	defer unsub()

	b.Publish(Event{Kind: KindNewMessage})
	b.Publish(Event{Kind: KindNetworkOffline})

	select {
	case evt := <-ch:
		if evt.Kind != KindNetworkOffline {
			t.Errorf("got kind %q, want %s", evt.Kind, KindNetworkOffline)
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
	ch, unsub := b.Subscribe("rt.", 10)
	unsub()

	b.Publish(Event{Kind: KindNewMessage})

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("rt.", 1)
	defer unsub()

	b.Publish(Event{Kind: KindNewMessage, Payload: 1})
	b.Publish(Event{Kind: KindNewMessage, Payload: 2})

	evt := <-ch
	if evt.Payload != 1 {
		t.Errorf("got payload %v, want 1", evt.Payload)
	}
	if b.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", b.Dropped())
	}
}

func TestOrderPreserved(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("rt.", 100)
	defer unsub()

	for i := 0; i < 50; i++ {
		b.Publish(Event{Kind: KindNewMessage, Payload: i})
	}
	for i := 0; i < 50; i++ {
		evt := <-ch
		if evt.Payload != i {
			t.Fatalf("event %d payload = %v", i, evt.Payload)
		}
	}
}

func TestNilBusPublishIsNoop(t *testing.T) {
	var b *Bus
	b.Publish(Event{Kind: KindNewMessage})
}

func TestSubscribeAllKeepsBurstBeyondAnyBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.SubscribeAll("rt.")
	defer unsub()

	const n = 10000
	for i := 0; i < n; i++ {
		b.Publish(Event{Kind: KindNewMessage, Payload: i})
	}
	for i := 0; i < n; i++ {
		select {
		case evt := <-ch:
			if evt.Payload != i {
				t.Fatalf("event %d payload = %v", i, evt.Payload)
			}
		case <-time.After(time.Second):
			t.Fatalf("timeout after %d of %d events", i, n)
		}
	}
	if b.Dropped() != 0 {
		t.Errorf("Dropped() = %d, want 0", b.Dropped())
	}
	if b.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", b.Pending())
	}
}

func TestSubscribeAllFiltersAndUnsubscribes(t *testing.T) {
	b := New()
	ch, unsub := b.SubscribeAll("network.")

	b.Publish(Event{Kind: KindNewMessage})
	b.Publish(Event{Kind: KindNetworkOnline})

	select {
	case evt := <-ch:
		if evt.Kind != KindNetworkOnline {
			t.Errorf("got kind %q, want %s", evt.Kind, KindNetworkOnline)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	unsub()
	unsub()
	b.Publish(Event{Kind: KindNetworkOffline})
	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
	if b.Pending() != 0 {
		t.Errorf("Pending() = %d after unsubscribe", b.Pending())
	}
}
