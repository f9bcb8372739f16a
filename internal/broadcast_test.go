package internal

import (
	"bytes"
	"log"
	"strings"
	"sync"
	"testing"
)

// TestBroadcastTenantIsolation tests that events only reach subscribers of
// the matching installation.
func TestBroadcastTenantIsolation(t *testing.T) {
	b := NewBroadcaster(nil)

	var got42, got43 []Event
	b.Subscribe("42", func(e Event) { got42 = append(got42, e) })
	b.Subscribe("43", func(e Event) { got43 = append(got43, e) })

	b.Broadcast(Event{Type: EventWorkflowRun, InstallationID: "42"})

	if len(got42) != 1 {
		t.Fatalf("expected 1 event for tenant 42, got %d", len(got42))
	}
	if len(got43) != 0 {
		t.Fatalf("expected no events for tenant 43, got %d", len(got43))
	}
}

// TestBroadcastSubscriptionOrder tests delivery in subscription order.
func TestBroadcastSubscriptionOrder(t *testing.T) {
	b := NewBroadcaster(nil)

	var order []int
	b.Subscribe("1", func(Event) { order = append(order, 1) })
	b.Subscribe("1", func(Event) { order = append(order, 2) })
	b.Subscribe("1", func(Event) { order = append(order, 3) })

	b.Broadcast(Event{InstallationID: "1"})

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("expected delivery order 1,2,3, got %v", order)
	}
}

// TestUnsubscribeIdempotent tests that calling unsubscribe twice neither
// errors nor disturbs other subscribers.
func TestUnsubscribeIdempotent(t *testing.T) {
	b := NewBroadcaster(nil)

	kept := 0
	b.Subscribe("7", func(Event) { kept++ })
	unsubscribe := b.Subscribe("7", func(Event) {})

	unsubscribe()
	unsubscribe()

	if b.SubscriberCount() != 1 {
		t.Fatalf("expected 1 remaining subscriber, got %d", b.SubscriberCount())
	}

	b.Broadcast(Event{InstallationID: "7"})
	if kept != 1 {
		t.Fatalf("expected surviving subscriber to receive event, got %d", kept)
	}
}

// TestBroadcastPanicIsolation tests that a panicking subscriber does not
// block delivery to the rest.
func TestBroadcastPanicIsolation(t *testing.T) {
	b := NewBroadcaster(NewLogger("test"))

	delivered := false
	b.Subscribe("9", func(Event) { panic("subscriber bug") })
	b.Subscribe("9", func(Event) { delivered = true })

	b.Broadcast(Event{InstallationID: "9"})

	if !delivered {
		t.Fatalf("expected delivery to continue past panicking subscriber")
	}
}

// TestBroadcastDuringMutation tests that subscribing mid-broadcast does not
// corrupt iteration and the late subscriber misses the in-flight event.
func TestBroadcastDuringMutation(t *testing.T) {
	b := NewBroadcaster(nil)

	late := 0
	b.Subscribe("5", func(Event) {
		b.Subscribe("5", func(Event) { late++ })
	})

	b.Broadcast(Event{InstallationID: "5"})
	if late != 0 {
		t.Fatalf("expected late subscriber to miss in-flight event, got %d", late)
	}

	b.Broadcast(Event{InstallationID: "5"})
	if late != 1 {
		t.Fatalf("expected late subscriber to receive next event, got %d", late)
	}
}

// TestBroadcastSoftLimitWarning tests that crossing the soft subscriber
// limit logs a warning but keeps every subscription working.
func TestBroadcastSoftLimitWarning(t *testing.T) {
	var buf bytes.Buffer
	b := NewBroadcaster(log.New(&buf, "", 0))

	var delivered int
	for i := 0; i <= SoftSubscriberLimit; i++ {
		b.Subscribe("9", func(Event) { delivered++ })
		if i < SoftSubscriberLimit && buf.Len() != 0 {
			t.Fatalf("unexpected warning at %d subscribers: %s", i+1, buf.String())
		}
	}

	if !strings.Contains(buf.String(), "soft limit") {
		t.Fatalf("expected soft limit warning, got %q", buf.String())
	}
	if b.SubscriberCount() != SoftSubscriberLimit+1 {
		t.Fatalf("expected %d subscribers, got %d", SoftSubscriberLimit+1, b.SubscriberCount())
	}

	b.Broadcast(Event{InstallationID: "9"})
	if delivered != SoftSubscriberLimit+1 {
		t.Fatalf("expected delivery to all %d subscribers, got %d", SoftSubscriberLimit+1, delivered)
	}
}

// TestBroadcastConcurrent tests subscribe/broadcast/unsubscribe under
// concurrent use.
func TestBroadcastConcurrent(t *testing.T) {
	b := NewBroadcaster(nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unsubscribe := b.Subscribe("77", func(Event) {})
			b.Broadcast(Event{InstallationID: "77"})
			unsubscribe()
		}()
	}
	wg.Wait()

	if b.SubscriberCount() != 0 {
		t.Fatalf("expected empty registry after churn, got %d", b.SubscriberCount())
	}
}
