package events

import (
	"sync"
	"testing"
)

func TestBus_SubscribePublish(t *testing.T) {
	bus := NewBus()

	var received []Event
	bus.Subscribe(TypeWorkerIdle, func(e Event) {
		received = append(received, e)
	})

	bus.Publish(Event{Type: TypeWorkerIdle, Worker: "worker-1"})
	bus.Publish(Event{Type: TypeTaskCompleted, TaskID: "1"})

	if len(received) != 1 {
		t.Fatalf("handler called %d times, want 1", len(received))
	}
	if received[0].Worker != "worker-1" {
		t.Errorf("Worker = %q", received[0].Worker)
	}
}

func TestBus_SubscribeAll(t *testing.T) {
	bus := NewBus()

	count := 0
	bus.SubscribeAll(func(Event) { count++ })

	bus.Publish(Event{Type: TypeWorkerIdle})
	bus.Publish(Event{Type: TypeShutdownAck})
	bus.Publish(Event{Type: TypeTeamLeaderNudge})

	if count != 3 {
		t.Errorf("wildcard handler called %d times, want 3", count)
	}
}

func TestBus_SpecificBeforeWildcard(t *testing.T) {
	bus := NewBus()

	var order []string
	bus.SubscribeAll(func(Event) { order = append(order, "wildcard") })
	bus.Subscribe(TypeWorkerIdle, func(Event) { order = append(order, "specific") })

	bus.Publish(Event{Type: TypeWorkerIdle})

	if len(order) != 2 || order[0] != "specific" || order[1] != "wildcard" {
		t.Errorf("dispatch order = %v, want [specific wildcard]", order)
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus()

	count := 0
	id := bus.Subscribe(TypeWorkerIdle, func(Event) { count++ })

	bus.Publish(Event{Type: TypeWorkerIdle})
	if !bus.Unsubscribe(id) {
		t.Fatal("Unsubscribe() = false for live subscription")
	}
	bus.Publish(Event{Type: TypeWorkerIdle})

	if count != 1 {
		t.Errorf("handler called %d times, want 1", count)
	}
	if bus.Unsubscribe(id) {
		t.Error("Unsubscribe() = true for removed subscription")
	}
}

func TestBus_PanicRecovery(t *testing.T) {
	bus := NewBus()

	bus.Subscribe(TypeWorkerIdle, func(Event) { panic("bad handler") })

	called := false
	bus.Subscribe(TypeWorkerIdle, func(Event) { called = true })

	// Must not panic, and the second handler must still run.
	bus.Publish(Event{Type: TypeWorkerIdle})

	if !called {
		t.Error("handler after a panicking handler was not called")
	}
}

func TestBus_ConcurrentPublish(t *testing.T) {
	bus := NewBus()

	var mu sync.Mutex
	count := 0
	bus.SubscribeAll(func(Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				bus.Publish(Event{Type: TypeWorkerIdle})
			}
		}()
	}
	wg.Wait()

	if count != 100 {
		t.Errorf("handler called %d times, want 100", count)
	}
}

func TestBus_ClearAndCount(t *testing.T) {
	bus := NewBus()

	bus.Subscribe(TypeWorkerIdle, func(Event) {})
	bus.Subscribe(TypeTaskCompleted, func(Event) {})
	bus.SubscribeAll(func(Event) {})

	if got := bus.SubscriptionCount(); got != 3 {
		t.Errorf("SubscriptionCount() = %d, want 3", got)
	}

	bus.Clear()
	if got := bus.SubscriptionCount(); got != 0 {
		t.Errorf("SubscriptionCount() after Clear = %d, want 0", got)
	}
}
