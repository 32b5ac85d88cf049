package events

import "testing"

func TestBusDeliversInSubscriptionOrder(t *testing.T) {
	bus := NewBus[int]()
	var order []string
	bus.Subscribe(func(v int) { order = append(order, "first") })
	stop := bus.Subscribe(func(v int) { order = append(order, "second") })
	bus.Publish(1)
	stop()
	stop()
	bus.Publish(2)
	if len(order) != 3 || order[0] != "first" || order[1] != "second" || order[2] != "first" {
		t.Fatalf("unexpected delivery order %v", order)
	}
	if bus.Len() != 1 {
		t.Fatalf("expected one live observer, got %d", bus.Len())
	}
}

func TestBusObserverMayUnsubscribeWhilePublishing(t *testing.T) {
	bus := NewBus[string]()
	calls := 0
	var stop func()
	stop = bus.Subscribe(func(string) {
		calls++
		stop()
	})
	bus.Publish("a")
	bus.Publish("b")
	if calls != 1 {
		t.Fatalf("expected a single call, got %d", calls)
	}
}
