package notify

import "testing"

func TestSubscribeAndEmit(t *testing.T) {
	hub := NewHub[int]()

	var got []int
	hub.Subscribe(func(v int) { got = append(got, v) })
	hub.Subscribe(func(v int) { got = append(got, v*10) })

	hub.Emit(3)

	if len(got) != 2 {
		t.Fatalf("Expected 2 deliveries, got %d", len(got))
	}
	if got[0] != 3 || got[1] != 30 {
		t.Errorf("Deliveries out of registration order: %v", got)
	}
}

func TestSubscriptionRemove(t *testing.T) {
	hub := NewHub[string]()

	calls := 0
	sub := hub.Subscribe(func(string) { calls++ })

	hub.Emit("a")
	sub.Remove()
	hub.Emit("b")

	if calls != 1 {
		t.Errorf("Expected 1 call after removal, got %d", calls)
	}
	if hub.Len() != 0 {
		t.Errorf("Expected empty hub after removal, got %d entries", hub.Len())
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	hub := NewHub[int]()
	other := 0
	sub := hub.Subscribe(func(int) {})
	hub.Subscribe(func(int) { other++ })

	sub.Remove()
	sub.Remove()

	hub.Emit(1)
	if other != 1 {
		t.Errorf("Unrelated subscriber affected by double removal: %d calls", other)
	}
}

func TestPanickingCallbackDoesNotBlockOthers(t *testing.T) {
	hub := NewHub[int]()

	delivered := false
	hub.Subscribe(func(int) { panic("boom") })
	hub.Subscribe(func(int) { delivered = true })

	hub.Emit(1)

	if !delivered {
		t.Error("Callback after a panicking one was not invoked")
	}
}

func TestNilCallback(t *testing.T) {
	hub := NewHub[int]()
	sub := hub.Subscribe(nil)
	sub.Remove()
	hub.Emit(1)

	if hub.Len() != 0 {
		t.Errorf("Nil callback should not register, got %d entries", hub.Len())
	}
}

func TestClear(t *testing.T) {
	hub := NewHub[int]()
	calls := 0
	hub.Subscribe(func(int) { calls++ })
	hub.Subscribe(func(int) { calls++ })

	hub.Clear()
	hub.Emit(1)

	if calls != 0 {
		t.Errorf("Expected no calls after Clear, got %d", calls)
	}
}
