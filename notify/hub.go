// Package notify provides a typed observer list used by the coordination
// services to fan out state-change notifications.
//
// Subscribers receive an unsubscribe handle at registration time instead of
// identifying themselves by callback value on removal, which is unreliable
// for closures.
package notify

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Hub fans out values of type T to registered callbacks in registration
// order. The zero value is not usable; create hubs with NewHub.
type Hub[T any] struct {
	mu      sync.Mutex
	nextID  uint64
	entries []entry[T]
}

type entry[T any] struct {
	id uint64
	fn func(T)
}

// Subscription identifies one registered callback and can remove it.
type Subscription struct {
	remove func()
	once   sync.Once
}

// Remove unregisters the callback. Safe to call more than once.
func (s *Subscription) Remove() {
	if s == nil {
		return
	}
	s.once.Do(s.remove)
}

// NewHub creates an empty hub.
func NewHub[T any]() *Hub[T] {
	return &Hub[T]{}
}

// Subscribe registers a callback and returns its unsubscribe handle.
// A nil callback returns a no-op subscription.
func (h *Hub[T]) Subscribe(fn func(T)) *Subscription {
	if fn == nil {
		return &Subscription{remove: func() {}}
	}

	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.entries = append(h.entries, entry[T]{id: id, fn: fn})
	h.mu.Unlock()

	return &Subscription{remove: func() { h.removeByID(id) }}
}

func (h *Hub[T]) removeByID(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, e := range h.entries {
		if e.id == id {
			h.entries = append(h.entries[:i], h.entries[i+1:]...)
			return
		}
	}
}

// Emit delivers v to every registered callback in registration order.
// A panicking callback is logged and does not prevent delivery to the rest.
func (h *Hub[T]) Emit(v T) {
	h.mu.Lock()
	snapshot := make([]entry[T], len(h.entries))
	copy(snapshot, h.entries)
	h.mu.Unlock()

	for _, e := range snapshot {
		invoke(e.fn, v)
	}
}

func invoke[T any](fn func(T), v T) {
	defer func() {
		if r := recover(); r != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Emit",
				"panic":    r,
			}).Warn("Notification callback panicked")
		}
	}()
	fn(v)
}

// Len reports the number of registered callbacks.
func (h *Hub[T]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// Clear unregisters every callback.
func (h *Hub[T]) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = nil
}
