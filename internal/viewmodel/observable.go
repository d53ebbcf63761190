// Package viewmodel holds presentation state derived from the repository and
// the session. Each holder exposes its state as observables a UI or stream
// can follow.
package viewmodel

import "sync"

// Observable is a value that notifies subscribers each time it is set.
// Notifications are delivered in the order the values were set.
type Observable[T any] struct {
	// notifyMu serializes set calls together with their notifications.
	notifyMu sync.Mutex

	mu        sync.Mutex
	value     T
	listeners map[uint64]func(T)
	nextID    uint64
}

func NewObservable[T any](initial T) *Observable[T] {
	return &Observable[T]{
		value:     initial,
		listeners: make(map[uint64]func(T)),
	}
}

func (o *Observable[T]) Get() T {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.value
}

// Subscribe calls fn with the current value and then with every new one.
// The returned function stops the notifications; calling it again does
// nothing.
func (o *Observable[T]) Subscribe(fn func(T)) (cancel func()) {
	o.notifyMu.Lock()
	defer o.notifyMu.Unlock()

	o.mu.Lock()
	id := o.nextID
	o.nextID++
	o.listeners[id] = fn
	v := o.value
	o.mu.Unlock()

	fn(v)

	var once sync.Once
	return func() {
		once.Do(func() {
			o.mu.Lock()
			defer o.mu.Unlock()
			delete(o.listeners, id)
		})
	}
}

func (o *Observable[T]) set(v T) {
	o.notifyMu.Lock()
	defer o.notifyMu.Unlock()

	o.mu.Lock()
	o.value = v
	listeners := make([]func(T), 0, len(o.listeners))
	for _, fn := range o.listeners {
		listeners = append(listeners, fn)
	}
	o.mu.Unlock()

	for _, fn := range listeners {
		fn(v)
	}
}
