package throttle

import (
	"sync"
	"time"
)

// Keyed holds one independent Throttle per key, all sharing the same window
// and action. Throttles are created on first use.
type Keyed[K comparable, T any] struct {
	window time.Duration
	action func(K, T) error

	mu        sync.Mutex
	throttles map[K]*Throttle[T]
	stopped   bool
}

// NewKeyed creates an empty group.
func NewKeyed[K comparable, T any](window time.Duration, action func(K, T) error) *Keyed[K, T] {
	return &Keyed[K, T]{
		window:    window,
		action:    action,
		throttles: make(map[K]*Throttle[T]),
	}
}

// Call requests an execution for key.
func (k *Keyed[K, T]) Call(key K, arg T) <-chan error {
	return k.get(key).Call(arg)
}

// Forget stops and drops the throttle for key.
func (k *Keyed[K, T]) Forget(key K) {
	k.mu.Lock()
	t, ok := k.throttles[key]
	delete(k.throttles, key)
	k.mu.Unlock()

	if ok {
		t.Stop()
	}
}

// Len returns the number of live keys.
func (k *Keyed[K, T]) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.throttles)
}

// Stop stops every throttle in the group.
func (k *Keyed[K, T]) Stop() {
	k.mu.Lock()
	k.stopped = true
	all := make([]*Throttle[T], 0, len(k.throttles))
	for _, t := range k.throttles {
		all = append(all, t)
	}
	k.mu.Unlock()

	for _, t := range all {
		t.Stop()
	}
}

func (k *Keyed[K, T]) get(key K) *Throttle[T] {
	k.mu.Lock()
	defer k.mu.Unlock()

	if t, ok := k.throttles[key]; ok {
		return t
	}
	t := New(k.window, func(arg T) error { return k.action(key, arg) })
	if k.stopped {
		t.Stop()
	}
	k.throttles[key] = t
	return t
}
