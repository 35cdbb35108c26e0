package throttle

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrPanic is delivered to waiters when the action panicked.
	ErrPanic = errors.New("throttle: action panicked")

	// ErrStopped is delivered to waiters of a trailing execution cancelled by Stop.
	ErrStopped = errors.New("throttle: stopped")
)

// batch is one scheduled execution and everyone waiting on it.
type batch[T any] struct {
	arg     T
	waiters []chan error
}

// Throttle rate-limits one action. The zero value is not usable; use New.
type Throttle[T any] struct {
	window time.Duration
	action func(T) error
	now    func() time.Time

	mu      sync.Mutex
	lastRun time.Time
	pending *batch[T]
	timer   *time.Timer
	stopped bool
}

// New wraps action so it runs at most once per window.
func New[T any](window time.Duration, action func(T) error) *Throttle[T] {
	return &Throttle[T]{
		window: window,
		action: action,
		now:    time.Now,
	}
}

// Window returns the configured window.
func (t *Throttle[T]) Window() time.Duration {
	return t.window
}

// Call requests an execution with arg. It never blocks on the action; the
// returned channel yields the result of the execution this call joined.
func (t *Throttle[T]) Call(arg T) <-chan error {
	ch := make(chan error, 1)

	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		ch <- ErrStopped
		return ch
	}

	if t.pending != nil {
		t.pending.arg = arg
		t.pending.waiters = append(t.pending.waiters, ch)
		t.mu.Unlock()
		return ch
	}

	now := t.now()
	elapsed := now.Sub(t.lastRun)
	if t.lastRun.IsZero() || elapsed >= t.window {
		t.lastRun = now
		t.mu.Unlock()
		go t.run(&batch[T]{arg: arg, waiters: []chan error{ch}})
		return ch
	}

	t.pending = &batch[T]{arg: arg, waiters: []chan error{ch}}
	t.timer = time.AfterFunc(t.window-elapsed, t.fire)
	t.mu.Unlock()
	return ch
}

// Pending reports whether a trailing execution is scheduled.
func (t *Throttle[T]) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending != nil
}

// Stop cancels any scheduled trailing execution. Later calls fail with
// ErrStopped. Executions already running are not interrupted.
func (t *Throttle[T]) Stop() {
	t.mu.Lock()
	t.stopped = true
	b := t.pending
	t.pending = nil
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.mu.Unlock()

	if b != nil {
		deliver(b.waiters, ErrStopped)
	}
}

func (t *Throttle[T]) fire() {
	t.mu.Lock()
	b := t.pending
	t.pending = nil
	t.timer = nil
	if b == nil || t.stopped {
		t.mu.Unlock()
		return
	}
	t.lastRun = t.now()
	t.mu.Unlock()

	t.run(b)
}

func (t *Throttle[T]) run(b *batch[T]) {
	deliver(b.waiters, t.invoke(b.arg))
}

// invoke runs the action, converting a panic into ErrPanic.
func (t *Throttle[T]) invoke(arg T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return t.action(arg)
}

func deliver(waiters []chan error, err error) {
	for _, ch := range waiters {
		ch <- err
	}
}
