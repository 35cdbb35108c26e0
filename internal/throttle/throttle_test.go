package throttle

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWindow = 60 * time.Millisecond

// recorder captures executions of a throttled action.
type recorder struct {
	mu    sync.Mutex
	args  []int
	times []time.Time
	err   error
}

func (r *recorder) action(arg int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.args = append(r.args, arg)
	r.times = append(r.times, time.Now())
	return r.err
}

func (r *recorder) calls() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.args...)
}

func waitResult(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for throttled result")
		return nil
	}
}

func TestThrottle_LeadingCallRunsImmediately(t *testing.T) {
	rec := &recorder{}
	th := New(time.Hour, rec.action)
	defer th.Stop()

	require.NoError(t, waitResult(t, th.Call(7)))
	assert.Equal(t, []int{7}, rec.calls())
	assert.False(t, th.Pending())
}

func TestThrottle_CoalescesTrailingCalls(t *testing.T) {
	rec := &recorder{}
	th := New(testWindow, rec.action)
	defer th.Stop()

	require.NoError(t, waitResult(t, th.Call(0)))

	var chans []<-chan error
	for i := 1; i <= 5; i++ {
		chans = append(chans, th.Call(i))
	}
	assert.True(t, th.Pending())

	for _, ch := range chans {
		require.NoError(t, waitResult(t, ch))
	}
	assert.Equal(t, []int{0, 5}, rec.calls(), "trailing execution must use the latest argument")
}

func TestThrottle_AtMostOncePerWindow(t *testing.T) {
	rec := &recorder{}
	th := New(testWindow, rec.action)
	defer th.Stop()

	deadline := time.Now().Add(5 * testWindow)
	var last <-chan error
	for i := 0; time.Now().Before(deadline); i++ {
		last = th.Call(i)
		time.Sleep(5 * time.Millisecond)
	}
	require.NoError(t, waitResult(t, last))

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.GreaterOrEqual(t, len(rec.times), 2)
	for i := 1; i < len(rec.times); i++ {
		gap := rec.times[i].Sub(rec.times[i-1])
		assert.GreaterOrEqual(t, gap, testWindow/2, "executions %d and %d too close", i-1, i)
	}
}

func TestThrottle_ErrorDoesNotCorruptSchedule(t *testing.T) {
	boom := errors.New("boom")
	rec := &recorder{err: boom}
	th := New(testWindow, rec.action)
	defer th.Stop()

	assert.ErrorIs(t, waitResult(t, th.Call(1)), boom)
	assert.ErrorIs(t, waitResult(t, th.Call(2)), boom)

	rec.mu.Lock()
	rec.err = nil
	rec.mu.Unlock()

	assert.NoError(t, waitResult(t, th.Call(3)))
	assert.Equal(t, []int{1, 2, 3}, rec.calls())
}

func TestThrottle_RecoversPanic(t *testing.T) {
	var n atomic.Int32
	th := New(testWindow, func(int) error {
		if n.Add(1) == 1 {
			panic("kaboom")
		}
		return nil
	})
	defer th.Stop()

	assert.ErrorIs(t, waitResult(t, th.Call(1)), ErrPanic)
	assert.NoError(t, waitResult(t, th.Call(2)))
	assert.Equal(t, int32(2), n.Load())
}

func TestThrottle_StopCancelsPending(t *testing.T) {
	rec := &recorder{}
	th := New(time.Hour, rec.action)

	require.NoError(t, waitResult(t, th.Call(1)))
	pending := th.Call(2)
	th.Stop()

	assert.ErrorIs(t, waitResult(t, pending), ErrStopped)
	assert.ErrorIs(t, waitResult(t, th.Call(3)), ErrStopped)
	assert.Equal(t, []int{1}, rec.calls())
}

func TestThrottle_IgnoredResultsDoNotBlock(t *testing.T) {
	rec := &recorder{}
	th := New(testWindow, rec.action)
	defer th.Stop()

	for i := 0; i < 100; i++ {
		th.Call(i)
	}
	require.Eventually(t, func() bool { return len(rec.calls()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []int{0, 99}, rec.calls())
}

func TestKeyed_IndependentKeys(t *testing.T) {
	var mu sync.Mutex
	seen := map[string][]int{}
	k := NewKeyed(time.Hour, func(key string, arg int) error {
		mu.Lock()
		defer mu.Unlock()
		seen[key] = append(seen[key], arg)
		return nil
	})
	defer k.Stop()

	require.NoError(t, waitResult(t, k.Call("a", 1)))
	require.NoError(t, waitResult(t, k.Call("b", 2)))
	pending := k.Call("a", 3)

	assert.Equal(t, 2, k.Len())
	mu.Lock()
	assert.Equal(t, []int{1}, seen["a"])
	assert.Equal(t, []int{2}, seen["b"])
	mu.Unlock()

	k.Forget("a")
	assert.ErrorIs(t, waitResult(t, pending), ErrStopped)
	assert.Equal(t, 1, k.Len())
}

func TestKeyed_StopAppliesToNewKeys(t *testing.T) {
	k := NewKeyed(testWindow, func(string, int) error { return nil })
	k.Stop()
	assert.ErrorIs(t, waitResult(t, k.Call("late", 1)), ErrStopped)
}
