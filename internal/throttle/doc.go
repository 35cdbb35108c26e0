// Package throttle provides leading/trailing-edge rate limiting for
// asynchronous actions.
//
// A Throttle executes its action at most once per window. A call that lands
// inside the window schedules a single trailing execution at the window
// boundary; further calls before that boundary fold into it and replace its
// argument. Every caller receives the result of the execution its call was
// folded into.
//
// This is a rate limiter, not a work queue: distinct arguments supplied
// within one window are never executed separately.
//
//	poll := throttle.New(time.Second, func(struct{}) error { return engine.PollCycle(ctx) })
//	err := <-poll.Call(struct{}{})
//
// Keyed groups independent throttles sharing one window, created on demand.
package throttle
