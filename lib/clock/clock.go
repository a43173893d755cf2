// Copyright 2026 The Netplay Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Clock is the scheduling surface used by discovery and session code.
// Production code injects Real(); tests inject a FakeClock.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time once
	// duration d has elapsed. Equivalent to time.After.
	After(d time.Duration) <-chan time.Time

	// AfterFunc waits for duration d, then calls f in its own
	// goroutine (real clock) or synchronously during Advance (fake
	// clock). The returned Timer cancels the pending call with Stop.
	AfterFunc(d time.Duration, f func()) *Timer
}

// Timer is a cancellable scheduled callback. Timers are created by
// Clock.AfterFunc and owned by exactly one object; that object must
// call Stop before it is destroyed.
type Timer struct {
	stopFunc  func() bool
	resetFunc func(time.Duration) bool
}

// Stop prevents the timer from firing. Returns false if the timer has
// already fired or been stopped.
func (t *Timer) Stop() bool { return t.stopFunc() }

// Reset reschedules the timer to fire after duration d. Returns true
// if the timer was still pending.
func (t *Timer) Reset(d time.Duration) bool { return t.resetFunc(d) }
