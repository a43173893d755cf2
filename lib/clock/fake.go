// Copyright 2026 The Netplay Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake returns a FakeClock frozen at the given time. Time moves only
// when Advance is called.
func Fake(initial time.Time) *FakeClock {
	return &FakeClock{current: initial}
}

// FakeClock is a deterministic Clock for tests. Pending timers fire,
// in deadline order, when Advance moves the clock past their deadline.
// AfterFunc callbacks run synchronously inside Advance, so a test can
// assert on their effects as soon as Advance returns. Do not call
// Advance from within a callback; that would deadlock.
//
// FakeClock is safe for concurrent use.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
	waiters []*fakeWaiter
}

// fakeWaiter is one pending After channel or AfterFunc callback.
type fakeWaiter struct {
	deadline time.Time
	channel  chan time.Time // nil for AfterFunc waiters
	callback func()         // nil for After waiters
	stopped  bool
	fired    bool
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// After returns a channel that receives once the clock is advanced
// past d from now. If d <= 0 the channel receives immediately.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	channel := make(chan time.Time, 1)
	if d <= 0 {
		channel <- c.current
		return channel
	}
	c.waiters = append(c.waiters, &fakeWaiter{
		deadline: c.current.Add(d),
		channel:  channel,
	})
	return channel
}

// AfterFunc registers f to run when the clock is advanced past d from
// now. If d <= 0, f runs immediately before AfterFunc returns.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) *Timer {
	c.mu.Lock()

	waiter := &fakeWaiter{
		deadline: c.current.Add(d),
		callback: f,
	}
	c.waiters = append(c.waiters, waiter)

	if d <= 0 {
		waiter.fired = true
		c.mu.Unlock()
		f()
	} else {
		c.mu.Unlock()
	}

	return &Timer{
		stopFunc: func() bool {
			c.mu.Lock()
			defer c.mu.Unlock()
			if waiter.fired || waiter.stopped {
				return false
			}
			waiter.stopped = true
			return true
		},
		resetFunc: func(d time.Duration) bool {
			c.mu.Lock()
			defer c.mu.Unlock()
			wasActive := !waiter.fired && !waiter.stopped
			waiter.deadline = c.current.Add(d)
			waiter.stopped = false
			waiter.fired = false
			return wasActive
		},
	}
}

// Advance moves the clock forward by d, firing every pending waiter
// whose deadline is reached, in deadline order. Callbacks registered
// by earlier callbacks during the same Advance (timer chains) fire too
// if their deadline falls within the advanced window.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.current.Add(d)

	for {
		next := c.nextWaiterLocked(target)
		if next == nil {
			break
		}
		if next.deadline.After(c.current) {
			c.current = next.deadline
		}
		next.fired = true

		if next.channel != nil {
			next.channel <- c.current
			continue
		}
		callback := next.callback
		c.mu.Unlock()
		callback()
		c.mu.Lock()
	}

	c.current = target
	c.compactLocked()
	c.mu.Unlock()
}

// nextWaiterLocked returns the unfired, unstopped waiter with the
// earliest deadline not after target, or nil.
func (c *FakeClock) nextWaiterLocked(target time.Time) *fakeWaiter {
	candidates := make([]*fakeWaiter, 0, len(c.waiters))
	for _, waiter := range c.waiters {
		if waiter.fired || waiter.stopped || waiter.deadline.After(target) {
			continue
		}
		candidates = append(candidates, waiter)
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].deadline.Before(candidates[j].deadline)
	})
	return candidates[0]
}

// compactLocked drops fired and stopped waiters.
func (c *FakeClock) compactLocked() {
	remaining := c.waiters[:0]
	for _, waiter := range c.waiters {
		if !waiter.fired && !waiter.stopped {
			remaining = append(remaining, waiter)
		}
	}
	c.waiters = remaining
}

// PendingCount returns the number of live (unfired, unstopped) timers.
// Tests use this to assert that destroying an object cancelled its
// timers.
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	count := 0
	for _, waiter := range c.waiters {
		if !waiter.fired && !waiter.stopped {
			count++
		}
	}
	return count
}
