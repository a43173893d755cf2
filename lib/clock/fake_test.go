// Copyright 2026 The Netplay Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"testing"
	"time"
)

func TestFakeClock_AfterFuncFiresOnAdvance(t *testing.T) {
	fake := Fake(time.Unix(1000, 0))

	fired := 0
	fake.AfterFunc(5*time.Second, func() { fired++ })

	fake.Advance(4 * time.Second)
	if fired != 0 {
		t.Fatalf("callback fired %d times before deadline", fired)
	}

	fake.Advance(1 * time.Second)
	if fired != 1 {
		t.Fatalf("callback fired %d times, want 1", fired)
	}

	// Advancing further must not re-fire a one-shot timer.
	fake.Advance(10 * time.Second)
	if fired != 1 {
		t.Fatalf("callback fired %d times after extra advance, want 1", fired)
	}
}

func TestFakeClock_StopPreventsFiring(t *testing.T) {
	fake := Fake(time.Unix(1000, 0))

	fired := false
	timer := fake.AfterFunc(time.Second, func() { fired = true })

	if !timer.Stop() {
		t.Fatal("Stop() = false for a pending timer")
	}
	fake.Advance(5 * time.Second)
	if fired {
		t.Fatal("stopped timer fired")
	}
	if timer.Stop() {
		t.Fatal("second Stop() = true")
	}
}

func TestFakeClock_ResetReschedules(t *testing.T) {
	fake := Fake(time.Unix(1000, 0))

	fired := 0
	timer := fake.AfterFunc(time.Second, func() { fired++ })

	if !timer.Reset(10 * time.Second) {
		t.Fatal("Reset() = false for a pending timer")
	}
	fake.Advance(5 * time.Second)
	if fired != 0 {
		t.Fatal("timer fired at the original deadline after Reset")
	}
	fake.Advance(5 * time.Second)
	if fired != 1 {
		t.Fatalf("fired = %d after reaching the reset deadline, want 1", fired)
	}
}

func TestFakeClock_TimerChain(t *testing.T) {
	fake := Fake(time.Unix(1000, 0))

	// An AfterFunc callback that reschedules itself, as the announce
	// loop does. A single large Advance must fire each link whose
	// deadline falls inside the window.
	var fireTimes []time.Time
	var schedule func(d time.Duration)
	schedule = func(d time.Duration) {
		fake.AfterFunc(d, func() {
			fireTimes = append(fireTimes, fake.Now())
			if len(fireTimes) < 3 {
				schedule(d * 2)
			}
		})
	}
	schedule(time.Second)

	fake.Advance(10 * time.Second)

	want := []time.Time{
		time.Unix(1001, 0),
		time.Unix(1003, 0),
		time.Unix(1007, 0),
	}
	if len(fireTimes) != len(want) {
		t.Fatalf("fired %d times, want %d", len(fireTimes), len(want))
	}
	for i := range want {
		if !fireTimes[i].Equal(want[i]) {
			t.Errorf("fire %d at %v, want %v", i, fireTimes[i], want[i])
		}
	}
}

func TestFakeClock_After(t *testing.T) {
	fake := Fake(time.Unix(1000, 0))

	ch := fake.After(3 * time.Second)
	select {
	case <-ch:
		t.Fatal("After channel received before advance")
	default:
	}

	fake.Advance(3 * time.Second)
	select {
	case at := <-ch:
		if !at.Equal(time.Unix(1003, 0)) {
			t.Errorf("received %v, want %v", at, time.Unix(1003, 0))
		}
	default:
		t.Fatal("After channel did not receive")
	}
}

func TestFakeClock_PendingCount(t *testing.T) {
	fake := Fake(time.Unix(1000, 0))

	timerA := fake.AfterFunc(time.Second, func() {})
	fake.AfterFunc(2*time.Second, func() {})
	if got := fake.PendingCount(); got != 2 {
		t.Fatalf("PendingCount() = %d, want 2", got)
	}

	timerA.Stop()
	if got := fake.PendingCount(); got != 1 {
		t.Fatalf("PendingCount() after Stop = %d, want 1", got)
	}

	fake.Advance(5 * time.Second)
	if got := fake.PendingCount(); got != 0 {
		t.Fatalf("PendingCount() after Advance = %d, want 0", got)
	}
}
