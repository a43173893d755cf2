// Copyright 2026 The Netplay Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts timer scheduling for testability.
//
// Discovery is timer-heavy: every tracker has an announce schedule with
// multiplicative backoff, every outstanding offer has an expiry timer,
// and every negotiation step has an upper bound. All of them go through
// the [Clock] interface so tests can drive time deterministically with
// [FakeClock.Advance] instead of sleeping.
//
// Production code injects [Real]. A [Timer] returned by AfterFunc must
// be stopped when its owning object is destroyed; this is how stale
// announce and expiry callbacks are prevented from firing against state
// that no longer exists.
package clock
