// Copyright 2026 The Netplay Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers.
//
// [RequireReceive] and [RequireClosed] encapsulate the timeout safety
// valve pattern (select with a time.After fallback) so individual
// tests do not need direct time.After calls. They are the only place
// in the test suite where real wall-clock timeouts appear; everything
// else drives time through a fake clock.
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since failed test setup is not recoverable.
package testutil
