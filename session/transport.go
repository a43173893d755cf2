// Copyright 2026 The Netplay Authors
// SPDX-License-Identifier: Apache-2.0

package session

import "context"

// Transport is the negotiation collaborator a Session drives. The
// production implementation wraps a pion PeerConnection with one
// ordered data channel; tests use an in-process fake.
//
// Description generation is asynchronous and ctx-bounded. Candidate
// gathering runs in the background after a local description is set;
// GatheringDone is closed when it finishes, at which point
// LocalDescription returns a complete SDP with all candidates
// embedded.
type Transport interface {
	// CreateOffer generates a local offer, installs it as the local
	// description, and returns its SDP.
	CreateOffer(ctx context.Context) (string, error)

	// CreateAnswer generates a local answer to the current remote
	// description, installs it as the local description, and returns
	// its SDP.
	CreateAnswer(ctx context.Context) (string, error)

	// SetRemoteDescription applies a remote offer or answer.
	SetRemoteDescription(kind PayloadType, sdp string) error

	// AddCandidate applies a remote trickled candidate.
	AddCandidate(candidate Candidate) error

	// GatheringDone is closed once local candidate gathering has
	// completed.
	GatheringDone() <-chan struct{}

	// LocalDescription returns the current local description. ok is
	// false before CreateOffer or CreateAnswer has succeeded.
	LocalDescription() (kind PayloadType, sdp string, ok bool)

	// OnCandidate registers a callback for locally gathered
	// candidates, invoked as they appear. Only used when trickle
	// exchange is enabled.
	OnCandidate(func(Candidate))

	// OnOpen, OnMessage, OnError, OnClose register data channel
	// lifecycle callbacks. Each replaces any previously registered
	// callback.
	OnOpen(func())
	OnMessage(func(data []byte))
	OnError(func(error))
	OnClose(func())

	// Send writes one message to the data channel.
	Send(data []byte) error

	// Close releases all transport resources. Idempotent.
	Close() error
}
