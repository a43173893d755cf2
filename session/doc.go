// Copyright 2026 The Netplay Authors
// SPDX-License-Identifier: Apache-2.0

// Package session drives one peer-to-peer transport session through
// its offer/answer/candidate handshake, regardless of which side
// initiated it.
//
// A [Session] is bound to exactly one remote-peer attempt. The
// initiator calls [Session.Offer] to generate the local offer; the
// responder feeds the relayed offer to [Session.Signal] and the
// session emits the answer. Either way the session surfaces outgoing
// signaling payloads, connection lifecycle, and received data through
// a typed event table ([Session.Handle]). Each registered handler runs
// inside its own fault boundary, so a panicking handler cannot block
// the others.
//
// The underlying negotiation primitives are abstracted behind the
// [Transport] interface. [NewWebRTCTransport] is the production
// implementation on pion/webrtc data channels; tests substitute an
// in-process fake. When trickle candidate exchange is disabled the
// session withholds its local description until ICE gathering
// completes or a bounded timeout elapses, so the emitted SDP carries
// every gathered candidate and signaling needs exactly one
// round-trip per direction.
package session
