// Copyright 2026 The Netplay Authors
// SPDX-License-Identifier: Apache-2.0

package session

// PayloadType discriminates the signaling payloads exchanged through
// the rendezvous relay.
type PayloadType string

const (
	// PayloadOffer is a session description proposed by the initiator.
	PayloadOffer PayloadType = "offer"
	// PayloadAnswer is a session description accepting an offer.
	PayloadAnswer PayloadType = "answer"
	// PayloadCandidate is a trickled network-path candidate.
	PayloadCandidate PayloadType = "candidate"
)

// Payload is one signaling message. Offers and answers carry SDP;
// candidate payloads carry a Candidate. Payloads travel inside tracker
// envelopes, they are not a wire format of their own.
type Payload struct {
	Type      PayloadType `json:"type"`
	SDP       string      `json:"sdp,omitempty"`
	Candidate *Candidate  `json:"candidate,omitempty"`
}

// Candidate is a network-path descriptor contributed during
// connectivity establishment. Field names follow the RTCIceCandidate
// JSON shape so payloads interoperate with browser peers.
type Candidate struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}
