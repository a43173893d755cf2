// Copyright 2026 The Netplay Authors
// SPDX-License-Identifier: Apache-2.0

package tracker

import (
	"encoding/json"

	"github.com/netplay-foundation/netplay/session"
)

// ActionAnnounce and ActionScrape are the relay protocol actions.
const (
	ActionAnnounce = "announce"
	ActionScrape   = "scrape"
)

// AnnounceOffer pairs an offer ID with its session description inside
// an announce frame.
type AnnounceOffer struct {
	OfferID string          `json:"offer_id"`
	Offer   session.Payload `json:"offer"`
}

// Announce is the outbound announce frame. Two shapes share it: the
// periodic announce (Numwant, optionally Offers) and the directed
// answer (ToPeerID, OfferID, Answer).
type Announce struct {
	Action   string          `json:"action"`
	InfoHash string          `json:"info_hash"`
	PeerID   string          `json:"peer_id"`
	Numwant  int             `json:"numwant,omitempty"`
	Offers   []AnnounceOffer `json:"offers,omitempty"`

	ToPeerID string           `json:"to_peer_id,omitempty"`
	OfferID  string           `json:"offer_id,omitempty"`
	Answer   *session.Payload `json:"answer,omitempty"`
}

// Message is the inbound envelope. Relays reuse one frame shape for
// several purposes; Classify disambiguates.
type Message struct {
	Action   string `json:"action,omitempty"`
	InfoHash string `json:"info_hash,omitempty"`
	PeerID   string `json:"peer_id,omitempty"`
	OfferID  string `json:"offer_id,omitempty"`

	Offer  *session.Payload `json:"offer,omitempty"`
	Answer *session.Payload `json:"answer,omitempty"`

	// Stats fields on generic announce responses.
	Complete   int `json:"complete,omitempty"`
	Incomplete int `json:"incomplete,omitempty"`
	Interval   int `json:"interval,omitempty"`

	// Files carries raw per-torrent scrape stats.
	Files json.RawMessage `json:"files,omitempty"`

	FailureReason string `json:"failure reason,omitempty"`
}

// MessageKind is the routing decision for one inbound envelope.
type MessageKind int

const (
	// KindOffer: a peer is offering to us.
	KindOffer MessageKind = iota
	// KindAnswer: a peer answered one of our offers.
	KindAnswer
	// KindFailure: relay-level failure report.
	KindFailure
	// KindStats: seeder/leecher counts on a generic announce.
	KindStats
	// KindScrape: raw scrape statistics.
	KindScrape
	// KindUnknown: unrecognized; log and drop.
	KindUnknown
)

// String returns the kind name for logging.
func (k MessageKind) String() string {
	switch k {
	case KindOffer:
		return "offer"
	case KindAnswer:
		return "answer"
	case KindFailure:
		return "failure"
	case KindStats:
		return "stats"
	case KindScrape:
		return "scrape"
	}
	return "unknown"
}

// Classify routes an envelope by the protocol's priority order. An
// envelope carrying both an announce action and an offer is a relayed
// offer, not a stats update; the order below is normative.
func (m *Message) Classify() MessageKind {
	switch {
	case m.Offer != nil && m.PeerID != "":
		return KindOffer
	case m.Answer != nil && m.PeerID != "":
		return KindAnswer
	case m.FailureReason != "":
		return KindFailure
	case m.Action == ActionAnnounce:
		return KindStats
	case m.Action == ActionScrape:
		return KindScrape
	default:
		return KindUnknown
	}
}
