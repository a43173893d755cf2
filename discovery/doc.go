// Copyright 2026 The Netplay Authors
// SPDX-License-Identifier: Apache-2.0

// Package discovery finds remote peers through rendezvous relays and
// hands fully connected peer-to-peer sessions to the caller.
//
// A [Client] connects to every configured relay, announces on each
// relay's backoff schedule, and keeps at most a configured number of
// unanswered offers outstanding (one, by default). Incoming relayed
// offers become responder sessions whose answers are routed back
// through the originating relay; incoming answers are matched to
// outstanding offers by offer ID alone, so relays may reorder or
// duplicate delivery without confusing the pairing. A peer identity
// appears in at most one connected session at a time, and the
// PeerConnected event fires at most once per identity even if the
// underlying transport signals open twice.
//
// No single peer or relay failure stops discovery. A relay that dies
// is dropped and the rest carry on; only the loss of the last relay
// ends discovery, and even that does not disturb sessions that are
// already connected.
package discovery
