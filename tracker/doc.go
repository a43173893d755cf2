// Copyright 2026 The Netplay Authors
// SPDX-License-Identifier: Apache-2.0

// Package tracker speaks the rendezvous relay protocol: structured
// JSON text frames over a persistent WebSocket, in the WebTorrent
// tracker dialect, carrying announces, relayed offers and answers,
// swarm stats, and failure reports.
//
// [Conn] is one connection to one relay. It owns serialized frame
// writes, the inbound read pump, and that relay's announce backoff
// state (current interval and announce count). The announce timers
// themselves live with the discovery client, which owns the offer
// pool the announces draw from.
//
// [Message] is the inbound envelope. A single envelope's shape can be
// ambiguous, so [Message.Classify] applies a fixed priority order:
// relayed offer, relayed answer, failure report, announce stats,
// scrape stats, unknown.
//
// [TopicInfoHash] derives the 160-bit swarm identifier peers must
// share from a human-readable topic string, using keyed BLAKE3 so
// netplay swarms can never collide with identifiers hashed in other
// contexts.
package tracker
