// Copyright 2026 The Netplay Authors
// SPDX-License-Identifier: Apache-2.0

package discovery

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/netplay-foundation/netplay/lib/clock"
	"github.com/netplay-foundation/netplay/session"
)

// pendingOffer is one outstanding unanswered offer. It is owned by
// the Client until an answer arrives (ownership of the session then
// transfers to the caller on connect), it expires, or the client
// shuts down.
type pendingOffer struct {
	id      string
	session *session.Session
	payload session.Payload
	tracker string // URL of the relay the offer is announced through
	expiry  *clock.Timer

	// announced is set once the offer has been carried by an
	// announce; scheduled announces never re-send it.
	announced bool
}

// newOfferID returns 160 random bits, hex encoded. Offer-to-answer
// pairing is keyed by this ID alone, so correctness rests on its
// uniqueness rather than on delivery order.
func newOfferID() string {
	id := make([]byte, 20)
	if _, err := rand.Read(id); err != nil {
		panic(fmt.Sprintf("discovery: reading random offer id: %v", err))
	}
	return hex.EncodeToString(id)
}
