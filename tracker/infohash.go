// Copyright 2026 The Netplay Authors
// SPDX-License-Identifier: Apache-2.0

package tracker

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// InfoHash is the 160-bit swarm identifier shared by every peer in a
// discovery pool. It travels hex-encoded in announce frames.
type InfoHash [20]byte

// topicDomainKey is the BLAKE3 key for topic hashing. Domain
// separation ensures a topic string can never collide with bytes
// hashed in another context. The value is the ASCII domain name,
// zero-padded to 32 bytes; changing it would split every existing
// swarm.
var topicDomainKey = [32]byte{
	'n', 'e', 't', 'p', 'l', 'a', 'y', '.', 't', 'r', 'a', 'c', 'k', 'e', 'r', '.',
	't', 'o', 'p', 'i', 'c', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// TopicInfoHash derives the swarm identifier for a topic string. All
// clients that want to find each other must use the same topic.
func TopicInfoHash(topic string) InfoHash {
	hasher, err := blake3.NewKeyed(topicDomainKey[:])
	if err != nil {
		// NewKeyed fails only on a key of the wrong length; the key
		// is a compile-time constant of the right length.
		panic("tracker: BLAKE3 keyed hasher initialization failed: " + err.Error())
	}
	hasher.Write([]byte(topic))

	var digest [32]byte
	copy(digest[:], hasher.Sum(nil))

	var infoHash InfoHash
	copy(infoHash[:], digest[:20])
	return infoHash
}

// String returns the hex encoding used on the wire.
func (h InfoHash) String() string { return hex.EncodeToString(h[:]) }
