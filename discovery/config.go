// Copyright 2026 The Netplay Authors
// SPDX-License-Identifier: Apache-2.0

package discovery

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/netplay-foundation/netplay/lib/clock"
	"github.com/netplay-foundation/netplay/session"
)

// Defaults for every tunable the Client recognizes.
const (
	DefaultNumwant              = 50
	DefaultAnnounceInterval     = 5000 * time.Millisecond
	DefaultMaxInterval          = 120000 * time.Millisecond
	DefaultBackoffMultiplier    = 1.1
	DefaultStartupTimeout       = 10 * time.Second
	DefaultMaxOutstandingOffers = 1
)

// TransportFactory creates the negotiation transport for one session
// attempt. The default builds a WebRTC transport from the configured
// ICE servers; tests substitute in-process fakes.
type TransportFactory func(initiator bool) (session.Transport, error)

// Config enumerates every option the Client recognizes. Zero values
// take the documented defaults; Trackers, Topic, and PeerID have no
// defaults and must be set (PeerID via NewPeerID if the caller has no
// stable identity of its own).
type Config struct {
	// Trackers is the list of relay WebSocket URLs.
	Trackers []string `yaml:"trackers"`

	// Topic is the shared pool identifier. Peers discover each other
	// only within the same topic.
	Topic string `yaml:"topic"`

	// PeerID is the local peer identity, opaque and unique within the
	// pool for the session's lifetime.
	PeerID string `yaml:"peer_id"`

	// Numwant is the desired peer count requested in announces.
	Numwant int `yaml:"numwant"`

	// AnnounceInterval is each relay's initial announce interval.
	AnnounceInterval time.Duration `yaml:"announce_interval"`

	// MaxInterval caps the backoff growth of the announce interval.
	MaxInterval time.Duration `yaml:"max_interval"`

	// BackoffMultiplier is applied to a relay's interval after each
	// scheduled announce.
	BackoffMultiplier float64 `yaml:"backoff_multiplier"`

	// NegotiationTimeout bounds one session's whole handshake.
	NegotiationTimeout time.Duration `yaml:"negotiation_timeout"`

	// GatherTimeout bounds the candidate-gathering wait before a
	// local description is emitted.
	GatherTimeout time.Duration `yaml:"gather_timeout"`

	// StartupTimeout bounds the synchronous wait for the first local
	// offer during Start.
	StartupTimeout time.Duration `yaml:"startup_timeout"`

	// MaxOutstandingOffers limits unanswered offers system-wide.
	// The reference policy is one at a time; raising it is an
	// experiment in discovery latency under churn, not a requirement.
	MaxOutstandingOffers int `yaml:"max_outstanding_offers"`

	// Trickle enables incremental candidate exchange. Most deployed
	// relays forward complete descriptions, so this defaults off.
	Trickle bool `yaml:"trickle"`

	// ICEServers is the STUN/TURN list handed to the default
	// transport factory.
	ICEServers []string `yaml:"ice_servers"`

	// TransportFactory overrides transport creation. Nil means WebRTC
	// with the configured ICE servers.
	TransportFactory TransportFactory `yaml:"-"`

	// Clock defaults to clock.Real().
	Clock clock.Clock `yaml:"-"`

	// Logger defaults to slog.Default().
	Logger *slog.Logger `yaml:"-"`
}

// withDefaults returns a copy with every unset option filled in.
func (c Config) withDefaults() Config {
	if c.Numwant <= 0 {
		c.Numwant = DefaultNumwant
	}
	if c.AnnounceInterval <= 0 {
		c.AnnounceInterval = DefaultAnnounceInterval
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = DefaultMaxInterval
	}
	if c.BackoffMultiplier <= 1 {
		c.BackoffMultiplier = DefaultBackoffMultiplier
	}
	if c.NegotiationTimeout <= 0 {
		c.NegotiationTimeout = session.DefaultNegotiationTimeout
	}
	if c.GatherTimeout <= 0 {
		c.GatherTimeout = session.DefaultGatherTimeout
	}
	if c.StartupTimeout <= 0 {
		c.StartupTimeout = DefaultStartupTimeout
	}
	if c.MaxOutstandingOffers <= 0 {
		c.MaxOutstandingOffers = DefaultMaxOutstandingOffers
	}
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.TransportFactory == nil {
		iceServers := make([]webrtc.ICEServer, 0, len(c.ICEServers))
		for _, url := range c.ICEServers {
			iceServers = append(iceServers, webrtc.ICEServer{URLs: []string{url}})
		}
		logger := c.Logger
		c.TransportFactory = func(initiator bool) (session.Transport, error) {
			return session.NewWebRTCTransport(session.WebRTCConfig{
				ICEServers: iceServers,
				Initiator:  initiator,
				Logger:     logger,
			})
		}
	}
	return c
}

// validate rejects configurations that cannot work.
func (c Config) validate() error {
	if len(c.Trackers) == 0 {
		return errors.New("discovery: no trackers configured")
	}
	if c.Topic == "" {
		return errors.New("discovery: no topic configured")
	}
	if c.PeerID == "" {
		return errors.New("discovery: no peer identity configured")
	}
	return nil
}

// NewPeerID generates a fresh 160-bit random peer identity, hex
// encoded.
func NewPeerID() string {
	identity := make([]byte, 20)
	if _, err := rand.Read(identity); err != nil {
		panic(fmt.Sprintf("discovery: reading random peer identity: %v", err))
	}
	return hex.EncodeToString(identity)
}
