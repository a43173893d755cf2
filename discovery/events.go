// Copyright 2026 The Netplay Authors
// SPDX-License-Identifier: Apache-2.0

package discovery

import (
	"encoding/json"

	"github.com/netplay-foundation/netplay/session"
)

// EventKind enumerates the events a Client emits.
type EventKind int

const (
	// EventPeerConnected hands a fully connected session to the
	// caller. Fires at most once per peer identity while that
	// identity stays connected; ownership of the session transfers
	// to the caller.
	EventPeerConnected EventKind = iota
	// EventPeerFailed reports a peer whose session failed before or
	// after connecting.
	EventPeerFailed
	// EventPeerDisconnected reports a connected peer whose session
	// closed.
	EventPeerDisconnected
	// EventTrackerStats carries seeder/leecher counts or raw scrape
	// statistics from a relay.
	EventTrackerStats
	// EventTrackerWarning reports a non-fatal relay problem: a
	// relay-level failure frame or a dropped relay while others
	// remain.
	EventTrackerWarning
	// EventClosed is fatal to discovery: the last relay is gone or
	// the client was closed. Connected sessions are not disturbed.
	EventClosed
)

// String returns the event kind name for logging.
func (k EventKind) String() string {
	switch k {
	case EventPeerConnected:
		return "peer-connected"
	case EventPeerFailed:
		return "peer-failed"
	case EventPeerDisconnected:
		return "peer-disconnected"
	case EventTrackerStats:
		return "tracker-stats"
	case EventTrackerWarning:
		return "tracker-warning"
	case EventClosed:
		return "closed"
	}
	return "unknown"
}

// Stats carries swarm statistics from a relay. Files is non-nil only
// for scrape responses and holds the raw per-swarm JSON.
type Stats struct {
	Complete   int
	Incomplete int
	Files      json.RawMessage
}

// Event is one discovery event. PeerID is set for the peer events,
// Session for EventPeerConnected, Tracker for the tracker events,
// Err for warnings and failures.
type Event struct {
	Kind    EventKind
	PeerID  string
	Session *session.Session
	Tracker string
	Stats   Stats
	Err     error
}

// Handle registers a handler for one event kind. Handlers run in
// registration order; register before Start.
func (c *Client) Handle(kind EventKind, handler func(Event)) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.handlers[kind] = append(c.handlers[kind], handler)
}

// emit dispatches an event, isolating each handler in its own fault
// boundary so one panicking handler cannot block the others.
func (c *Client) emit(event Event) {
	c.handlersMu.RLock()
	handlers := append([]func(Event){}, c.handlers[event.Kind]...)
	c.handlersMu.RUnlock()

	for _, handler := range handlers {
		c.invokeHandler(event, handler)
	}
}

func (c *Client) invokeHandler(event Event, handler func(Event)) {
	defer func() {
		if recovered := recover(); recovered != nil {
			c.logger.Error("discovery event handler panicked",
				"event", event.Kind.String(),
				"panic", recovered,
			)
		}
	}()
	handler(event)
}
