// Copyright 2026 The Netplay Authors
// SPDX-License-Identifier: Apache-2.0

package discovery

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/netplay-foundation/netplay/tracker"
)

var testUpgrader = websocket.Upgrader{}

// captureRelay accepts a single client and records every announce it
// sends. Tests inject frames back through send.
type captureRelay struct {
	server *httptest.Server
	frames chan tracker.Announce

	mu        sync.Mutex
	conn      *websocket.Conn
	ready     chan struct{}
	readyOnce sync.Once
}

func newCaptureRelay(t *testing.T) *captureRelay {
	t.Helper()
	relay := &captureRelay{
		frames: make(chan tracker.Announce, 64),
		ready:  make(chan struct{}),
	}
	relay.server = httptest.NewServer(http.HandlerFunc(relay.handle))
	t.Cleanup(relay.server.Close)
	return relay
}

func (r *captureRelay) URL() string {
	return "ws" + strings.TrimPrefix(r.server.URL, "http")
}

func (r *captureRelay) handle(w http.ResponseWriter, req *http.Request) {
	conn, err := testUpgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}
	r.mu.Lock()
	r.conn = conn
	r.mu.Unlock()
	r.readyOnce.Do(func() { close(r.ready) })

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var frame tracker.Announce
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		r.frames <- frame
	}
}

// send injects one frame to the connected client.
func (r *captureRelay) send(t *testing.T, frame any) {
	t.Helper()
	select {
	case <-r.ready:
	case <-time.After(5 * time.Second):
		t.Fatal("no client connected to relay")
	}
	data, err := json.Marshal(frame)
	if err != nil {
		t.Fatalf("marshaling relay frame: %v", err)
	}
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("writing relay frame: %v", err)
	}
}

// dropClient severs the relay side of the connection.
func (r *captureRelay) dropClient(t *testing.T) {
	t.Helper()
	select {
	case <-r.ready:
	case <-time.After(5 * time.Second):
		t.Fatal("no client connected to relay")
	}
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	conn.Close()
}

// relayFrame is the loosely typed announce shape the forwarding relay
// works with on both directions.
type relayFrame struct {
	Action   string          `json:"action,omitempty"`
	InfoHash string          `json:"info_hash,omitempty"`
	PeerID   string          `json:"peer_id,omitempty"`
	ToPeerID string          `json:"to_peer_id,omitempty"`
	OfferID  string          `json:"offer_id,omitempty"`
	Offer    json.RawMessage `json:"offer,omitempty"`
	Answer   json.RawMessage `json:"answer,omitempty"`

	Offers []struct {
		OfferID string          `json:"offer_id"`
		Offer   json.RawMessage `json:"offer"`
	} `json:"offers,omitempty"`

	Interval   int `json:"interval,omitempty"`
	Complete   int `json:"complete,omitempty"`
	Incomplete int `json:"incomplete,omitempty"`
}

// forwardingRelay implements enough relay semantics for an end-to-end
// handshake: offers fan out to the other peers in the swarm, answers
// route to their addressee, every announce gets a stats response.
type forwardingRelay struct {
	server *httptest.Server

	mu    sync.Mutex
	peers map[string]*relayPeer
}

type relayPeer struct {
	writeMu sync.Mutex
	conn    *websocket.Conn
}

func (p *relayPeer) write(frame relayFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.conn.WriteMessage(websocket.TextMessage, data)
}

func newForwardingRelay(t *testing.T) *forwardingRelay {
	t.Helper()
	relay := &forwardingRelay{peers: make(map[string]*relayPeer)}
	relay.server = httptest.NewServer(http.HandlerFunc(relay.handle))
	t.Cleanup(relay.server.Close)
	return relay
}

func (r *forwardingRelay) URL() string {
	return "ws" + strings.TrimPrefix(r.server.URL, "http")
}

func (r *forwardingRelay) handle(w http.ResponseWriter, req *http.Request) {
	conn, err := testUpgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}
	me := &relayPeer{conn: conn}
	var myID string
	defer func() {
		if myID != "" {
			r.mu.Lock()
			if r.peers[myID] == me {
				delete(r.peers, myID)
			}
			r.mu.Unlock()
		}
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var frame relayFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		if frame.PeerID != "" && myID == "" {
			myID = frame.PeerID
			r.mu.Lock()
			r.peers[myID] = me
			r.mu.Unlock()
		}

		if frame.Answer != nil && frame.ToPeerID != "" {
			r.mu.Lock()
			target := r.peers[frame.ToPeerID]
			r.mu.Unlock()
			if target != nil {
				target.write(relayFrame{
					Action:   "announce",
					InfoHash: frame.InfoHash,
					PeerID:   frame.PeerID,
					OfferID:  frame.OfferID,
					Answer:   frame.Answer,
				})
			}
		}

		for _, offer := range frame.Offers {
			r.mu.Lock()
			var others []*relayPeer
			for peerID, peer := range r.peers {
				if peerID != frame.PeerID {
					others = append(others, peer)
				}
			}
			r.mu.Unlock()
			for _, other := range others {
				other.write(relayFrame{
					Action:   "announce",
					InfoHash: frame.InfoHash,
					PeerID:   frame.PeerID,
					OfferID:  offer.OfferID,
					Offer:    offer.Offer,
				})
			}
		}

		r.mu.Lock()
		swarm := len(r.peers)
		r.mu.Unlock()
		me.write(relayFrame{
			Action:     "announce",
			InfoHash:   frame.InfoHash,
			Interval:   30,
			Complete:   swarm,
			Incomplete: 0,
		})
	}
}
