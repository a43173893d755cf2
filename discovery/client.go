// Copyright 2026 The Netplay Authors
// SPDX-License-Identifier: Apache-2.0

package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/netplay-foundation/netplay/lib/clock"
	"github.com/netplay-foundation/netplay/lib/netutil"
	"github.com/netplay-foundation/netplay/session"
	"github.com/netplay-foundation/netplay/tracker"
)

// ErrAllTrackersFailed is returned by Start when no configured relay
// could be reached. A partial outage is not an error: one reachable
// relay is enough.
var ErrAllTrackersFailed = errors.New("discovery: all trackers failed to connect")

// ErrClosed reports an operation on a client whose discovery has
// stopped.
var ErrClosed = errors.New("discovery: client closed")

// trackerState couples one relay connection with its announce timer.
// The timer is stopped whenever the relay is dropped so a stale
// announce can never fire for a dead connection.
type trackerState struct {
	conn          *tracker.Conn
	announceTimer *clock.Timer
}

// Client orchestrates peer discovery across the configured relays. It
// owns the outstanding-offer pool and the connected-peer set, creates
// sessions in both roles, and surfaces fully connected sessions
// through EventPeerConnected.
type Client struct {
	config   Config
	infoHash string
	logger   *slog.Logger
	clk      clock.Clock

	handlersMu sync.RWMutex
	handlers   map[EventKind][]func(Event)

	mu       sync.Mutex
	started  bool
	closed   bool
	trackers map[string]*trackerState

	// pending holds outstanding offers by offer ID.
	pending map[string]*pendingOffer

	// generating marks an initiator offer in production;
	// generatingSession is the session producing it, so a session
	// that dies before its offer materializes releases the slot.
	generating        bool
	generatingSession *session.Session

	// responding maps peer identity to an in-flight responder
	// session; connected maps it to the connected session.
	responding map[string]*session.Session
	connected  map[string]*session.Session
}

// New validates the configuration and creates a Client. No I/O
// happens until Start.
func New(config Config) (*Client, error) {
	config = config.withDefaults()
	if err := config.validate(); err != nil {
		return nil, err
	}
	return &Client{
		config:     config,
		infoHash:   tracker.TopicInfoHash(config.Topic).String(),
		logger:     config.Logger,
		clk:        config.Clock,
		handlers:   make(map[EventKind][]func(Event)),
		trackers:   make(map[string]*trackerState),
		pending:    make(map[string]*pendingOffer),
		responding: make(map[string]*session.Session),
		connected:  make(map[string]*session.Session),
	}, nil
}

// InfoHash returns the hex swarm identifier derived from the topic.
func (c *Client) InfoHash() string { return c.infoHash }

// PeerID returns the local peer identity.
func (c *Client) PeerID() string { return c.config.PeerID }

// ConnectedPeers returns the identities with a connected session,
// sorted for stable output.
func (c *Client) ConnectedPeers() []string {
	c.mu.Lock()
	peers := make([]string, 0, len(c.connected))
	for peerID := range c.connected {
		peers = append(peers, peerID)
	}
	c.mu.Unlock()
	sort.Strings(peers)
	return peers
}

// Start connects to every configured relay concurrently and begins
// announcing. It succeeds once at least one relay connects and fails
// only if all of them fail. Before the first announce it creates one
// initiator session and waits (bounded by StartupTimeout) for its
// local offer, so the first announce is never empty.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return errors.New("discovery: already started")
	}
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.started = true
	c.mu.Unlock()

	type dialResult struct {
		url  string
		conn *tracker.Conn
		err  error
	}
	results := make(chan dialResult, len(c.config.Trackers))
	for _, url := range c.config.Trackers {
		go func(url string) {
			conn, err := tracker.Dial(ctx, tracker.ConnConfig{
				URL:               url,
				InitialInterval:   c.config.AnnounceInterval,
				MaxInterval:       c.config.MaxInterval,
				BackoffMultiplier: c.config.BackoffMultiplier,
				Logger:            c.logger,
			})
			results <- dialResult{url: url, conn: conn, err: err}
		}(url)
	}

	var states []*trackerState
	var dialErrors []error
	for range c.config.Trackers {
		result := <-results
		if result.err != nil {
			// Non-fatal unless every relay fails.
			c.logger.Warn("tracker connection failed",
				"relay", result.url,
				"error", result.err,
			)
			dialErrors = append(dialErrors, result.err)
			continue
		}
		states = append(states, &trackerState{conn: result.conn})
	}
	if len(states) == 0 {
		return fmt.Errorf("%w: %w", ErrAllTrackersFailed, errors.Join(dialErrors...))
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		for _, ts := range states {
			ts.conn.Close()
		}
		return ErrClosed
	}
	for _, ts := range states {
		c.trackers[ts.conn.URL()] = ts
	}
	c.mu.Unlock()

	for _, ts := range states {
		go c.runTracker(ts)
	}

	if err := c.warmUpOffer(ctx, states[0]); err != nil {
		// Discovery still works, the first announces just carry no
		// offer until generation catches up.
		c.logger.Warn("starting without a warm offer", "error", err)
	}

	for _, ts := range states {
		c.announce(ts)
	}

	c.logger.Info("discovery started",
		"topic", c.config.Topic,
		"info_hash", c.infoHash,
		"trackers", len(states),
	)
	return nil
}

// warmUpOffer synchronously produces the first offer, bound to the
// given relay's schedule.
func (c *Client) warmUpOffer(ctx context.Context, ts *trackerState) error {
	ready := make(chan struct{})
	if err := c.createOffer(ts, func() { close(ready) }); err != nil {
		return err
	}

	select {
	case <-ready:
		return nil
	case <-c.clk.After(c.config.StartupTimeout):
		return fmt.Errorf("no local offer within %s", c.config.StartupTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runTracker pumps inbound frames until the relay dies or is closed.
func (c *Client) runTracker(ts *trackerState) {
	err := ts.conn.ReadLoop(func(message *tracker.Message) {
		c.handleMessage(ts, message)
	})
	if err != nil {
		c.dropTracker(ts, err)
	}
}

// announce runs one scheduled announce for ts and reschedules itself
// with backoff. It carries the outstanding offer only on the offer's
// first announce; while an offer is pending no new one is generated.
func (c *Client) announce(ts *trackerState) {
	c.mu.Lock()
	if c.closed || c.trackers[ts.conn.URL()] != ts {
		c.mu.Unlock()
		return
	}
	frame := c.baseAnnounceLocked()
	c.attachUnannouncedOffersLocked(ts, &frame)
	needOffer := !c.generating && len(c.pending) < c.config.MaxOutstandingOffers
	c.mu.Unlock()

	if err := ts.conn.Send(frame); err != nil {
		c.dropTracker(ts, fmt.Errorf("announce: %w", err))
		return
	}

	next := ts.conn.AdvanceInterval()
	c.mu.Lock()
	if !c.closed && c.trackers[ts.conn.URL()] == ts {
		ts.announceTimer = c.clk.AfterFunc(next, func() { c.announce(ts) })
	}
	c.mu.Unlock()

	if needOffer {
		if err := c.createOffer(ts, func() { c.announceOffer(ts) }); err != nil {
			c.logger.Warn("creating offer failed", "relay", ts.conn.URL(), "error", err)
		}
	}
}

// announceOffer sends an off-schedule announce carrying freshly
// generated offers for ts, so a new offer does not wait out the
// backoff interval. Off-schedule announces do not advance the
// backoff.
func (c *Client) announceOffer(ts *trackerState) {
	c.mu.Lock()
	if c.closed || c.trackers[ts.conn.URL()] != ts {
		c.mu.Unlock()
		return
	}
	frame := c.baseAnnounceLocked()
	c.attachUnannouncedOffersLocked(ts, &frame)
	c.mu.Unlock()

	if len(frame.Offers) == 0 {
		return
	}
	if err := ts.conn.Send(frame); err != nil {
		c.dropTracker(ts, fmt.Errorf("offer announce: %w", err))
	}
}

func (c *Client) baseAnnounceLocked() tracker.Announce {
	return tracker.Announce{
		Action:   tracker.ActionAnnounce,
		InfoHash: c.infoHash,
		PeerID:   c.config.PeerID,
		Numwant:  c.config.Numwant,
	}
}

func (c *Client) attachUnannouncedOffersLocked(ts *trackerState, frame *tracker.Announce) {
	for _, offer := range c.pending {
		if offer.announced || offer.tracker != ts.conn.URL() {
			continue
		}
		offer.announced = true
		frame.Offers = append(frame.Offers, tracker.AnnounceOffer{
			OfferID: offer.id,
			Offer:   offer.payload,
		})
	}
}

// createOffer starts producing a new initiator offer bound to ts,
// unless one is already pending or in production. onReady runs after
// the offer is registered in the pool.
func (c *Client) createOffer(ts *trackerState, onReady func()) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.generating || len(c.pending) >= c.config.MaxOutstandingOffers {
		c.mu.Unlock()
		return nil
	}
	c.generating = true
	c.mu.Unlock()

	transport, err := c.config.TransportFactory(true)
	if err != nil {
		c.mu.Lock()
		c.generating = false
		c.mu.Unlock()
		return fmt.Errorf("creating initiator transport: %w", err)
	}

	sess := session.New(transport, c.sessionOptions(true, ""))
	c.mu.Lock()
	c.generatingSession = sess
	c.mu.Unlock()

	c.bindSessionEvents(sess)
	sess.Handle(session.EventSignal, func(event session.Event) {
		// Initiator candidates have no destination until someone
		// answers; only the offer itself is routable.
		if event.Payload.Type != session.PayloadOffer {
			return
		}
		c.registerOffer(ts, sess, event.Payload)
		if onReady != nil {
			onReady()
		}
	})

	sess.Offer()
	return nil
}

// registerOffer places a produced offer in the outstanding pool with
// an expiry of twice the originating relay's current interval.
func (c *Client) registerOffer(ts *trackerState, sess *session.Session, payload session.Payload) {
	id := newOfferID()
	ttl := 2 * ts.conn.Interval()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		sess.Close()
		return
	}
	c.generating = false
	c.generatingSession = nil
	offer := &pendingOffer{
		id:      id,
		session: sess,
		payload: payload,
		tracker: ts.conn.URL(),
	}
	offer.expiry = c.clk.AfterFunc(ttl, func() { c.expireOffer(id) })
	c.pending[id] = offer
	c.mu.Unlock()

	c.logger.Debug("offer registered",
		"offer_id", id,
		"relay", ts.conn.URL(),
		"ttl", ttl,
	)
}

// expireOffer discards an offer that was never answered and destroys
// its session.
func (c *Client) expireOffer(id string) {
	c.mu.Lock()
	offer, ok := c.pending[id]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.pending, id)
	c.mu.Unlock()

	c.logger.Debug("offer expired unanswered", "offer_id", id)
	offer.session.Close()
}

// handleMessage routes one inbound relay frame by the protocol's
// priority order.
func (c *Client) handleMessage(ts *trackerState, message *tracker.Message) {
	switch message.Classify() {
	case tracker.KindOffer:
		c.handleRemoteOffer(ts, message)

	case tracker.KindAnswer:
		c.handleRemoteAnswer(message)

	case tracker.KindFailure:
		c.logger.Warn("relay reported failure",
			"relay", ts.conn.URL(),
			"reason", message.FailureReason,
		)
		c.emit(Event{
			Kind:    EventTrackerWarning,
			Tracker: ts.conn.URL(),
			Err:     fmt.Errorf("relay failure: %s", message.FailureReason),
		})

	case tracker.KindStats:
		c.emit(Event{
			Kind:    EventTrackerStats,
			Tracker: ts.conn.URL(),
			Stats:   Stats{Complete: message.Complete, Incomplete: message.Incomplete},
		})

	case tracker.KindScrape:
		c.emit(Event{
			Kind:    EventTrackerStats,
			Tracker: ts.conn.URL(),
			Stats: Stats{
				Complete:   message.Complete,
				Incomplete: message.Incomplete,
				Files:      message.Files,
			},
		})

	default:
		c.logger.Warn("dropping unrecognized relay frame", "relay", ts.conn.URL())
	}
}

// handleRemoteOffer answers a peer's offer with a responder session,
// unless that identity already has a connected or in-flight session.
func (c *Client) handleRemoteOffer(ts *trackerState, message *tracker.Message) {
	peerID := message.PeerID
	if peerID == c.config.PeerID {
		// Our own announce reflected back by the relay.
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if _, ok := c.connected[peerID]; ok {
		c.mu.Unlock()
		c.logger.Debug("ignoring offer from already connected peer", "peer", peerID)
		return
	}
	if _, ok := c.responding[peerID]; ok {
		c.mu.Unlock()
		c.logger.Debug("ignoring duplicate offer", "peer", peerID)
		return
	}
	c.mu.Unlock()

	transport, err := c.config.TransportFactory(false)
	if err != nil {
		c.logger.Warn("creating responder transport failed", "peer", peerID, "error", err)
		return
	}

	sess := session.New(transport, c.sessionOptions(false, peerID))
	offerID := message.OfferID
	sess.Handle(session.EventSignal, func(event session.Event) {
		if event.Payload.Type != session.PayloadAnswer {
			return
		}
		answer := event.Payload
		frame := tracker.Announce{
			Action:   tracker.ActionAnnounce,
			InfoHash: c.infoHash,
			PeerID:   c.config.PeerID,
			ToPeerID: peerID,
			OfferID:  offerID,
			Answer:   &answer,
		}
		if err := ts.conn.Send(frame); err != nil {
			c.logger.Warn("relaying answer failed",
				"peer", peerID,
				"relay", ts.conn.URL(),
				"error", err,
			)
		}
	})
	c.bindSessionEvents(sess)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		sess.Close()
		return
	}
	// Re-check under the lock: a session for this identity may have
	// landed while the transport was being created.
	if _, ok := c.connected[peerID]; ok {
		c.mu.Unlock()
		sess.Close()
		return
	}
	if _, ok := c.responding[peerID]; ok {
		c.mu.Unlock()
		sess.Close()
		return
	}
	c.responding[peerID] = sess
	c.mu.Unlock()

	sess.Signal(*message.Offer)
}

// handleRemoteAnswer matches an answer to an outstanding offer by
// offer ID alone. Unknown IDs are stale responses and are dropped.
func (c *Client) handleRemoteAnswer(message *tracker.Message) {
	c.mu.Lock()
	offer, ok := c.pending[message.OfferID]
	if !ok {
		c.mu.Unlock()
		c.logger.Debug("ignoring stale answer",
			"offer_id", message.OfferID,
			"peer", message.PeerID,
		)
		return
	}
	delete(c.pending, message.OfferID)
	offer.expiry.Stop()

	peerID := message.PeerID
	if _, alreadyConnected := c.connected[peerID]; alreadyConnected {
		c.mu.Unlock()
		// The identity invariant wins over the fresh answer.
		c.logger.Debug("discarding answer from already connected peer", "peer", peerID)
		offer.session.Close()
		return
	}
	c.mu.Unlock()

	offer.session.SetRemoteIdentity(peerID)
	offer.session.Signal(*message.Answer)
}

func (c *Client) sessionOptions(initiator bool, remoteIdentity string) session.Options {
	return session.Options{
		Initiator:          initiator,
		LocalIdentity:      c.config.PeerID,
		RemoteIdentity:     remoteIdentity,
		Trickle:            c.config.Trickle,
		GatherTimeout:      c.config.GatherTimeout,
		NegotiationTimeout: c.config.NegotiationTimeout,
		Clock:              c.clk,
		Logger:             c.logger,
	}
}

// bindSessionEvents wires a session's lifecycle into the client's
// bookkeeping, for both roles.
func (c *Client) bindSessionEvents(sess *session.Session) {
	sess.Handle(session.EventConnect, func(session.Event) {
		c.sessionConnected(sess)
	})
	sess.Handle(session.EventError, func(event session.Event) {
		c.sessionFailed(sess, event.Err)
	})
	sess.Handle(session.EventClose, func(session.Event) {
		c.sessionClosed(sess)
	})
}

// sessionConnected registers the peer identity and emits the session
// to the caller. A duplicate session for an identity that connected
// in the meantime is closed instead of emitted, preserving the
// one-connected-session-per-identity invariant.
func (c *Client) sessionConnected(sess *session.Session) {
	peerID := sess.RemoteIdentity()
	if peerID == "" {
		c.logger.Warn("session connected without a peer identity, closing")
		sess.Close()
		return
	}

	c.mu.Lock()
	if c.responding[peerID] == sess {
		delete(c.responding, peerID)
	}
	if existing, ok := c.connected[peerID]; ok {
		c.mu.Unlock()
		if existing != sess {
			c.logger.Debug("closing duplicate session for connected peer", "peer", peerID)
			sess.Close()
		}
		return
	}
	c.connected[peerID] = sess
	c.mu.Unlock()

	c.logger.Info("peer connected", "peer", peerID)
	c.emit(Event{Kind: EventPeerConnected, PeerID: peerID, Session: sess})
}

// sessionFailed reaps a failed session and reports the peer if it had
// surfaced an identity.
func (c *Client) sessionFailed(sess *session.Session, cause error) {
	peerID, tracked, _ := c.reapSession(sess)
	if !tracked || peerID == "" {
		return
	}
	c.emit(Event{Kind: EventPeerFailed, PeerID: peerID, Err: cause})
}

// sessionClosed reaps a closed session. Only a session the caller saw
// connect produces a disconnect event.
func (c *Client) sessionClosed(sess *session.Session) {
	peerID, _, wasConnected := c.reapSession(sess)
	if !wasConnected {
		return
	}
	c.emit(Event{Kind: EventPeerDisconnected, PeerID: peerID})
}

// reapSession removes a session from every bookkeeping structure.
// Returns the session's identity, whether anything was removed, and
// whether the session was in the connected set.
func (c *Client) reapSession(sess *session.Session) (peerID string, tracked bool, wasConnected bool) {
	peerID = sess.RemoteIdentity()

	c.mu.Lock()
	defer c.mu.Unlock()

	// A session that dies while its offer is still in production
	// must release the generation slot, or no offer would ever be
	// generated again.
	if c.generatingSession == sess {
		c.generatingSession = nil
		c.generating = false
	}
	for id, offer := range c.pending {
		if offer.session == sess {
			delete(c.pending, id)
			offer.expiry.Stop()
			tracked = true
		}
	}
	if peerID != "" {
		if c.responding[peerID] == sess {
			delete(c.responding, peerID)
			tracked = true
		}
		if c.connected[peerID] == sess {
			delete(c.connected, peerID)
			tracked = true
			wasConnected = true
		}
	}
	return peerID, tracked, wasConnected
}

// dropTracker removes one relay and its timers. Losing the last relay
// ends discovery; sessions already connected are not disturbed.
func (c *Client) dropTracker(ts *trackerState, cause error) {
	url := ts.conn.URL()

	c.mu.Lock()
	if c.trackers[url] != ts {
		c.mu.Unlock()
		return
	}
	delete(c.trackers, url)
	if ts.announceTimer != nil {
		ts.announceTimer.Stop()
		ts.announceTimer = nil
	}
	remaining := len(c.trackers)
	alreadyClosed := c.closed
	c.mu.Unlock()

	ts.conn.Close()
	if alreadyClosed {
		return
	}

	if netutil.IsExpectedCloseError(cause) {
		c.logger.Info("tracker went away", "relay", url, "error", cause)
	} else {
		c.logger.Warn("tracker dropped", "relay", url, "error", cause)
	}
	c.emit(Event{Kind: EventTrackerWarning, Tracker: url, Err: cause})

	if remaining == 0 {
		c.shutdownDiscovery(fmt.Errorf("last relay lost: %w", cause))
	}
}

// Close stops discovery: relays, timers, and in-flight negotiation
// are torn down, connected sessions are left to their owners. Safe to
// call more than once.
func (c *Client) Close() error {
	c.shutdownDiscovery(nil)
	return nil
}

// shutdownDiscovery stops all scheduling and in-flight negotiation
// and emits the fatal Closed event exactly once. Connected sessions
// belong to the caller and are untouched.
func (c *Client) shutdownDiscovery(cause error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true

	trackers := make([]*trackerState, 0, len(c.trackers))
	for url, ts := range c.trackers {
		trackers = append(trackers, ts)
		delete(c.trackers, url)
	}
	pending := make([]*pendingOffer, 0, len(c.pending))
	for id, offer := range c.pending {
		pending = append(pending, offer)
		delete(c.pending, id)
	}
	responding := make([]*session.Session, 0, len(c.responding))
	for peerID, sess := range c.responding {
		responding = append(responding, sess)
		delete(c.responding, peerID)
	}
	c.mu.Unlock()

	for _, ts := range trackers {
		if ts.announceTimer != nil {
			ts.announceTimer.Stop()
		}
		ts.conn.Close()
	}
	for _, offer := range pending {
		offer.expiry.Stop()
		offer.session.Close()
	}
	for _, sess := range responding {
		sess.Close()
	}

	if cause != nil {
		c.logger.Warn("discovery stopped", "error", cause)
	} else {
		c.logger.Info("discovery stopped")
	}
	c.emit(Event{Kind: EventClosed, Err: cause})
}
