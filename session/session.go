// Copyright 2026 The Netplay Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/netplay-foundation/netplay/lib/clock"
)

// DefaultGatherTimeout bounds the wait for ICE candidate gathering
// before a local description is emitted without the full candidate
// set. The flow proceeds on timeout rather than stalling the announce
// cycle.
const DefaultGatherTimeout = 3 * time.Second

// DefaultNegotiationTimeout bounds the whole handshake. A session that
// has not reached Connected when it elapses fails and releases its
// resources.
const DefaultNegotiationTimeout = 30 * time.Second

// ErrNegotiationTimeout is the failure reported when the handshake
// does not complete within the negotiation timeout.
var ErrNegotiationTimeout = errors.New("session: negotiation timed out")

// State is a Session's position in the handshake.
type State int

const (
	// StateNew is the initial state: no description exchanged yet.
	StateNew State = iota
	// StateOfferSent: the initiator is offering and awaits an answer.
	StateOfferSent
	// StateOfferReceived: a remote offer arrived and the local answer
	// is being generated.
	StateOfferReceived
	// StateAnswerSent: the local answer went out and the session
	// awaits the data channel opening.
	StateAnswerSent
	// StateConnected: the data channel is open.
	StateConnected
	// StateClosed: explicitly closed. Terminal.
	StateClosed
	// StateFailed: transport error or negotiation timeout. Terminal.
	StateFailed
)

// String returns the state name for logging.
func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateOfferSent:
		return "offer-sent"
	case StateOfferReceived:
		return "offer-received"
	case StateAnswerSent:
		return "answer-sent"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool { return s == StateClosed || s == StateFailed }

// Options configures a Session. The zero value is a responder with
// trickle disabled and default timeouts.
type Options struct {
	// Initiator marks the side that generates the offer.
	Initiator bool

	// LocalIdentity and RemoteIdentity are the opaque peer identities
	// of the two sides. RemoteIdentity may be empty for an initiator
	// until the answer reveals who took the offer.
	LocalIdentity  string
	RemoteIdentity string

	// Trickle enables incremental candidate exchange. When false, the
	// local description is withheld until gathering completes or
	// GatherTimeout elapses.
	Trickle bool

	// GatherTimeout bounds the gathering wait. Defaults to
	// DefaultGatherTimeout.
	GatherTimeout time.Duration

	// NegotiationTimeout bounds the whole handshake. Defaults to
	// DefaultNegotiationTimeout.
	NegotiationTimeout time.Duration

	// Clock defaults to clock.Real().
	Clock clock.Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Session drives one transport session through its handshake. Create
// with New, register handlers with Handle, then either call Offer
// (initiator) or feed the relayed offer to Signal (responder).
//
// Signal, Send, and Close are non-blocking and safe for concurrent
// use. Close is idempotent from every state.
type Session struct {
	transport          Transport
	initiator          bool
	trickle            bool
	gatherTimeout      time.Duration
	negotiationTimeout time.Duration
	clk                clock.Clock
	logger             *slog.Logger

	localIdentity string

	handlersMu sync.RWMutex
	handlers   map[EventKind][]func(Event)

	mu               sync.Mutex
	state            State
	remoteIdentity   string
	channelOpen      bool
	negotiationTimer *clock.Timer

	// connectOnce guards the Connect event: the transport's open
	// signal may fire more than once, the event must not.
	connectOnce sync.Once
}

// New wraps a Transport in a handshake driver. The Session takes
// ownership of the transport's lifecycle callbacks and resources.
func New(transport Transport, options Options) *Session {
	if options.GatherTimeout <= 0 {
		options.GatherTimeout = DefaultGatherTimeout
	}
	if options.NegotiationTimeout <= 0 {
		options.NegotiationTimeout = DefaultNegotiationTimeout
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}

	s := &Session{
		transport:          transport,
		initiator:          options.Initiator,
		trickle:            options.Trickle,
		gatherTimeout:      options.GatherTimeout,
		negotiationTimeout: options.NegotiationTimeout,
		clk:                options.Clock,
		logger:             options.Logger,
		localIdentity:      options.LocalIdentity,
		remoteIdentity:     options.RemoteIdentity,
		handlers:           make(map[EventKind][]func(Event)),
	}

	transport.OnOpen(s.handleChannelOpen)
	transport.OnMessage(s.handleChannelMessage)
	transport.OnError(func(err error) {
		s.fail(fmt.Errorf("transport: %w", err))
	})
	transport.OnClose(s.Close)
	transport.OnCandidate(s.handleLocalCandidate)

	return s
}

// State returns the current handshake state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Initiator reports whether this side generated the offer.
func (s *Session) Initiator() bool { return s.initiator }

// LocalIdentity returns the local peer identity.
func (s *Session) LocalIdentity() string { return s.localIdentity }

// RemoteIdentity returns the remote peer identity, or "" if not yet
// known.
func (s *Session) RemoteIdentity() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteIdentity
}

// SetRemoteIdentity records the remote peer identity once signaling
// reveals it.
func (s *Session) SetRemoteIdentity(identity string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remoteIdentity = identity
}

// Offer starts the initiator handshake: generate the local offer and
// emit it as a Signal event once its candidate set is ready.
// Non-blocking; progress and failure surface through events.
func (s *Session) Offer() {
	s.mu.Lock()
	if !s.initiator || s.state != StateNew {
		state := s.state
		s.mu.Unlock()
		s.logger.Warn("ignoring Offer call",
			"initiator", s.initiator,
			"state", state.String(),
		)
		return
	}
	s.state = StateOfferSent
	s.armNegotiationTimerLocked()
	s.mu.Unlock()

	go s.produceOffer()
}

func (s *Session) produceOffer() {
	ctx, cancel := context.WithTimeout(context.Background(), s.negotiationTimeout)
	defer cancel()

	sdp, err := s.transport.CreateOffer(ctx)
	if err != nil {
		s.fail(fmt.Errorf("creating offer: %w", err))
		return
	}

	sdp = s.completeLocalDescription(sdp)
	if s.State().Terminal() {
		return
	}
	s.emit(Event{Kind: EventSignal, Payload: Payload{Type: PayloadOffer, SDP: sdp}})
}

// Signal feeds one relayed payload into the handshake. Offers and
// answers that cannot be applied are fatal; candidates that cannot be
// applied are logged and dropped, since candidates may legitimately
// arrive after negotiation has partially completed.
func (s *Session) Signal(payload Payload) {
	switch payload.Type {
	case PayloadOffer:
		s.mu.Lock()
		if s.initiator || s.state != StateNew {
			state := s.state
			s.mu.Unlock()
			s.logger.Warn("ignoring unexpected offer",
				"initiator", s.initiator,
				"state", state.String(),
			)
			return
		}
		s.state = StateOfferReceived
		s.armNegotiationTimerLocked()
		s.mu.Unlock()
		go s.produceAnswer(payload)

	case PayloadAnswer:
		s.mu.Lock()
		if !s.initiator || s.state != StateOfferSent {
			state := s.state
			s.mu.Unlock()
			s.logger.Warn("ignoring unexpected answer",
				"initiator", s.initiator,
				"state", state.String(),
			)
			return
		}
		s.mu.Unlock()
		go s.applyAnswer(payload)

	case PayloadCandidate:
		if payload.Candidate == nil {
			s.logger.Warn("candidate payload without candidate body")
			return
		}
		if err := s.transport.AddCandidate(*payload.Candidate); err != nil {
			s.logger.Debug("dropping candidate", "error", err)
		}

	default:
		s.logger.Warn("unrecognized signaling payload", "type", string(payload.Type))
	}
}

func (s *Session) produceAnswer(offer Payload) {
	if err := s.transport.SetRemoteDescription(PayloadOffer, offer.SDP); err != nil {
		s.fail(fmt.Errorf("applying remote offer: %w", err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.negotiationTimeout)
	defer cancel()

	sdp, err := s.transport.CreateAnswer(ctx)
	if err != nil {
		s.fail(fmt.Errorf("creating answer: %w", err))
		return
	}

	sdp = s.completeLocalDescription(sdp)

	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	if s.state == StateOfferReceived {
		s.state = StateAnswerSent
	}
	s.mu.Unlock()

	s.emit(Event{Kind: EventSignal, Payload: Payload{Type: PayloadAnswer, SDP: sdp}})
}

func (s *Session) applyAnswer(answer Payload) {
	if err := s.transport.SetRemoteDescription(PayloadAnswer, answer.SDP); err != nil {
		s.fail(fmt.Errorf("applying remote answer: %w", err))
	}
	// The Connected transition and the Connect event follow the data
	// channel's open signal, which confirms connectivity end to end.
}

// completeLocalDescription returns the SDP to emit for the current
// local description. With trickle disabled it waits for gathering to
// finish (bounded by the gather timeout) and re-reads the description
// so every gathered candidate is embedded.
func (s *Session) completeLocalDescription(initial string) string {
	if s.trickle {
		return initial
	}

	select {
	case <-s.transport.GatheringDone():
	case <-s.clk.After(s.gatherTimeout):
		s.logger.Warn("candidate gathering incomplete, emitting description anyway",
			"timeout", s.gatherTimeout,
		)
	}

	if _, sdp, ok := s.transport.LocalDescription(); ok {
		return sdp
	}
	return initial
}

// Send writes one payload to the data channel. Returns false when the
// channel is not open or the write fails; a transiently unready
// channel is an expected condition, not an error.
func (s *Session) Send(data []byte) bool {
	s.mu.Lock()
	open := s.channelOpen && s.state == StateConnected
	s.mu.Unlock()
	if !open {
		return false
	}

	if err := s.transport.Send(data); err != nil {
		s.logger.Warn("data channel send failed", "error", err)
		return false
	}
	return true
}

// Close releases transport resources and emits the Close event. Safe
// to call from any state, any number of times, including before any
// remote description has been applied.
func (s *Session) Close() {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	s.stopNegotiationTimerLocked()
	s.mu.Unlock()

	s.transport.Close()
	s.emit(Event{Kind: EventClose})
}

// fail moves the session to StateFailed and emits Error then Close.
func (s *Session) fail(err error) {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	s.state = StateFailed
	s.stopNegotiationTimerLocked()
	s.mu.Unlock()

	s.logger.Warn("session failed",
		"initiator", s.initiator,
		"remote", s.RemoteIdentity(),
		"error", err,
	)
	s.transport.Close()
	s.emit(Event{Kind: EventError, Err: err})
	s.emit(Event{Kind: EventClose})
}

func (s *Session) handleChannelOpen() {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	s.channelOpen = true
	s.state = StateConnected
	s.stopNegotiationTimerLocked()
	s.mu.Unlock()

	s.connectOnce.Do(func() {
		s.emit(Event{Kind: EventConnect})
	})
}

func (s *Session) handleChannelMessage(data []byte) {
	if s.State().Terminal() {
		return
	}
	s.emit(Event{Kind: EventData, Data: data})
}

func (s *Session) handleLocalCandidate(candidate Candidate) {
	if !s.trickle || s.State().Terminal() {
		return
	}
	c := candidate
	s.emit(Event{Kind: EventSignal, Payload: Payload{Type: PayloadCandidate, Candidate: &c}})
}

// armNegotiationTimerLocked starts the handshake deadline once. The
// timer is cancelled on connect, close, and failure so it can never
// fire against a finished session.
func (s *Session) armNegotiationTimerLocked() {
	if s.negotiationTimer != nil {
		return
	}
	s.negotiationTimer = s.clk.AfterFunc(s.negotiationTimeout, func() {
		s.fail(ErrNegotiationTimeout)
	})
}

func (s *Session) stopNegotiationTimerLocked() {
	if s.negotiationTimer != nil {
		s.negotiationTimer.Stop()
		s.negotiationTimer = nil
	}
}
