// Copyright 2026 The Netplay Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/netplay-foundation/netplay/lib/clock"
	"github.com/netplay-foundation/netplay/lib/testutil"
)

// fakeTransport is an in-process Transport with scriptable failures.
type fakeTransport struct {
	mu             sync.Mutex
	gatherDone     chan struct{}
	localKind      PayloadType
	localSDP       string
	remoteKind     PayloadType
	remoteSDP      string
	candidates     []Candidate
	sent           [][]byte
	closed         bool
	remoteError    error
	candidateError error

	onOpen      func()
	onMessage   func([]byte)
	onError     func(error)
	onClose     func()
	onCandidate func(Candidate)
}

func newFakeTransport() *fakeTransport {
	done := make(chan struct{})
	close(done) // gathering finishes immediately unless a test overrides
	return &fakeTransport{gatherDone: done}
}

func (f *fakeTransport) CreateOffer(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.localKind, f.localSDP = PayloadOffer, "fake-offer-sdp"
	return f.localSDP, nil
}

func (f *fakeTransport) CreateAnswer(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.localKind, f.localSDP = PayloadAnswer, "fake-answer-sdp"
	return f.localSDP, nil
}

func (f *fakeTransport) SetRemoteDescription(kind PayloadType, sdp string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.remoteError != nil {
		return f.remoteError
	}
	f.remoteKind, f.remoteSDP = kind, sdp
	return nil
}

func (f *fakeTransport) AddCandidate(candidate Candidate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.candidateError != nil {
		return f.candidateError
	}
	f.candidates = append(f.candidates, candidate)
	return nil
}

func (f *fakeTransport) GatheringDone() <-chan struct{} { return f.gatherDone }

func (f *fakeTransport) LocalDescription() (PayloadType, string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.localSDP == "" {
		return "", "", false
	}
	return f.localKind, f.localSDP, true
}

func (f *fakeTransport) OnCandidate(fn func(Candidate)) {
	f.mu.Lock()
	f.onCandidate = fn
	f.mu.Unlock()
}

func (f *fakeTransport) OnOpen(fn func()) {
	f.mu.Lock()
	f.onOpen = fn
	f.mu.Unlock()
}

func (f *fakeTransport) OnMessage(fn func([]byte)) {
	f.mu.Lock()
	f.onMessage = fn
	f.mu.Unlock()
}

func (f *fakeTransport) OnError(fn func(error)) {
	f.mu.Lock()
	f.onError = fn
	f.mu.Unlock()
}

func (f *fakeTransport) OnClose(fn func()) {
	f.mu.Lock()
	f.onClose = fn
	f.mu.Unlock()
}

func (f *fakeTransport) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("closed")
	}
	f.sent = append(f.sent, data)
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// openChannel simulates the data channel's open signal.
func (f *fakeTransport) openChannel() {
	f.mu.Lock()
	onOpen := f.onOpen
	f.mu.Unlock()
	if onOpen != nil {
		onOpen()
	}
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestSession_InitiatorHandshake(t *testing.T) {
	transport := newFakeTransport()
	sess := New(transport, Options{
		Initiator:     true,
		LocalIdentity: "alice",
		Logger:        discardLogger(),
	})

	signals := make(chan Payload, 4)
	connected := make(chan struct{}, 2)
	sess.Handle(EventSignal, func(event Event) { signals <- event.Payload })
	sess.Handle(EventConnect, func(Event) { connected <- struct{}{} })

	sess.Offer()

	offer := testutil.RequireReceive(t, signals, 5*time.Second, "waiting for local offer")
	if offer.Type != PayloadOffer {
		t.Fatalf("emitted payload type = %q, want offer", offer.Type)
	}
	if offer.SDP != "fake-offer-sdp" {
		t.Fatalf("emitted SDP = %q", offer.SDP)
	}
	if got := sess.State(); got != StateOfferSent {
		t.Fatalf("state after Offer = %v, want %v", got, StateOfferSent)
	}

	sess.Signal(Payload{Type: PayloadAnswer, SDP: "remote-answer-sdp"})
	transport.openChannel()

	testutil.RequireReceive(t, connected, 5*time.Second, "waiting for connect")
	if got := sess.State(); got != StateConnected {
		t.Fatalf("state = %v, want %v", got, StateConnected)
	}

	if !sess.Send([]byte("ping")) {
		t.Fatal("Send returned false on an open channel")
	}
	transport.mu.Lock()
	sentCount := len(transport.sent)
	transport.mu.Unlock()
	if sentCount != 1 {
		t.Fatalf("transport recorded %d sends, want 1", sentCount)
	}
}

func TestSession_ResponderHandshake(t *testing.T) {
	transport := newFakeTransport()
	sess := New(transport, Options{
		LocalIdentity:  "bob",
		RemoteIdentity: "alice",
		Logger:         discardLogger(),
	})

	signals := make(chan Payload, 4)
	connected := make(chan struct{}, 2)
	sess.Handle(EventSignal, func(event Event) { signals <- event.Payload })
	sess.Handle(EventConnect, func(Event) { connected <- struct{}{} })

	sess.Signal(Payload{Type: PayloadOffer, SDP: "remote-offer-sdp"})

	answer := testutil.RequireReceive(t, signals, 5*time.Second, "waiting for local answer")
	if answer.Type != PayloadAnswer {
		t.Fatalf("emitted payload type = %q, want answer", answer.Type)
	}
	if got := sess.State(); got != StateAnswerSent {
		t.Fatalf("state after answering = %v, want %v", got, StateAnswerSent)
	}

	transport.mu.Lock()
	remoteSDP := transport.remoteSDP
	transport.mu.Unlock()
	if remoteSDP != "remote-offer-sdp" {
		t.Fatalf("remote description = %q, want the relayed offer", remoteSDP)
	}

	transport.openChannel()
	testutil.RequireReceive(t, connected, 5*time.Second, "waiting for connect")
}

func TestSession_ConnectIdempotent(t *testing.T) {
	transport := newFakeTransport()
	sess := New(transport, Options{Initiator: true, Logger: discardLogger()})

	connected := make(chan struct{}, 2)
	sess.Handle(EventConnect, func(Event) { connected <- struct{}{} })

	sess.Offer()
	sess.Signal(Payload{Type: PayloadAnswer, SDP: "remote-answer-sdp"})

	// The transport's open signal fires twice; the Connect event must
	// fire once.
	transport.openChannel()
	transport.openChannel()

	testutil.RequireReceive(t, connected, 5*time.Second, "waiting for connect")
	testutil.RequireNoReceive(t, connected, 100*time.Millisecond, "duplicate connect event")
}

func TestSession_CandidateFailureNonFatal(t *testing.T) {
	transport := newFakeTransport()
	transport.candidateError = errors.New("no remote description")
	sess := New(transport, Options{Initiator: true, Logger: discardLogger()})

	failures := make(chan error, 1)
	sess.Handle(EventError, func(event Event) { failures <- event.Err })

	sess.Signal(Payload{Type: PayloadCandidate, Candidate: &Candidate{Candidate: "candidate:0 1 udp 1 10.0.0.1 40000 typ host"}})

	testutil.RequireNoReceive(t, failures, 100*time.Millisecond, "candidate failure escalated to error")
	if got := sess.State(); got != StateNew {
		t.Fatalf("state = %v, want %v", got, StateNew)
	}
}

func TestSession_OfferApplyFailureFatal(t *testing.T) {
	transport := newFakeTransport()
	transport.remoteError = errors.New("bad sdp")
	sess := New(transport, Options{Logger: discardLogger()})

	failures := make(chan error, 1)
	closes := make(chan struct{}, 1)
	sess.Handle(EventError, func(event Event) { failures <- event.Err })
	sess.Handle(EventClose, func(Event) { closes <- struct{}{} })

	sess.Signal(Payload{Type: PayloadOffer, SDP: "garbage"})

	err := testutil.RequireReceive(t, failures, 5*time.Second, "waiting for error event")
	if err == nil {
		t.Fatal("error event carried nil error")
	}
	testutil.RequireReceive(t, closes, 5*time.Second, "waiting for close event")

	if got := sess.State(); got != StateFailed {
		t.Fatalf("state = %v, want %v", got, StateFailed)
	}
	if !transport.isClosed() {
		t.Fatal("transport not closed after fatal failure")
	}
}

func TestSession_CloseIdempotentFromAnyState(t *testing.T) {
	transport := newFakeTransport()
	sess := New(transport, Options{Logger: discardLogger()})

	closes := make(chan struct{}, 2)
	sess.Handle(EventClose, func(Event) { closes <- struct{}{} })

	// Close before any description has been applied, then again.
	sess.Close()
	sess.Close()

	testutil.RequireReceive(t, closes, 5*time.Second, "waiting for close event")
	testutil.RequireNoReceive(t, closes, 100*time.Millisecond, "duplicate close event")

	if got := sess.State(); got != StateClosed {
		t.Fatalf("state = %v, want %v", got, StateClosed)
	}
	if !transport.isClosed() {
		t.Fatal("transport not closed")
	}
}

func TestSession_SendBeforeOpenReturnsFalse(t *testing.T) {
	sess := New(newFakeTransport(), Options{Initiator: true, Logger: discardLogger()})
	if sess.Send([]byte("too early")) {
		t.Fatal("Send returned true before the channel opened")
	}
}

func TestSession_NegotiationTimeout(t *testing.T) {
	fake := clock.Fake(time.Unix(1000, 0))
	transport := newFakeTransport()
	sess := New(transport, Options{
		Initiator: true,
		Clock:     fake,
		Logger:    discardLogger(),
	})

	signals := make(chan Payload, 1)
	failures := make(chan error, 1)
	sess.Handle(EventSignal, func(event Event) { signals <- event.Payload })
	sess.Handle(EventError, func(event Event) { failures <- event.Err })

	sess.Offer()
	testutil.RequireReceive(t, signals, 5*time.Second, "waiting for local offer")

	// No answer ever arrives.
	fake.Advance(DefaultNegotiationTimeout)

	err := testutil.RequireReceive(t, failures, 5*time.Second, "waiting for timeout failure")
	if !errors.Is(err, ErrNegotiationTimeout) {
		t.Fatalf("failure = %v, want ErrNegotiationTimeout", err)
	}
	if got := sess.State(); got != StateFailed {
		t.Fatalf("state = %v, want %v", got, StateFailed)
	}
}

func TestSession_TimerCancelledOnConnect(t *testing.T) {
	fake := clock.Fake(time.Unix(1000, 0))
	transport := newFakeTransport()
	sess := New(transport, Options{
		Initiator: true,
		Clock:     fake,
		Logger:    discardLogger(),
	})

	signals := make(chan Payload, 1)
	failures := make(chan error, 1)
	sess.Handle(EventSignal, func(event Event) { signals <- event.Payload })
	sess.Handle(EventError, func(event Event) { failures <- event.Err })

	sess.Offer()
	testutil.RequireReceive(t, signals, 5*time.Second, "waiting for local offer")
	sess.Signal(Payload{Type: PayloadAnswer, SDP: "remote-answer-sdp"})
	transport.openChannel()

	// The negotiation deadline passing after connect must not fail
	// the session.
	fake.Advance(10 * DefaultNegotiationTimeout)
	testutil.RequireNoReceive(t, failures, 100*time.Millisecond, "stale negotiation timer fired")
	if got := sess.State(); got != StateConnected {
		t.Fatalf("state = %v, want %v", got, StateConnected)
	}
}

func TestSession_GatherTimeoutEmitsPartialDescription(t *testing.T) {
	transport := newFakeTransport()
	transport.gatherDone = make(chan struct{}) // gathering never finishes

	sess := New(transport, Options{
		Initiator:     true,
		GatherTimeout: 20 * time.Millisecond,
		Logger:        discardLogger(),
	})

	signals := make(chan Payload, 1)
	sess.Handle(EventSignal, func(event Event) { signals <- event.Payload })

	sess.Offer()

	offer := testutil.RequireReceive(t, signals, 5*time.Second, "waiting for partial offer")
	if offer.SDP == "" {
		t.Fatal("gather timeout emitted an empty description")
	}
}

func TestSession_HandlerPanicIsolated(t *testing.T) {
	transport := newFakeTransport()
	sess := New(transport, Options{Initiator: true, Logger: discardLogger()})

	reached := make(chan struct{}, 1)
	sess.Handle(EventConnect, func(Event) { panic("handler bug") })
	sess.Handle(EventConnect, func(Event) { reached <- struct{}{} })

	sess.Offer()
	sess.Signal(Payload{Type: PayloadAnswer, SDP: "remote-answer-sdp"})
	transport.openChannel()

	testutil.RequireReceive(t, reached, 5*time.Second, "second handler blocked by panicking first handler")
}

func TestSession_StaleAnswerIgnored(t *testing.T) {
	transport := newFakeTransport()
	sess := New(transport, Options{Logger: discardLogger()})

	failures := make(chan error, 1)
	sess.Handle(EventError, func(event Event) { failures <- event.Err })

	// An answer arriving at a responder session that never offered is
	// dropped without side effects.
	sess.Signal(Payload{Type: PayloadAnswer, SDP: "unsolicited"})

	testutil.RequireNoReceive(t, failures, 100*time.Millisecond, "unsolicited answer caused failure")
	if got := sess.State(); got != StateNew {
		t.Fatalf("state = %v, want %v", got, StateNew)
	}
}
