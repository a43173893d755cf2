// Copyright 2026 The Netplay Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"
)

// Compile-time interface check.
var _ Transport = (*WebRTCTransport)(nil)

// dataChannelLabel names the single ordered game data channel each
// session carries.
const dataChannelLabel = "netplay"

// WebRTCConfig configures a WebRTCTransport.
type WebRTCConfig struct {
	// ICEServers is the STUN/TURN list for candidate gathering. Empty
	// means host candidates only, sufficient for same-LAN play and
	// tests.
	ICEServers []webrtc.ICEServer

	// Initiator decides which side creates the data channel. The
	// initiator creates it before offering; the responder receives it
	// through the remote description.
	Initiator bool

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// WebRTCTransport implements Transport on a pion PeerConnection with
// one ordered, reliable data channel. Loopback candidates are enabled
// so two transports on the same machine can connect, which is how the
// tests and local multiplayer work.
type WebRTCTransport struct {
	pc            *webrtc.PeerConnection
	logger        *slog.Logger
	gatheringDone <-chan struct{}

	mu          sync.Mutex
	channel     *webrtc.DataChannel
	onOpen      func()
	onMessage   func([]byte)
	onError     func(error)
	onClose     func()
	onCandidate func(Candidate)

	closeOnce sync.Once
}

// NewWebRTCTransport creates a pion PeerConnection configured for one
// data session.
func NewWebRTCTransport(config WebRTCConfig) (*WebRTCTransport, error) {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	settingEngine := webrtc.SettingEngine{}
	settingEngine.SetIncludeLoopbackCandidate(true)
	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))

	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers: config.ICEServers,
	})
	if err != nil {
		return nil, fmt.Errorf("creating PeerConnection: %w", err)
	}

	t := &WebRTCTransport{
		pc:            pc,
		logger:        config.Logger,
		gatheringDone: webrtc.GatheringCompletePromise(pc),
	}

	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		t.dispatchCandidate(candidate.ToJSON())
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		t.logger.Debug("peer connection state change", "state", state.String())
		if state == webrtc.PeerConnectionStateFailed {
			t.dispatchError(errors.New("peer connection failed"))
		}
	})

	if config.Initiator {
		ordered := true
		channel, err := pc.CreateDataChannel(dataChannelLabel, &webrtc.DataChannelInit{
			Ordered: &ordered,
		})
		if err != nil {
			pc.Close()
			return nil, fmt.Errorf("creating data channel: %w", err)
		}
		t.bindChannel(channel)
	} else {
		pc.OnDataChannel(t.bindChannel)
	}

	return t, nil
}

// bindChannel wires the data channel's lifecycle into the registered
// callbacks. On the responder side this runs when the remote side's
// channel arrives through the SCTP association.
func (t *WebRTCTransport) bindChannel(channel *webrtc.DataChannel) {
	t.mu.Lock()
	t.channel = channel
	t.mu.Unlock()

	channel.OnOpen(func() {
		t.mu.Lock()
		onOpen := t.onOpen
		t.mu.Unlock()
		if onOpen != nil {
			onOpen()
		}
	})
	channel.OnMessage(func(message webrtc.DataChannelMessage) {
		t.mu.Lock()
		onMessage := t.onMessage
		t.mu.Unlock()
		if onMessage != nil {
			onMessage(message.Data)
		}
	})
	channel.OnClose(func() {
		t.mu.Lock()
		onClose := t.onClose
		t.mu.Unlock()
		if onClose != nil {
			onClose()
		}
	})
	channel.OnError(func(err error) {
		t.dispatchError(err)
	})
}

func (t *WebRTCTransport) dispatchError(err error) {
	t.mu.Lock()
	onError := t.onError
	t.mu.Unlock()
	if onError != nil {
		onError(err)
	}
}

func (t *WebRTCTransport) dispatchCandidate(init webrtc.ICECandidateInit) {
	t.mu.Lock()
	onCandidate := t.onCandidate
	t.mu.Unlock()
	if onCandidate != nil {
		onCandidate(Candidate{
			Candidate:     init.Candidate,
			SDPMid:        init.SDPMid,
			SDPMLineIndex: init.SDPMLineIndex,
		})
	}
}

func (t *WebRTCTransport) CreateOffer(ctx context.Context) (string, error) {
	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("creating SDP offer: %w", err)
	}
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("setting local description: %w", err)
	}
	return offer.SDP, ctx.Err()
}

func (t *WebRTCTransport) CreateAnswer(ctx context.Context) (string, error) {
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("creating SDP answer: %w", err)
	}
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("setting local description: %w", err)
	}
	return answer.SDP, ctx.Err()
}

func (t *WebRTCTransport) SetRemoteDescription(kind PayloadType, sdp string) error {
	var sdpType webrtc.SDPType
	switch kind {
	case PayloadOffer:
		sdpType = webrtc.SDPTypeOffer
	case PayloadAnswer:
		sdpType = webrtc.SDPTypeAnswer
	default:
		return fmt.Errorf("description type %q is not offer or answer", kind)
	}
	if err := t.pc.SetRemoteDescription(webrtc.SessionDescription{Type: sdpType, SDP: sdp}); err != nil {
		return fmt.Errorf("setting remote description: %w", err)
	}
	return nil
}

func (t *WebRTCTransport) AddCandidate(candidate Candidate) error {
	return t.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:     candidate.Candidate,
		SDPMid:        candidate.SDPMid,
		SDPMLineIndex: candidate.SDPMLineIndex,
	})
}

func (t *WebRTCTransport) GatheringDone() <-chan struct{} { return t.gatheringDone }

func (t *WebRTCTransport) LocalDescription() (PayloadType, string, bool) {
	description := t.pc.LocalDescription()
	if description == nil {
		return "", "", false
	}
	kind := PayloadAnswer
	if description.Type == webrtc.SDPTypeOffer {
		kind = PayloadOffer
	}
	return kind, description.SDP, true
}

func (t *WebRTCTransport) OnCandidate(f func(Candidate)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onCandidate = f
}

func (t *WebRTCTransport) OnOpen(f func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onOpen = f
}

func (t *WebRTCTransport) OnMessage(f func(data []byte)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onMessage = f
}

func (t *WebRTCTransport) OnError(f func(error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onError = f
}

func (t *WebRTCTransport) OnClose(f func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onClose = f
}

func (t *WebRTCTransport) Send(data []byte) error {
	t.mu.Lock()
	channel := t.channel
	t.mu.Unlock()
	if channel == nil {
		return errors.New("data channel not established")
	}
	return channel.Send(data)
}

// Close releases the PeerConnection. Idempotent.
func (t *WebRTCTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		err = t.pc.Close()
	})
	return err
}
