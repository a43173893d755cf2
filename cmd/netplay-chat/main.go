// Copyright 2026 The Netplay Authors
// SPDX-License-Identifier: Apache-2.0

// netplay-chat is a terminal chat over netplay peer discovery. Every
// instance started with the same topic and tracker set finds the
// others through the relays, connects over WebRTC data channels, and
// broadcasts each stdin line to all connected peers.
//
// It exists as a working demonstration of the discovery stack and as
// a hands-on debugging tool against real relay deployments.
//
// Usage:
//
//	netplay-chat --tracker wss://tracker.example.com --topic demo/lobby
//	netplay-chat --config chat.yaml
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/netplay-foundation/netplay/discovery"
	"github.com/netplay-foundation/netplay/lib/codec"
	"github.com/netplay-foundation/netplay/lib/version"
	"github.com/netplay-foundation/netplay/session"
)

// chatMessage is the CBOR payload exchanged on data channels.
type chatMessage struct {
	Nick string `cbor:"nick"`
	Body string `cbor:"body"`
}

// shortID abbreviates a peer identity for display. Identities are
// normally 40 hex chars but may be any caller-chosen string.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath string
		trackers   []string
		topic      string
		peerID     string
		nick       string
		iceServers []string
		verbose    bool
	)

	if len(os.Args) > 1 && (os.Args[1] == "--version" || os.Args[1] == "version") {
		fmt.Printf("netplay-chat %s\n", version.Info())
		return nil
	}

	flagSet := pflag.NewFlagSet("netplay-chat", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "YAML config file (flags override file values)")
	flagSet.StringArrayVar(&trackers, "tracker", nil, "relay WebSocket URL (repeatable)")
	flagSet.StringVar(&topic, "topic", "", "discovery topic shared by all chat members")
	flagSet.StringVar(&peerID, "peer-id", "", "stable peer identity (default: random per run)")
	flagSet.StringVar(&nick, "nick", "", "display name shown to peers (default: first 8 chars of peer ID)")
	flagSet.StringArrayVar(&iceServers, "ice-server", nil, "STUN/TURN server URL (repeatable)")
	flagSet.BoolVar(&verbose, "verbose", false, "enable debug logging")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	config := discovery.Config{}
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, &config); err != nil {
			return fmt.Errorf("parsing config %s: %w", configPath, err)
		}
	}
	if len(trackers) > 0 {
		config.Trackers = trackers
	}
	if topic != "" {
		config.Topic = topic
	}
	if peerID != "" {
		config.PeerID = peerID
	}
	if len(iceServers) > 0 {
		config.ICEServers = iceServers
	}
	if config.PeerID == "" {
		config.PeerID = discovery.NewPeerID()
	}
	if nick == "" {
		nick = shortID(config.PeerID)
	}

	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	config.Logger = logger

	client, err := discovery.New(config)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var peersMu sync.Mutex
	peers := make(map[string]*session.Session)

	closed := make(chan error, 1)
	client.Handle(discovery.EventPeerConnected, func(event discovery.Event) {
		sess := event.Session
		sess.Handle(session.EventData, func(dataEvent session.Event) {
			var message chatMessage
			if err := codec.Unmarshal(dataEvent.Data, &message); err != nil {
				logger.Warn("undecodable message", "peer", event.PeerID, "error", err)
				return
			}
			fmt.Printf("<%s> %s\n", message.Nick, message.Body)
		})
		peersMu.Lock()
		peers[event.PeerID] = sess
		count := len(peers)
		peersMu.Unlock()
		fmt.Printf("* %s joined (%d peers)\n", shortID(event.PeerID), count)
	})
	client.Handle(discovery.EventPeerDisconnected, func(event discovery.Event) {
		peersMu.Lock()
		delete(peers, event.PeerID)
		count := len(peers)
		peersMu.Unlock()
		fmt.Printf("* %s left (%d peers)\n", shortID(event.PeerID), count)
	})
	client.Handle(discovery.EventPeerFailed, func(event discovery.Event) {
		peersMu.Lock()
		delete(peers, event.PeerID)
		peersMu.Unlock()
		logger.Warn("peer failed", "peer", event.PeerID, "error", event.Err)
	})
	client.Handle(discovery.EventClosed, func(event discovery.Event) {
		closed <- event.Err
	})

	if err := client.Start(ctx); err != nil {
		return err
	}
	fmt.Printf("* chatting as %s on topic %q (swarm %s)\n", nick, config.Topic, client.InfoHash())

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case err := <-closed:
			if err != nil {
				return fmt.Errorf("discovery ended: %w", err)
			}
			return nil

		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if line == "" {
				continue
			}
			data, err := codec.Marshal(chatMessage{Nick: nick, Body: line})
			if err != nil {
				return fmt.Errorf("encoding message: %w", err)
			}
			peersMu.Lock()
			for peerID, sess := range peers {
				if !sess.Send(data) {
					logger.Warn("send failed", "peer", peerID)
				}
			}
			peersMu.Unlock()
		}
	}
}
