// Copyright 2026 The Netplay Authors
// SPDX-License-Identifier: Apache-2.0

package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/netplay-foundation/netplay/lib/netutil"
)

// Announce scheduling defaults. The interval grows multiplicatively
// after every announce, trading discovery latency for relay load over
// long sessions, and is capped so a long-running client still
// announces occasionally.
const (
	DefaultInitialInterval   = 5 * time.Second
	DefaultMaxInterval       = 120 * time.Second
	DefaultBackoffMultiplier = 1.1
)

// ConnConfig configures one relay connection.
type ConnConfig struct {
	// URL is the relay WebSocket endpoint (ws:// or wss://).
	URL string

	// InitialInterval, MaxInterval, and BackoffMultiplier control the
	// announce schedule. Zero values take the defaults above.
	InitialInterval   time.Duration
	MaxInterval       time.Duration
	BackoffMultiplier float64

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Conn is one persistent channel to one rendezvous relay. It owns the
// write side (serialized JSON text frames), the read pump, and the
// relay's announce backoff state.
type Conn struct {
	url         string
	ws          *websocket.Conn
	logger      *slog.Logger
	maxInterval time.Duration
	multiplier  float64

	// writeMu serializes frame writes; gorilla permits one concurrent
	// writer.
	writeMu sync.Mutex

	mu            sync.Mutex
	interval      time.Duration
	announceCount int

	closeOnce sync.Once
	closed    chan struct{}
}

// Dial connects to one relay. The returned Conn is ready for Send;
// the caller runs ReadLoop to pump inbound frames.
func Dial(ctx context.Context, config ConnConfig) (*Conn, error) {
	if config.InitialInterval <= 0 {
		config.InitialInterval = DefaultInitialInterval
	}
	if config.MaxInterval <= 0 {
		config.MaxInterval = DefaultMaxInterval
	}
	if config.BackoffMultiplier <= 1 {
		config.BackoffMultiplier = DefaultBackoffMultiplier
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, config.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing relay %s: %w", config.URL, err)
	}

	return &Conn{
		url:         config.URL,
		ws:          ws,
		logger:      config.Logger,
		maxInterval: config.MaxInterval,
		multiplier:  config.BackoffMultiplier,
		interval:    config.InitialInterval,
		closed:      make(chan struct{}),
	}, nil
}

// URL returns the relay endpoint this connection targets.
func (c *Conn) URL() string { return c.url }

// Send marshals one frame and writes it as a text message.
func (c *Conn) Send(frame any) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("encoding frame for %s: %w", c.url, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("writing frame to %s: %w", c.url, err)
	}
	return nil
}

// ReadLoop decodes inbound frames and hands them to handler until the
// connection fails or is closed. Malformed frames are logged and
// dropped; only transport-level errors end the loop. Blocks; run in
// its own goroutine.
func (c *Conn) ReadLoop(handler func(*Message)) error {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.closed:
				return nil
			default:
			}
			if netutil.IsExpectedCloseError(err) {
				return fmt.Errorf("relay %s went away: %w", c.url, err)
			}
			return fmt.Errorf("reading from relay %s: %w", c.url, err)
		}

		var message Message
		if err := json.Unmarshal(data, &message); err != nil {
			c.logger.Warn("dropping malformed relay frame",
				"relay", c.url,
				"error", err,
			)
			continue
		}
		handler(&message)
	}
}

// Interval returns the current announce interval for this relay.
func (c *Conn) Interval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interval
}

// AnnounceCount returns the number of scheduled announces recorded by
// AdvanceInterval.
func (c *Conn) AnnounceCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.announceCount
}

// AdvanceInterval records one scheduled announce and applies backoff
// to the interval. Returns the interval to use for the next announce.
func (c *Conn) AdvanceInterval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.announceCount++
	c.interval = NextInterval(c.interval, c.multiplier, c.maxInterval)
	return c.interval
}

// Close tears down the websocket. Idempotent; a ReadLoop blocked in a
// read returns nil rather than surfacing the interruption as an error.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.ws.Close()
	})
	return err
}

// NextInterval is the backoff step: current times multiplier, capped
// at limit.
func NextInterval(current time.Duration, multiplier float64, limit time.Duration) time.Duration {
	next := time.Duration(float64(current) * multiplier)
	if next > limit {
		return limit
	}
	return next
}
