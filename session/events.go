// Copyright 2026 The Netplay Authors
// SPDX-License-Identifier: Apache-2.0

package session

import "log/slog"

// EventKind enumerates the events a Session emits.
type EventKind int

const (
	// EventSignal carries an outbound signaling payload that must be
	// relayed to the remote peer.
	EventSignal EventKind = iota
	// EventConnect fires exactly once when the data channel opens.
	EventConnect
	// EventData carries a message received on the data channel.
	EventData
	// EventError reports a fatal negotiation or transport failure.
	// Always followed by EventClose.
	EventError
	// EventClose fires exactly once when the session reaches a
	// terminal state.
	EventClose
)

// String returns the event kind name for logging.
func (k EventKind) String() string {
	switch k {
	case EventSignal:
		return "signal"
	case EventConnect:
		return "connect"
	case EventData:
		return "data"
	case EventError:
		return "error"
	case EventClose:
		return "close"
	}
	return "unknown"
}

// Event is one session event. Payload is set for EventSignal, Data
// for EventData, Err for EventError.
type Event struct {
	Kind    EventKind
	Payload Payload
	Data    []byte
	Err     error
}

// Handle registers a handler for one event kind. Multiple handlers
// per kind are allowed and run in registration order. Register all
// handlers before starting negotiation; events emitted before a
// handler is registered are not replayed.
func (s *Session) Handle(kind EventKind, handler func(Event)) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	s.handlers[kind] = append(s.handlers[kind], handler)
}

// emit dispatches an event to every handler registered for its kind.
func (s *Session) emit(event Event) {
	s.handlersMu.RLock()
	handlers := append([]func(Event){}, s.handlers[event.Kind]...)
	s.handlersMu.RUnlock()

	for _, handler := range handlers {
		invokeHandler(s.logger, event, handler)
	}
}

// invokeHandler runs one handler inside its own fault boundary. A
// panicking handler is logged and must not prevent the remaining
// handlers from running.
func invokeHandler(logger *slog.Logger, event Event, handler func(Event)) {
	defer func() {
		if recovered := recover(); recovered != nil {
			logger.Error("session event handler panicked",
				"event", event.Kind.String(),
				"panic", recovered,
			)
		}
	}()
	handler(event)
}
