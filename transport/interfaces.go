// Package transport provides the gateway's link to its host server.
//
// A HostLink carries newline-free text lines in both directions: relay records
// from the gateway up to the host, and downlink command lines from the host
// down to the gateway.
package transport

import (
	"context"
	"errors"
)

var ErrNotConnected = errors.New("not connected")

// HostLink is the base interface for all host link implementations.
type HostLink interface {
	// Start begins the link's connection and message handling.
	// The provided context controls the link's lifetime.
	Start(ctx context.Context) error
	// Stop gracefully shuts down the link.
	Stop() error
	// IsConnected returns true if the link is currently connected.
	IsConnected() bool
	// SetLineHandler sets the callback for incoming downlink lines.
	SetLineHandler(fn LineHandler)
	// SetStateHandler sets the callback for link state changes.
	SetStateHandler(fn StateHandler)
	// WriteLine sends one line to the host. The line must not contain a
	// newline; the link adds its own framing.
	WriteLine(line []byte) error
}

// LineHandler is called when a line is received from the host. The slice is
// only valid for the duration of the call.
type LineHandler func(line []byte, source Source)

// StateHandler is called when the link state changes.
type StateHandler func(link HostLink, event Event)

// Event represents link state change events.
type Event int

const (
	// EventConnected is fired when the link connects.
	EventConnected Event = iota
	// EventDisconnected is fired when the link disconnects.
	EventDisconnected
	// EventReconnecting is fired when the link is attempting to reconnect.
	EventReconnecting
	// EventError is fired when an error occurs.
	EventError
)

func (e Event) String() string {
	switch e {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventReconnecting:
		return "reconnecting"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Source indicates which link a line arrived on.
type Source int

const (
	SourceSerial Source = iota
	SourceMQTT
	SourceWebSocket
	SourceStream
)

func (s Source) String() string {
	switch s {
	case SourceSerial:
		return "serial"
	case SourceMQTT:
		return "mqtt"
	case SourceWebSocket:
		return "websocket"
	case SourceStream:
		return "stream"
	default:
		return "unknown"
	}
}
