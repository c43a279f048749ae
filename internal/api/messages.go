// Package api defines the WebSocket message envelopes exchanged with
// dashboard clients.
package api

import (
	"github.com/pvemon/gpumon-web/internal/snapshot"
)

// HelloMessage is the initial payload sent on WebSocket connection.
type HelloMessage struct {
	Type       string `json:"type"`
	IntervalMS int    `json:"interval_ms"`
	Version    string `json:"version"`
}

// NewHelloMessage constructs a hello payload.
func NewHelloMessage(intervalMS int, version string) HelloMessage {
	return HelloMessage{
		Type:       "hello",
		IntervalMS: intervalMS,
		Version:    version,
	}
}

// SnapshotMessage wraps a snapshot for transport. The snapshot travels
// under "data" so its own encoding stays intact next to the envelope
// type tag.
type SnapshotMessage struct {
	Type string            `json:"type"`
	Data snapshot.Snapshot `json:"data"`
}

// NewSnapshotMessage constructs a snapshot payload.
func NewSnapshotMessage(snap snapshot.Snapshot) SnapshotMessage {
	return SnapshotMessage{
		Type: "snapshot",
		Data: snap,
	}
}

// ErrorMessage communicates an error condition to the client.
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ClientMessage is a generic envelope used for decoding inbound client messages.
type ClientMessage struct {
	Type string `json:"type"`
}

// PongMessage is the response to a ping.
type PongMessage struct {
	Type string `json:"type"`
}
