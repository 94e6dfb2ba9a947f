// Package protocol defines the JSON envelope exchanged between participants and the relay.
package protocol

import (
	"encoding/json"
	"errors"
)

// Event identifies the kind of signaling message.
type Event string

const (
	EventCreateRoom       Event = "create-room"
	EventRoomCreated      Event = "room-created"
	EventRoomBusy         Event = "room-busy"
	EventJoinRoom         Event = "join-room"
	EventJoinedRoom       Event = "joined-room"
	EventRoomNotFound     Event = "room-not-found"
	EventRoomFull         Event = "room-full"
	EventViewerJoined     Event = "viewer-joined"
	EventViewerLeft       Event = "viewer-left"
	EventOffer            Event = "offer"
	EventAnswer           Event = "answer"
	EventICECandidate     Event = "ice-candidate"
	EventHostDisconnected Event = "host-disconnected"
	EventPing             Event = "ping"
	EventPong             Event = "pong"
	EventError            Event = "error"
)

var ErrMissingType = errors.New("message has no type")

// Envelope is the single JSON object carried by every transport frame.
// Payload is opaque to the relay and forwarded verbatim.
type Envelope struct {
	Type      Event           `json:"type"`
	SessionID string          `json:"sessionId,omitempty"`
	PeerID    string          `json:"peerId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// Decode parses one frame. Frames without a type are rejected.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, err
	}
	if env.Type == "" {
		return Envelope{}, ErrMissingType
	}
	return env, nil
}

func Encode(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}

// IsNegotiation reports whether e carries an opaque negotiation blob.
func (e Event) IsNegotiation() bool {
	return e == EventOffer || e == EventAnswer || e == EventICECandidate
}
