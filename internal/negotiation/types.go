// Package negotiation drives one peer connection through the offer/answer
// exchange. Session is the pure state machine; Engine runs its effects
// against a PeerConnection and a Signaler.
package negotiation

import "context"

// Description and Candidate are opaque blobs; only the PeerConnection
// implementation looks inside them.
type (
	Description []byte
	Candidate   []byte
)

type State int

const (
	Idle State = iota
	AwaitingLocalOffer
	AwaitingRemoteAnswer
	AwaitingRemoteOffer
	AwaitingLocalAnswer
	Connected
	Closed
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingLocalOffer:
		return "awaiting-local-offer"
	case AwaitingRemoteAnswer:
		return "awaiting-remote-answer"
	case AwaitingRemoteOffer:
		return "awaiting-remote-offer"
	case AwaitingLocalAnswer:
		return "awaiting-local-answer"
	case Connected:
		return "connected"
	case Closed:
		return "closed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal states are never left.
func (s State) Terminal() bool { return s == Closed || s == Failed }

type EventKind int

const (
	EvViewerJoined EventKind = iota + 1
	EvJoined
	EvOfferCreated
	EvAnswerCreated
	EvRemoteOffer
	EvRemoteAnswer
	EvRemoteCandidate
	EvFailure
	EvClose
)

func (k EventKind) String() string {
	switch k {
	case EvViewerJoined:
		return "viewer-joined"
	case EvJoined:
		return "joined"
	case EvOfferCreated:
		return "offer-created"
	case EvAnswerCreated:
		return "answer-created"
	case EvRemoteOffer:
		return "remote-offer"
	case EvRemoteAnswer:
		return "remote-answer"
	case EvRemoteCandidate:
		return "remote-candidate"
	case EvFailure:
		return "failure"
	case EvClose:
		return "close"
	default:
		return "unknown"
	}
}

type Event struct {
	Kind        EventKind
	Description Description
	Candidate   Candidate
	Err         error
	Reason      string
}

type EffectKind int

const (
	CreateOffer EffectKind = iota + 1
	CreateAnswer
	SetLocal
	SetRemote
	ApplyCandidate
	SendOffer
	SendAnswer
	ClosePeer
)

func (k EffectKind) String() string {
	switch k {
	case CreateOffer:
		return "create-offer"
	case CreateAnswer:
		return "create-answer"
	case SetLocal:
		return "set-local"
	case SetRemote:
		return "set-remote"
	case ApplyCandidate:
		return "apply-candidate"
	case SendOffer:
		return "send-offer"
	case SendAnswer:
		return "send-answer"
	case ClosePeer:
		return "close-peer"
	default:
		return "unknown"
	}
}

type Effect struct {
	Kind        EffectKind
	Description Description
	Candidate   Candidate
}

type PeerState int

const (
	PeerNew PeerState = iota
	PeerConnecting
	PeerConnected
	PeerDisconnected
	PeerFailed
	PeerClosed
)

func (s PeerState) String() string {
	switch s {
	case PeerNew:
		return "new"
	case PeerConnecting:
		return "connecting"
	case PeerConnected:
		return "connected"
	case PeerDisconnected:
		return "disconnected"
	case PeerFailed:
		return "failed"
	case PeerClosed:
		return "closed"
	default:
		return "unknown"
	}
}

//go:generate mockgen -destination=peer_mock_test.go -package=negotiation . PeerConnection

// PeerConnection is the real-time transport capability. One instance belongs
// to exactly one Engine and is closed with it.
type PeerConnection interface {
	CreateOffer(ctx context.Context) (Description, error)
	CreateAnswer(ctx context.Context) (Description, error)
	SetLocalDescription(Description) error
	SetRemoteDescription(Description) error
	AddICECandidate(Candidate) error
	OnLocalCandidate(func(Candidate))
	OnStateChange(func(PeerState))
	Close() error
}

// Signaler carries this engine's outbound messages to its one remote peer.
// Implementations must be safe for concurrent use.
type Signaler interface {
	SendOffer(Description) error
	SendAnswer(Description) error
	SendCandidate(Candidate) error
}
