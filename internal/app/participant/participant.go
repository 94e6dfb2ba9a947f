// Package participant is the client side of a mirroring session: one
// controller per process, acting either as the sharing host or as a viewer.
package participant

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/Mirror/internal/negotiation"
	"github.com/dkeye/Mirror/internal/protocol"
)

type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusSharing      Status = "sharing"
	StatusError        Status = "error"
)

// UIState is what a front end renders. Peers counts negotiated peer
// connections: viewers for a host, the host for a viewer.
type UIState struct {
	Status  Status
	Session string
	Peers   int
	Attempt int
	Err     error
}

type Observer func(UIState)

// Transport is a live relay connection.
type Transport interface {
	Send(protocol.Envelope) error
	Incoming() <-chan protocol.Envelope
	Done() <-chan struct{}
	Err() error
	Close() error
}

// PeerFactory builds a fresh PeerConnection for one remote peer. The
// returned connection is owned by a single engine and never reused.
type PeerFactory interface {
	NewPeer(ctx context.Context, peerID string) (negotiation.PeerConnection, error)
}

// Source is the screen being shared.
type Source interface {
	Start(ctx context.Context) error
	Stop() error
}

type CaptureErrorKind int

const (
	PermissionDenied CaptureErrorKind = iota + 1
	Unsupported
)

func (k CaptureErrorKind) String() string {
	switch k {
	case PermissionDenied:
		return "permission denied"
	case Unsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}

// CaptureError is fatal for the share attempt that produced it.
type CaptureError struct {
	Kind CaptureErrorKind
	Err  error
}

var (
	ErrPermissionDenied = &CaptureError{Kind: PermissionDenied}
	ErrUnsupported      = &CaptureError{Kind: Unsupported}

	ErrNotHost      = errors.New("only a host can share")
	ErrNotViewer    = errors.New("only a viewer can join")
	ErrRoomBusy     = errors.New("room already has a host")
	ErrRoomNotFound = errors.New("room not found")
	ErrRoomFull     = errors.New("room is full")
)

func (e *CaptureError) Error() string {
	if e.Err == nil {
		return "capture: " + e.Kind.String()
	}
	return fmt.Sprintf("capture: %s: %v", e.Kind, e.Err)
}

func (e *CaptureError) Unwrap() error { return e.Err }

func (e *CaptureError) Is(target error) bool {
	t, ok := target.(*CaptureError)
	return ok && t.Kind == e.Kind
}
