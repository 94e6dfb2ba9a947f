package core

import (
	"fmt"

	"github.com/dkeye/Mirror/internal/domain"
)

type RoomErrorKind int

const (
	AlreadyHosted RoomErrorKind = iota + 1
	SessionNotFound
	SessionFull
	AlreadyJoined
	SessionLimit
)

func (k RoomErrorKind) String() string {
	switch k {
	case AlreadyHosted:
		return "already hosted"
	case SessionNotFound:
		return "session not found"
	case SessionFull:
		return "session full"
	case AlreadyJoined:
		return "already joined"
	case SessionLimit:
		return "too many sessions"
	default:
		return "unknown"
	}
}

// RoomError is returned by registry mutations. Compare with errors.Is against
// the Err* values, which match on Kind only.
type RoomError struct {
	Kind      RoomErrorKind
	SessionID domain.SessionID
}

var (
	ErrAlreadyHosted   = &RoomError{Kind: AlreadyHosted}
	ErrSessionNotFound = &RoomError{Kind: SessionNotFound}
	ErrSessionFull     = &RoomError{Kind: SessionFull}
	ErrAlreadyJoined   = &RoomError{Kind: AlreadyJoined}
	ErrSessionLimit    = &RoomError{Kind: SessionLimit}
)

func (e *RoomError) Error() string {
	if e.SessionID == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("session %s: %s", e.SessionID, e.Kind)
}

func (e *RoomError) Is(target error) bool {
	t, ok := target.(*RoomError)
	return ok && t.Kind == e.Kind
}

func roomErr(kind RoomErrorKind, sid domain.SessionID) error {
	return &RoomError{Kind: kind, SessionID: sid}
}
