package supervisor

import (
	"errors"
	"fmt"
)

type TransportErrorKind int

const (
	ConnectFailed TransportErrorKind = iota + 1
	Dropped
)

func (k TransportErrorKind) String() string {
	switch k {
	case ConnectFailed:
		return "connect failed"
	case Dropped:
		return "connection dropped"
	default:
		return "unknown"
	}
}

type TransportError struct {
	Kind TransportErrorKind
	Err  error
}

var (
	ErrConnectFailed = &TransportError{Kind: ConnectFailed}
	ErrDropped       = &TransportError{Kind: Dropped}

	ErrExhausted = errors.New("reconnect attempts exhausted")
)

func (e *TransportError) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool {
	t, ok := target.(*TransportError)
	return ok && t.Kind == e.Kind
}
