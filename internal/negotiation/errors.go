package negotiation

import (
	"errors"
	"fmt"
)

type ErrorKind int

const (
	DescriptionRejected ErrorKind = iota + 1
	CandidateRejected
	Timeout
)

func (k ErrorKind) String() string {
	switch k {
	case DescriptionRejected:
		return "description rejected"
	case CandidateRejected:
		return "candidate rejected"
	case Timeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// NegotiationError matches the Err* values by Kind under errors.Is.
type NegotiationError struct {
	Kind ErrorKind
	Err  error
}

var (
	ErrDescriptionRejected = &NegotiationError{Kind: DescriptionRejected}
	ErrCandidateRejected   = &NegotiationError{Kind: CandidateRejected}
	ErrTimeout             = &NegotiationError{Kind: Timeout}

	ErrPeerFailed = errors.New("peer connection failed")
)

func (e *NegotiationError) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *NegotiationError) Unwrap() error { return e.Err }

func (e *NegotiationError) Is(target error) bool {
	t, ok := target.(*NegotiationError)
	return ok && t.Kind == e.Kind
}

func negErr(kind ErrorKind, err error) error {
	return &NegotiationError{Kind: kind, Err: err}
}
