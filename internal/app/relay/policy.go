package relay

import "github.com/dkeye/Mirror/internal/domain"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	MarkSlow
	KickMember
	DropFrame
)

// Policy decides what happens to a recipient whose send queue is full.
type Policy interface {
	OnBackPressure(sid domain.SessionID, pid domain.ParticipantID) BackpressureAction
}

type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(domain.SessionID, domain.ParticipantID) BackpressureAction {
	return KickMember
}
