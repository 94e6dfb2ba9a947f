package domain

import "github.com/google/uuid"

type Role int

const (
	RoleNone Role = iota
	RoleHost
	RoleViewer
)

func (r Role) String() string {
	switch r {
	case RoleHost:
		return "host"
	case RoleViewer:
		return "viewer"
	default:
		return "none"
	}
}

// Participant is one connected transport endpoint.
// Role and SessionID stay zero until create/join succeeds.
type Participant struct {
	ID        ParticipantID
	Role      Role
	SessionID SessionID
}

// NewParticipantID avoids ad-hoc id generation in adapters.
func NewParticipantID() ParticipantID {
	return ParticipantID(uuid.NewString())
}
