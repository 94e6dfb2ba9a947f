// Package domain contains entity without logic, just meta-data
package domain

type (
	SessionID     string
	ParticipantID string
)

// DefaultSessionID is the fixed room every host creates unless told otherwise.
const DefaultSessionID SessionID = "1121"

// Session is one mirroring room. HostID is empty when no host is attached.
type Session struct {
	ID      SessionID
	HostID  ParticipantID
	Active  bool
	Viewers []ParticipantID
}

// SessionInfo is a read-only view for APIs.
type SessionInfo struct {
	ID      SessionID       `json:"id"`
	Active  bool            `json:"active"`
	HostID  ParticipantID   `json:"host_id,omitempty"`
	Viewers []ParticipantID `json:"viewers"`
}
