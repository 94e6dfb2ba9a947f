package core

import (
	"slices"
	"sort"

	"github.com/dkeye/Mirror/internal/domain"
)

// DetachEffect tells the relay who must hear about a departure.
// Exactly one of HostLeft and ViewerLeft is set when SessionID is non-empty.
type DetachEffect struct {
	SessionID domain.SessionID
	Role      domain.Role

	// HostLeft: Notify lists the viewers that stay attached and must
	// receive host-disconnected.
	HostLeft bool
	Notify   []domain.ParticipantID

	// ViewerLeft: Host is the participant to tell, empty if none.
	ViewerLeft bool
	Host       domain.ParticipantID
}

// Registry is the process-wide session table.
// It has no locking of its own: the owner serializes every call.
type Registry struct {
	maxViewers   int
	maxSessions  int
	sessions     map[domain.SessionID]*domain.Session
	participants map[domain.ParticipantID]*domain.Participant
}

// NewRegistry returns an empty table. A limit <= 0 means unbounded.
// maxSessions bounds the sessions AttachHost may create; CreateSession
// ignores it.
func NewRegistry(maxViewers, maxSessions int) *Registry {
	return &Registry{
		maxViewers:   maxViewers,
		maxSessions:  maxSessions,
		sessions:     make(map[domain.SessionID]*domain.Session),
		participants: make(map[domain.ParticipantID]*domain.Participant),
	}
}

func (r *Registry) AddParticipant(pid domain.ParticipantID) domain.Participant {
	p, ok := r.participants[pid]
	if !ok {
		p = &domain.Participant{ID: pid}
		r.participants[pid] = p
	}
	return *p
}

func (r *Registry) Participant(pid domain.ParticipantID) (domain.Participant, bool) {
	p, ok := r.participants[pid]
	if !ok {
		return domain.Participant{}, false
	}
	return *p, true
}

// CreateSession returns the session with id, creating an inactive one if needed.
func (r *Registry) CreateSession(id domain.SessionID) domain.Session {
	return copySession(r.getOrCreate(id))
}

func (r *Registry) Session(id domain.SessionID) (domain.Session, bool) {
	s, ok := r.sessions[id]
	if !ok {
		return domain.Session{}, false
	}
	return copySession(s), true
}

// Viewers returns the viewers of id in join order.
func (r *Registry) Viewers(id domain.SessionID) []domain.ParticipantID {
	s, ok := r.sessions[id]
	if !ok {
		return nil
	}
	return slices.Clone(s.Viewers)
}

// AttachHost makes pid the host of sid. It returns the viewers already
// attached so the new host can start negotiating with them.
func (r *Registry) AttachHost(sid domain.SessionID, pid domain.ParticipantID) ([]domain.ParticipantID, error) {
	p := r.participant(pid)
	if p.SessionID != "" {
		if p.SessionID == sid && p.Role == domain.RoleHost {
			return slices.Clone(r.sessions[sid].Viewers), nil
		}
		return nil, roomErr(AlreadyJoined, p.SessionID)
	}

	s, ok := r.sessions[sid]
	if !ok {
		if r.maxSessions > 0 && len(r.sessions) >= r.maxSessions {
			return nil, roomErr(SessionLimit, sid)
		}
		s = r.getOrCreate(sid)
	}
	if s.Active && s.HostID != pid {
		return nil, roomErr(AlreadyHosted, sid)
	}
	s.HostID = pid
	s.Active = true
	p.Role = domain.RoleHost
	p.SessionID = sid
	return slices.Clone(s.Viewers), nil
}

// AttachViewer adds pid to sid. A viewer never joins a session without a
// host, not even one it already belongs to.
func (r *Registry) AttachViewer(sid domain.SessionID, pid domain.ParticipantID) error {
	p := r.participant(pid)
	s, ok := r.sessions[sid]
	if !ok || !s.Active {
		return roomErr(SessionNotFound, sid)
	}
	if p.SessionID != "" {
		if p.SessionID == sid && p.Role == domain.RoleViewer {
			return nil
		}
		return roomErr(AlreadyJoined, p.SessionID)
	}
	if r.maxViewers > 0 && len(s.Viewers) >= r.maxViewers {
		return roomErr(SessionFull, sid)
	}
	s.Viewers = append(s.Viewers, pid)
	p.Role = domain.RoleViewer
	p.SessionID = sid
	return nil
}

// Detach forgets pid and reports who has to be told.
func (r *Registry) Detach(pid domain.ParticipantID) DetachEffect {
	p, ok := r.participants[pid]
	if !ok {
		return DetachEffect{}
	}
	delete(r.participants, pid)

	s, ok := r.sessions[p.SessionID]
	if !ok {
		return DetachEffect{}
	}
	eff := DetachEffect{SessionID: s.ID, Role: p.Role}

	switch p.Role {
	case domain.RoleHost:
		if s.HostID != pid {
			return DetachEffect{}
		}
		s.HostID = ""
		s.Active = false
		eff.HostLeft = true
		eff.Notify = slices.Clone(s.Viewers)
	case domain.RoleViewer:
		s.Viewers = slices.DeleteFunc(s.Viewers, func(v domain.ParticipantID) bool { return v == pid })
		eff.ViewerLeft = true
		eff.Host = s.HostID
	}
	return eff
}

// Snapshot lists every session ordered by id.
func (r *Registry) Snapshot() []domain.SessionInfo {
	out := make([]domain.SessionInfo, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, domain.SessionInfo{
			ID:      s.ID,
			Active:  s.Active,
			HostID:  s.HostID,
			Viewers: slices.Clone(s.Viewers),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) getOrCreate(id domain.SessionID) *domain.Session {
	s, ok := r.sessions[id]
	if !ok {
		s = &domain.Session{ID: id}
		r.sessions[id] = s
	}
	return s
}

func (r *Registry) participant(pid domain.ParticipantID) *domain.Participant {
	p, ok := r.participants[pid]
	if !ok {
		p = &domain.Participant{ID: pid}
		r.participants[pid] = p
	}
	return p
}

func copySession(s *domain.Session) domain.Session {
	out := *s
	out.Viewers = slices.Clone(s.Viewers)
	return out
}
