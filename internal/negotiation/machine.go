package negotiation

import (
	"slices"

	"github.com/dkeye/Mirror/internal/domain"
)

// Session is one negotiation attempt. It is never reset: a new attempt gets
// a new Session so queued candidates cannot leak across attempts.
type Session struct {
	role    domain.Role
	state   State
	local   Description
	remote  Description
	pending []Candidate
	err     error
}

func NewSession(role domain.Role) *Session {
	return &Session{role: role, state: Idle}
}

func (s *Session) Role() domain.Role              { return s.role }
func (s *Session) State() State                   { return s.state }
func (s *Session) LocalDescription() Description  { return s.local }
func (s *Session) RemoteDescription() Description { return s.remote }
func (s *Session) Pending() []Candidate           { return slices.Clone(s.pending) }
func (s *Session) Err() error                     { return s.err }

type transitionKey struct {
	state State
	kind  EventKind
}

type handler func(s *Session, ev Event) (State, []Effect)

// transition restricts a handler to one role; domain.RoleNone means any.
type transition struct {
	role domain.Role
	fn   handler
}

var table = map[transitionKey]transition{
	{Idle, EvViewerJoined}:                 {domain.RoleHost, beginOffer},
	{AwaitingLocalOffer, EvOfferCreated}:   {domain.RoleHost, offerCreated},
	{AwaitingRemoteAnswer, EvRemoteAnswer}: {domain.RoleHost, answerReceived},

	{Idle, EvJoined}:                       {domain.RoleViewer, awaitOffer},
	{Idle, EvRemoteOffer}:                  {domain.RoleViewer, offerReceived},
	{AwaitingRemoteOffer, EvRemoteOffer}:   {domain.RoleViewer, offerReceived},
	{AwaitingLocalAnswer, EvAnswerCreated}: {domain.RoleViewer, answerCreated},

	{Closed, EvClose}:   {domain.RoleNone, stay},
	{Failed, EvClose}:   {domain.RoleNone, stay},
	{Closed, EvFailure}: {domain.RoleNone, stay},
	{Failed, EvFailure}: {domain.RoleNone, stay},
}

func init() {
	for _, st := range []State{Idle, AwaitingLocalOffer, AwaitingRemoteAnswer, AwaitingRemoteOffer, AwaitingLocalAnswer, Connected} {
		table[transitionKey{st, EvRemoteCandidate}] = transition{domain.RoleNone, candidateReceived}
		table[transitionKey{st, EvFailure}] = transition{domain.RoleNone, fail}
		table[transitionKey{st, EvClose}] = transition{domain.RoleNone, closeSession}
	}
}

// Step applies ev and returns the effects the caller must run in order.
// ok is false when no transition exists for (state, kind, role); the event is
// then ignored and the session is unchanged.
func (s *Session) Step(ev Event) (effects []Effect, ok bool) {
	t, found := table[transitionKey{s.state, ev.Kind}]
	if !found || (t.role != domain.RoleNone && t.role != s.role) {
		return nil, false
	}
	next, effects := t.fn(s, ev)
	s.state = next
	return effects, true
}

func beginOffer(s *Session, _ Event) (State, []Effect) {
	return AwaitingLocalOffer, []Effect{{Kind: CreateOffer}}
}

func offerCreated(s *Session, ev Event) (State, []Effect) {
	s.local = ev.Description
	return AwaitingRemoteAnswer, []Effect{
		{Kind: SetLocal, Description: ev.Description},
		{Kind: SendOffer, Description: ev.Description},
	}
}

func answerReceived(s *Session, ev Event) (State, []Effect) {
	s.remote = ev.Description
	effects := []Effect{{Kind: SetRemote, Description: ev.Description}}
	effects = append(effects, s.flush()...)
	return Connected, effects
}

func awaitOffer(s *Session, _ Event) (State, []Effect) {
	return AwaitingRemoteOffer, nil
}

func offerReceived(s *Session, ev Event) (State, []Effect) {
	s.remote = ev.Description
	effects := []Effect{{Kind: SetRemote, Description: ev.Description}}
	effects = append(effects, s.flush()...)
	effects = append(effects, Effect{Kind: CreateAnswer})
	return AwaitingLocalAnswer, effects
}

func answerCreated(s *Session, ev Event) (State, []Effect) {
	s.local = ev.Description
	return Connected, []Effect{
		{Kind: SetLocal, Description: ev.Description},
		{Kind: SendAnswer, Description: ev.Description},
	}
}

func candidateReceived(s *Session, ev Event) (State, []Effect) {
	if s.remote == nil {
		s.pending = append(s.pending, ev.Candidate)
		return s.state, nil
	}
	return s.state, []Effect{{Kind: ApplyCandidate, Candidate: ev.Candidate}}
}

func fail(s *Session, ev Event) (State, []Effect) {
	s.err = ev.Err
	if s.err == nil {
		s.err = ErrPeerFailed
	}
	s.pending = nil
	return Failed, []Effect{{Kind: ClosePeer}}
}

func closeSession(s *Session, _ Event) (State, []Effect) {
	s.pending = nil
	return Closed, []Effect{{Kind: ClosePeer}}
}

func stay(s *Session, _ Event) (State, []Effect) {
	return s.state, nil
}

// flush drains queued candidates in arrival order; they are emitted once.
func (s *Session) flush() []Effect {
	if len(s.pending) == 0 {
		return nil
	}
	effects := make([]Effect, 0, len(s.pending))
	for _, c := range s.pending {
		effects = append(effects, Effect{Kind: ApplyCandidate, Candidate: c})
	}
	s.pending = nil
	return effects
}
