package relay

import (
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Mirror/internal/core"
	"github.com/dkeye/Mirror/internal/domain"
	"github.com/dkeye/Mirror/internal/protocol"
)

func (r *Relay) createRoom(pid domain.ParticipantID, env protocol.Envelope) {
	sid := r.sessionOf(env)
	if !r.limiter.Allow(r.limiterKey(pid)) {
		r.reject(pid, sid, "rate_limited")
		return
	}

	r.pass(sid, func(o *outbox) {
		waiting, err := r.reg.AttachHost(sid, pid)
		switch {
		case errors.Is(err, core.ErrAlreadyHosted):
			log.Info().Str("module", "relay").Str("sid", string(pid)).Str("session", string(sid)).Msg("room busy")
			o.send(pid, protocol.Envelope{Type: protocol.EventRoomBusy, SessionID: string(sid)})
			return
		case errors.Is(err, core.ErrSessionLimit):
			log.Warn().Str("module", "relay").Str("sid", string(pid)).Str("session", string(sid)).Msg("session limit reached")
			o.send(pid, protocol.Envelope{Type: protocol.EventError, SessionID: string(sid), Error: "session_limit"})
			return
		case err != nil:
			log.Warn().Err(err).Str("module", "relay").Str("sid", string(pid)).Msg("create rejected")
			o.send(pid, protocol.Envelope{Type: protocol.EventError, SessionID: string(sid), Error: err.Error()})
			return
		}

		log.Info().Str("module", "relay").Str("sid", string(pid)).Str("session", string(sid)).Int("waiting", len(waiting)).Msg("room created")
		o.send(pid, protocol.Envelope{Type: protocol.EventRoomCreated, SessionID: string(sid)})
		for _, v := range waiting {
			o.send(pid, protocol.Envelope{Type: protocol.EventViewerJoined, SessionID: string(sid), PeerID: string(v)})
		}
	})
}

func (r *Relay) joinRoom(pid domain.ParticipantID, env protocol.Envelope) {
	sid := r.sessionOf(env)
	if !r.limiter.Allow(r.limiterKey(pid)) {
		r.reject(pid, sid, "rate_limited")
		return
	}

	r.pass(sid, func(o *outbox) {
		err := r.reg.AttachViewer(sid, pid)
		switch {
		case errors.Is(err, core.ErrSessionNotFound):
			log.Info().Str("module", "relay").Str("sid", string(pid)).Str("session", string(sid)).Msg("room not found")
			o.send(pid, protocol.Envelope{Type: protocol.EventRoomNotFound, SessionID: string(sid)})
			return
		case errors.Is(err, core.ErrSessionFull):
			log.Info().Str("module", "relay").Str("sid", string(pid)).Str("session", string(sid)).Msg("room full")
			o.send(pid, protocol.Envelope{Type: protocol.EventRoomFull, SessionID: string(sid)})
			return
		case err != nil:
			log.Warn().Err(err).Str("module", "relay").Str("sid", string(pid)).Msg("join rejected")
			o.send(pid, protocol.Envelope{Type: protocol.EventError, SessionID: string(sid), Error: err.Error()})
			return
		}

		s, _ := r.reg.Session(sid)
		log.Info().Str("module", "relay").Str("sid", string(pid)).Str("session", string(sid)).Msg("viewer joined")
		o.send(pid, protocol.Envelope{Type: protocol.EventJoinedRoom, SessionID: string(sid)})
		if s.HostID != "" {
			o.send(s.HostID, protocol.Envelope{Type: protocol.EventViewerJoined, SessionID: string(sid), PeerID: string(pid)})
		}
	})
}

func (r *Relay) reject(pid domain.ParticipantID, sid domain.SessionID, reason string) {
	log.Warn().Str("module", "relay").Str("sid", string(pid)).Str("reason", reason).Msg("request rejected")
	r.pass(sid, func(o *outbox) {
		o.send(pid, protocol.Envelope{Type: protocol.EventError, SessionID: string(sid), Error: reason})
	})
}
