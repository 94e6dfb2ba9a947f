package relay

import (
	"slices"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Mirror/internal/domain"
	"github.com/dkeye/Mirror/internal/protocol"
)

// forward routes offer/answer/ice-candidate by the sender's role. The
// recipient set is always taken from the registry, never "everyone else".
func (r *Relay) forward(pid domain.ParticipantID, env protocol.Envelope) {
	sid := r.sessionOfParticipant(pid)
	if sid == "" {
		log.Warn().Str("module", "relay").Str("sid", string(pid)).Str("type", string(env.Type)).Msg("signal from participant without session dropped")
		return
	}
	r.pass(sid, func(o *outbox) {
		p, ok := r.reg.Participant(pid)
		if !ok || p.SessionID != sid {
			return
		}
		s, ok := r.reg.Session(sid)
		if !ok {
			return
		}

		out := protocol.Envelope{
			Type:      env.Type,
			SessionID: string(s.ID),
			PeerID:    string(pid),
			Payload:   env.Payload,
		}

		switch p.Role {
		case domain.RoleHost:
			if env.Type == protocol.EventAnswer {
				log.Warn().Str("module", "relay").Str("sid", string(pid)).Msg("answer from host dropped")
				return
			}
			targets := s.Viewers
			if env.PeerID != "" {
				target := domain.ParticipantID(env.PeerID)
				if !slices.Contains(s.Viewers, target) {
					log.Warn().Str("module", "relay").Str("sid", string(pid)).Str("peer", env.PeerID).Msg("target is not a viewer of this session")
					return
				}
				targets = []domain.ParticipantID{target}
			}
			for _, v := range targets {
				o.send(v, out)
			}

		case domain.RoleViewer:
			if env.Type == protocol.EventOffer {
				log.Warn().Str("module", "relay").Str("sid", string(pid)).Msg("offer from viewer dropped")
				return
			}
			if !s.Active {
				log.Debug().Str("module", "relay").Str("sid", string(pid)).Msg("no host to forward to")
				return
			}
			o.send(s.HostID, out)
		}
	})
}
