// Package relay routes signaling messages between the host and viewers of a
// session. Negotiation payloads are forwarded verbatim and never decoded.
package relay

import (
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Mirror/internal/core"
	"github.com/dkeye/Mirror/internal/domain"
	"github.com/dkeye/Mirror/internal/protocol"
)

type Options struct {
	DefaultSession domain.SessionID
	MaxViewers     int
	MaxSessions    int
	JoinLimit      int
	JoinInterval   time.Duration
	Policy         Policy
}

// sessionStripes is the number of session locks; sessions hash onto them.
const sessionStripes = 256

// Relay owns the registry and every participant's outbound connection.
//
// Work for one session is serialized by that session's lock: the registry
// decision and the enqueue to every recipient happen under it, so each
// recipient sees messages in decision order. Different sessions only share
// mu, which covers table lookups and O(1) registry calls and is never held
// while encoding or sending.
type Relay struct {
	sessions [sessionStripes]sync.Mutex

	mu      sync.Mutex
	reg     *core.Registry
	clients map[domain.ParticipantID]client

	defaultSession domain.SessionID
	policy         Policy
	limiter        *RoomRateLimiter
}

type client struct {
	conn core.SignalConnection
	// key groups connections for rate limiting, usually the remote IP.
	key string
}

func New(opts Options) *Relay {
	if opts.DefaultSession == "" {
		opts.DefaultSession = domain.DefaultSessionID
	}
	if opts.Policy == nil {
		opts.Policy = SimplePolicy{}
	}
	return &Relay{
		reg:            core.NewRegistry(opts.MaxViewers, opts.MaxSessions),
		clients:        make(map[domain.ParticipantID]client),
		defaultSession: opts.DefaultSession,
		policy:         opts.Policy,
		limiter:        NewRoomRateLimiter(opts.JoinLimit, opts.JoinInterval),
	}
}

// dropped records a recipient whose queue was full during one routing pass.
type dropped struct {
	sid  domain.SessionID
	pid  domain.ParticipantID
	conn core.SignalConnection
}

type delivery struct {
	to   domain.ParticipantID
	conn core.SignalConnection
	env  protocol.Envelope
}

// outbox accumulates sends for one routing pass.
type outbox struct {
	r       *Relay
	sid     domain.SessionID
	queue   []delivery
	dropped []dropped
}

// send resolves the recipient; the frame goes out in flush.
func (o *outbox) send(to domain.ParticipantID, env protocol.Envelope) {
	c, ok := o.r.clients[to]
	if !ok {
		log.Warn().Str("module", "relay").Str("to", string(to)).Str("type", string(env.Type)).Msg("recipient not connected")
		return
	}
	o.queue = append(o.queue, delivery{to: to, conn: c.conn, env: env})
}

func (o *outbox) flush() {
	for _, d := range o.queue {
		frame, err := protocol.Encode(d.env)
		if err != nil {
			log.Error().Err(err).Str("module", "relay").Msg("encode envelope")
			continue
		}
		if err := d.conn.TrySend(frame); err != nil {
			log.Warn().Err(err).Str("module", "relay").Str("to", string(d.to)).Str("type", string(d.env.Type)).Msg("send failed")
			if errors.Is(err, core.ErrBackpressure) {
				o.dropped = append(o.dropped, dropped{sid: o.sid, pid: d.to, conn: d.conn})
			}
		}
	}
}

// pass runs fn for session sid: fn reads and mutates the registry under mu,
// its sends are flushed under the session lock, and the backpressure policy
// runs with no lock held. An empty sid takes no session lock.
func (r *Relay) pass(sid domain.SessionID, fn func(o *outbox)) {
	o := &outbox{r: r, sid: sid}
	unlock := r.lockSession(sid)
	r.mu.Lock()
	fn(o)
	r.mu.Unlock()
	o.flush()
	unlock()

	for _, d := range o.dropped {
		switch r.policy.OnBackPressure(d.sid, d.pid) {
		case KickMember:
			log.Warn().Str("module", "relay").Str("sid", string(d.pid)).Msg("kicking slow participant")
			d.conn.Close()
		case MarkSlow:
			log.Warn().Str("module", "relay").Str("sid", string(d.pid)).Msg("participant is slow")
		case DropFrame, NoAction:
		}
	}
}

func (r *Relay) lockSession(sid domain.SessionID) func() {
	if sid == "" {
		return func() {}
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(sid))
	l := &r.sessions[h.Sum32()%sessionStripes]
	l.Lock()
	return l.Unlock
}

// sessionOfParticipant reads pid's session outside any session lock. Only
// pid's own requests move it between sessions, and those arrive in order.
func (r *Relay) sessionOfParticipant(pid domain.ParticipantID) domain.SessionID {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, _ := r.reg.Participant(pid)
	return p.SessionID
}

func (r *Relay) limiterKey(pid domain.ParticipantID) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.clients[pid]; ok && c.key != "" {
		return c.key
	}
	return string(pid)
}

// Connect registers a freshly upgraded transport. remote keys the create/join
// rate limit; connections from one address share it. An empty remote falls
// back to the participant id.
func (r *Relay) Connect(pid domain.ParticipantID, remote string, conn core.SignalConnection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[pid] = client{conn: conn, key: remote}
	r.reg.AddParticipant(pid)
	log.Info().Str("module", "relay").Str("sid", string(pid)).Str("remote", remote).Msg("participant connected")
}

// Disconnect forgets pid and notifies whoever shared its session.
func (r *Relay) Disconnect(pid domain.ParticipantID) {
	key := string(pid)
	r.pass(r.sessionOfParticipant(pid), func(o *outbox) {
		c, ok := r.clients[pid]
		if !ok {
			return
		}
		if c.key != "" {
			key = c.key
		}
		delete(r.clients, pid)
		eff := r.reg.Detach(pid)

		switch {
		case eff.HostLeft:
			log.Info().Str("module", "relay").Str("sid", string(pid)).Str("session", string(eff.SessionID)).Int("viewers", len(eff.Notify)).Msg("host left")
			for _, v := range eff.Notify {
				o.send(v, protocol.Envelope{Type: protocol.EventHostDisconnected, SessionID: string(eff.SessionID)})
			}
		case eff.ViewerLeft:
			log.Info().Str("module", "relay").Str("sid", string(pid)).Str("session", string(eff.SessionID)).Msg("viewer left")
			if eff.Host != "" {
				o.send(eff.Host, protocol.Envelope{Type: protocol.EventViewerLeft, SessionID: string(eff.SessionID), PeerID: string(pid)})
			}
		default:
			log.Info().Str("module", "relay").Str("sid", string(pid)).Msg("participant disconnected")
		}
	})
	r.limiter.Expire(key)
}

// HandleFrame decodes one inbound frame. Malformed frames are dropped.
func (r *Relay) HandleFrame(pid domain.ParticipantID, data []byte) {
	env, err := protocol.Decode(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "relay").Str("sid", string(pid)).Msg("bad frame dropped")
		return
	}
	r.Handle(pid, env)
}

func (r *Relay) Handle(pid domain.ParticipantID, env protocol.Envelope) {
	switch env.Type {
	case protocol.EventPing:
		r.pass("", func(o *outbox) { o.send(pid, protocol.Envelope{Type: protocol.EventPong}) })
	case protocol.EventCreateRoom:
		r.createRoom(pid, env)
	case protocol.EventJoinRoom:
		r.joinRoom(pid, env)
	case protocol.EventOffer, protocol.EventAnswer, protocol.EventICECandidate:
		r.forward(pid, env)
	default:
		log.Warn().Str("module", "relay").Str("sid", string(pid)).Str("type", string(env.Type)).Msg("unknown signal")
	}
}

func (r *Relay) sessionOf(env protocol.Envelope) domain.SessionID {
	if env.SessionID == "" {
		return r.defaultSession
	}
	return domain.SessionID(env.SessionID)
}

// Sessions lists every session for the REST API.
func (r *Relay) Sessions() []domain.SessionInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reg.Snapshot()
}

func (r *Relay) Session(id domain.SessionID) (domain.SessionInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.reg.Session(id)
	if !ok {
		return domain.SessionInfo{}, false
	}
	return domain.SessionInfo{ID: s.ID, Active: s.Active, HostID: s.HostID, Viewers: s.Viewers}, true
}
