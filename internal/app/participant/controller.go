package participant

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Mirror/internal/domain"
	"github.com/dkeye/Mirror/internal/negotiation"
	"github.com/dkeye/Mirror/internal/protocol"
	"github.com/dkeye/Mirror/internal/supervisor"
)

// hostKey names a viewer's single engine; its remote peer is always the host.
const hostKey = "host"

type Options struct {
	Role               domain.Role
	Session            string
	Peers              PeerFactory
	Source             Source
	NegotiationTimeout time.Duration
	// Observer may be called from several goroutines.
	Observer Observer
}

// Controller reacts to relay messages and user commands. Each relay
// connection gets its own set of engines; Attach discards the previous set.
type Controller struct {
	opts Options
	log  zerolog.Logger

	mu        sync.Mutex
	conn      Transport
	engines   map[string]*negotiation.Engine
	connected map[string]bool
	hosting   bool
	sharing   bool
	joining   bool
	state     UIState
}

func New(opts Options) *Controller {
	if opts.Session == "" {
		opts.Session = string(domain.DefaultSessionID)
	}
	return &Controller{
		opts:      opts,
		log:       log.With().Str("module", "participant").Str("role", opts.Role.String()).Logger(),
		engines:   make(map[string]*negotiation.Engine),
		connected: make(map[string]bool),
		state:     UIState{Status: StatusDisconnected, Session: opts.Session},
	}
}

func (c *Controller) State() UIState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attach adopts a fresh relay connection and replays the current intent
// (create or join) on it.
func (c *Controller) Attach(ctx context.Context, conn Transport) {
	c.mu.Lock()
	stale := c.detachEngines()
	c.conn = conn
	hosting := c.opts.Role == domain.RoleHost && c.hosting
	joining := c.opts.Role == domain.RoleViewer && c.joining
	c.mu.Unlock()

	closeAll(stale)
	go c.readLoop(ctx, conn)

	var err error
	switch {
	case hosting:
		err = c.send(protocol.EventCreateRoom)
	case joining:
		err = c.send(protocol.EventJoinRoom)
	}
	if err != nil {
		c.log.Warn().Err(err).Msg("announce on new connection")
	}
}

// Observe maps supervisor transitions onto the UI state.
func (c *Controller) Observe(o supervisor.Observation) {
	c.update(func(s *UIState) {
		s.Attempt = o.Attempt
		switch o.Status {
		case supervisor.Connecting:
			s.Status = StatusConnecting
		case supervisor.Connected:
			s.Status = StatusConnected
			s.Err = nil
		case supervisor.Disconnected:
			s.Status = StatusDisconnected
			s.Err = o.Reason
		case supervisor.Exhausted:
			s.Status = StatusError
			s.Err = fmt.Errorf("%w: %w", supervisor.ErrExhausted, o.Reason)
		}
	})
}

// CreateRoom claims the host slot without starting media. The claim is
// repeated on every reconnect until Close.
func (c *Controller) CreateRoom() error {
	if c.opts.Role != domain.RoleHost {
		return ErrNotHost
	}
	c.mu.Lock()
	c.hosting = true
	c.mu.Unlock()
	return c.send(protocol.EventCreateRoom)
}

// StartShare starts the source and (re)claims the room. The relay answers a
// repeated create from the same host with viewer-joined for every waiting
// viewer, so each of them is offered the new media.
func (c *Controller) StartShare(ctx context.Context) error {
	if c.opts.Role != domain.RoleHost {
		return ErrNotHost
	}
	if c.opts.Source != nil {
		if err := c.opts.Source.Start(ctx); err != nil {
			c.log.Error().Err(err).Msg("capture failed")
			c.update(func(s *UIState) {
				s.Status = StatusError
				s.Err = err
			})
			return err
		}
	}

	c.mu.Lock()
	c.hosting = true
	c.sharing = true
	online := c.conn != nil
	c.mu.Unlock()

	if !online {
		return nil
	}
	return c.send(protocol.EventCreateRoom)
}

// StopShare tears down every viewer connection and stops the source. The
// host keeps its room.
func (c *Controller) StopShare() error {
	if c.opts.Role != domain.RoleHost {
		return ErrNotHost
	}
	c.mu.Lock()
	c.sharing = false
	stale := c.detachEngines()
	c.mu.Unlock()
	closeAll(stale)

	c.update(func(s *UIState) {
		s.Peers = 0
		if s.Status == StatusSharing {
			s.Status = StatusConnected
		}
	})
	if c.opts.Source != nil {
		return c.opts.Source.Stop()
	}
	return nil
}

func (c *Controller) JoinRoom() error {
	if c.opts.Role != domain.RoleViewer {
		return ErrNotViewer
	}
	c.mu.Lock()
	c.joining = true
	online := c.conn != nil
	c.mu.Unlock()

	if !online {
		return nil
	}
	return c.send(protocol.EventJoinRoom)
}

// Close drops every engine and stops sharing.
func (c *Controller) Close() {
	c.mu.Lock()
	sharing := c.sharing
	c.hosting = false
	c.sharing = false
	c.joining = false
	stale := c.detachEngines()
	c.mu.Unlock()

	closeAll(stale)
	if sharing && c.opts.Source != nil {
		if err := c.opts.Source.Stop(); err != nil {
			c.log.Warn().Err(err).Msg("stop source")
		}
	}
}

func (c *Controller) send(t protocol.Event) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Send(protocol.Envelope{Type: t, SessionID: c.opts.Session})
}

func (c *Controller) readLoop(ctx context.Context, conn Transport) {
	for env := range conn.Incoming() {
		if !c.current(conn) {
			return
		}
		c.handle(ctx, conn, env)
	}

	c.mu.Lock()
	var stale []*negotiation.Engine
	if c.conn == conn {
		stale = c.detachEngines()
		c.conn = nil
	}
	c.mu.Unlock()
	closeAll(stale)
}

func (c *Controller) handle(ctx context.Context, conn Transport, env protocol.Envelope) {
	logger := c.log.With().Str("type", string(env.Type)).Str("peer", env.PeerID).Logger()
	host := c.opts.Role == domain.RoleHost

	switch env.Type {
	case protocol.EventRoomCreated:
		status := StatusConnected
		if c.isSharing() {
			status = StatusSharing
		}
		c.update(func(s *UIState) {
			s.Status = status
			s.Err = nil
		})

	case protocol.EventJoinedRoom:
		if host {
			return
		}
		// The engine starts with the host's first offer or candidate; a
		// viewer may wait any length of time for a host to share.
		c.update(func(s *UIState) {
			s.Status = StatusConnected
			s.Err = nil
		})

	case protocol.EventRoomBusy:
		c.reject(ErrRoomBusy)
	case protocol.EventRoomNotFound:
		c.reject(ErrRoomNotFound)
	case protocol.EventRoomFull:
		c.reject(ErrRoomFull)

	case protocol.EventViewerJoined:
		if !host || env.PeerID == "" {
			return
		}
		if !c.isSharing() {
			logger.Debug().Msg("viewer waiting for share")
			return
		}
		c.startEngine(ctx, conn, env.PeerID, env.PeerID, &negotiation.Event{Kind: negotiation.EvViewerJoined})

	case protocol.EventViewerLeft:
		if host {
			c.stopEngine(env.PeerID)
		}

	case protocol.EventOffer:
		if host {
			return
		}
		// An offer always opens a new attempt unless the current engine was
		// started by early candidates and is still waiting for it.
		e := c.engine(hostKey)
		if e == nil || e.State() != negotiation.Idle {
			e = c.startEngine(ctx, conn, hostKey, "", nil)
		}
		if e != nil {
			e.Deliver(negotiation.Event{Kind: negotiation.EvRemoteOffer, Description: negotiation.Description(env.Payload)})
		}

	case protocol.EventAnswer:
		if !host {
			return
		}
		if e := c.engine(env.PeerID); e != nil {
			e.Deliver(negotiation.Event{Kind: negotiation.EvRemoteAnswer, Description: negotiation.Description(env.Payload)})
		} else {
			logger.Debug().Msg("answer for unknown viewer")
		}

	case protocol.EventICECandidate:
		ev := negotiation.Event{Kind: negotiation.EvRemoteCandidate, Candidate: negotiation.Candidate(env.Payload)}
		if host {
			if e := c.engine(env.PeerID); e != nil {
				e.Deliver(ev)
			}
			return
		}
		e := c.engine(hostKey)
		if e == nil || e.State().Terminal() {
			e = c.startEngine(ctx, conn, hostKey, "", nil)
		}
		if e != nil {
			e.Deliver(ev)
		}

	case protocol.EventHostDisconnected:
		if host {
			return
		}
		logger.Info().Msg("host left")
		c.stopEngine(hostKey)

	case protocol.EventError:
		logger.Warn().Str("reason", env.Error).Msg("relay error")
		c.update(func(s *UIState) { s.Err = fmt.Errorf("relay: %s", env.Error) })

	case protocol.EventPong:

	default:
		logger.Debug().Msg("unhandled message")
	}
}

// startEngine replaces the engine for key with a fresh one bound to conn.
func (c *Controller) startEngine(ctx context.Context, conn Transport, key, target string, first *negotiation.Event) *negotiation.Engine {
	pc, err := c.opts.Peers.NewPeer(ctx, key)
	if err != nil {
		c.log.Error().Err(err).Str("peer", key).Msg("create peer connection")
		return nil
	}

	var e *negotiation.Engine
	e = negotiation.NewEngine(c.opts.Role, pc, peerSignaler{conn: conn, session: c.opts.Session, target: target}, negotiation.Options{
		PeerID:  key,
		Timeout: c.opts.NegotiationTimeout,
		OnState: func(st negotiation.State) { c.engineState(key, e, st) },
	})

	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		_ = pc.Close()
		return nil
	}
	old := c.engines[key]
	c.engines[key] = e
	delete(c.connected, key)
	c.mu.Unlock()

	if old != nil {
		old.Close()
	}
	go func() {
		err := e.Run(ctx)
		c.engineDone(conn, key, e, err)
	}()
	if first != nil {
		e.Deliver(*first)
	}
	return e
}

func (c *Controller) stopEngine(key string) {
	c.mu.Lock()
	e := c.engines[key]
	delete(c.engines, key)
	delete(c.connected, key)
	peers := len(c.connected)
	c.mu.Unlock()

	if e != nil {
		e.Close()
	}
	c.update(func(s *UIState) { s.Peers = peers })
}

func (c *Controller) engine(key string) *negotiation.Engine {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engines[key]
}

func (c *Controller) engineState(key string, e *negotiation.Engine, st negotiation.State) {
	c.mu.Lock()
	if c.engines[key] != e {
		c.mu.Unlock()
		return
	}
	if st == negotiation.Connected {
		c.connected[key] = true
	} else {
		delete(c.connected, key)
	}
	peers := len(c.connected)
	c.mu.Unlock()

	c.log.Debug().Str("peer", key).Str("state", st.String()).Msg("negotiation state")
	c.update(func(s *UIState) { s.Peers = peers })
}

// engineDone retires e. A failed viewer engine drops the relay connection
// so the supervisor reconnects and the viewer joins again from scratch.
func (c *Controller) engineDone(conn Transport, key string, e *negotiation.Engine, err error) {
	c.mu.Lock()
	if c.engines[key] == e {
		delete(c.engines, key)
		delete(c.connected, key)
	}
	peers := len(c.connected)
	current := c.conn == conn
	c.mu.Unlock()

	c.update(func(s *UIState) { s.Peers = peers })
	if err == nil {
		return
	}
	c.log.Warn().Err(err).Str("peer", key).Msg("negotiation failed")
	if c.opts.Role == domain.RoleViewer && current {
		_ = conn.Close()
	}
}

func (c *Controller) reject(err error) {
	c.log.Warn().Err(err).Msg("room request rejected")
	c.update(func(s *UIState) {
		s.Status = StatusError
		s.Err = err
	})
}

func (c *Controller) current(conn Transport) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn == conn
}

func (c *Controller) isSharing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sharing
}

// detachEngines empties the engine table; callers close the result after
// releasing mu.
func (c *Controller) detachEngines() []*negotiation.Engine {
	out := make([]*negotiation.Engine, 0, len(c.engines))
	for _, e := range c.engines {
		out = append(out, e)
	}
	c.engines = make(map[string]*negotiation.Engine)
	c.connected = make(map[string]bool)
	c.state.Peers = 0
	return out
}

func (c *Controller) update(fn func(*UIState)) {
	c.mu.Lock()
	fn(&c.state)
	st := c.state
	c.mu.Unlock()
	if c.opts.Observer != nil {
		c.opts.Observer(st)
	}
}

func closeAll(engines []*negotiation.Engine) {
	for _, e := range engines {
		e.Close()
	}
}
