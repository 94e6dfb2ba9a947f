package negotiation

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Mirror/internal/domain"
)

const inboxSize = 64

type Options struct {
	// PeerID names the remote peer in logs.
	PeerID  string
	Timeout time.Duration
	OnState func(State)
}

// Engine owns one Session and one PeerConnection. All transitions happen on
// the goroutine running Run; Deliver and the capability callbacks only
// enqueue events.
type Engine struct {
	sess *Session
	pc   PeerConnection
	sig  Signaler
	opts Options

	events chan Event
	done   chan struct{}
	logger zerolog.Logger

	mu     sync.Mutex
	state  State
	local  Description
	remote Description
	err    error
}

func NewEngine(role domain.Role, pc PeerConnection, sig Signaler, opts Options) *Engine {
	e := &Engine{
		sess:   NewSession(role),
		pc:     pc,
		sig:    sig,
		opts:   opts,
		events: make(chan Event, inboxSize),
		done:   make(chan struct{}),
		logger: log.With().Str("module", "negotiation").Str("role", role.String()).Str("peer", opts.PeerID).Logger(),
	}
	pc.OnLocalCandidate(e.localCandidate)
	pc.OnStateChange(e.peerState)
	return e
}

// Deliver queues ev for the event loop. Events arriving after the engine
// has finished are dropped.
func (e *Engine) Deliver(ev Event) {
	select {
	case <-e.done:
		return
	default:
	}
	select {
	case e.events <- ev:
	case <-e.done:
	}
}

// Close requests local teardown. Safe to call more than once.
func (e *Engine) Close() { e.Deliver(Event{Kind: EvClose, Reason: "local"}) }

func (e *Engine) Done() <-chan struct{} { return e.done }

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

func (e *Engine) Descriptions() (local, remote Description) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.local, e.remote
}

// Run processes events until the session reaches Closed or Failed, or ctx
// is cancelled. It returns the failure cause, or nil on a clean close.
func (e *Engine) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer close(e.done)

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		var timeout <-chan time.Time
		if timer != nil {
			timeout = timer.C
		}

		select {
		case <-ctx.Done():
			e.dispatch(runCtx, Event{Kind: EvClose, Reason: "context done"})
		case ev := <-e.events:
			e.dispatch(runCtx, ev)
		case <-timeout:
			e.logger.Warn().Str("state", e.sess.State().String()).Msg("negotiation timed out")
			e.dispatch(runCtx, Event{Kind: EvFailure, Err: ErrTimeout})
		}

		st := e.sess.State()
		if st.Terminal() {
			return e.sess.Err()
		}
		switch {
		case st == Connected || st == Idle:
			if timer != nil {
				timer.Stop()
				timer = nil
			}
		case timer == nil && e.opts.Timeout > 0:
			timer = time.NewTimer(e.opts.Timeout)
		}
	}
}

func (e *Engine) dispatch(ctx context.Context, ev Event) {
	before := e.sess.State()
	effects, ok := e.sess.Step(ev)
	if !ok {
		e.logger.Debug().Str("state", before.String()).Str("event", ev.Kind.String()).Msg("event ignored")
		return
	}
	e.publish()

	for _, eff := range effects {
		if err := e.apply(ctx, eff); err != nil {
			e.logger.Error().Err(err).Str("effect", eff.Kind.String()).Msg("negotiation failed")
			e.dispatch(ctx, Event{Kind: EvFailure, Err: err})
			return
		}
	}
}

func (e *Engine) publish() {
	st := e.sess.State()
	e.mu.Lock()
	changed := st != e.state
	e.state = st
	e.local = e.sess.LocalDescription()
	e.remote = e.sess.RemoteDescription()
	e.err = e.sess.Err()
	e.mu.Unlock()

	if !changed {
		return
	}
	e.logger.Debug().Str("state", st.String()).Msg("state changed")
	if e.opts.OnState != nil {
		e.opts.OnState(st)
	}
}

// apply runs one effect. A returned error is fatal for the session.
func (e *Engine) apply(ctx context.Context, eff Effect) error {
	switch eff.Kind {
	case CreateOffer:
		go func() {
			d, err := e.pc.CreateOffer(ctx)
			if err != nil {
				e.Deliver(Event{Kind: EvFailure, Err: negErr(DescriptionRejected, err)})
				return
			}
			e.Deliver(Event{Kind: EvOfferCreated, Description: d})
		}()
	case CreateAnswer:
		go func() {
			d, err := e.pc.CreateAnswer(ctx)
			if err != nil {
				e.Deliver(Event{Kind: EvFailure, Err: negErr(DescriptionRejected, err)})
				return
			}
			e.Deliver(Event{Kind: EvAnswerCreated, Description: d})
		}()
	case SetLocal:
		if err := e.pc.SetLocalDescription(eff.Description); err != nil {
			return negErr(DescriptionRejected, err)
		}
	case SetRemote:
		if err := e.pc.SetRemoteDescription(eff.Description); err != nil {
			return negErr(DescriptionRejected, err)
		}
	case ApplyCandidate:
		if err := e.pc.AddICECandidate(eff.Candidate); err != nil {
			e.logger.Warn().Err(negErr(CandidateRejected, err)).Msg("candidate skipped")
		}
	case SendOffer:
		if err := e.sig.SendOffer(eff.Description); err != nil {
			e.logger.Warn().Err(err).Msg("send offer")
		}
	case SendAnswer:
		if err := e.sig.SendAnswer(eff.Description); err != nil {
			e.logger.Warn().Err(err).Msg("send answer")
		}
	case ClosePeer:
		if err := e.pc.Close(); err != nil {
			e.logger.Debug().Err(err).Msg("close peer")
		}
	}
	return nil
}

// localCandidate forwards gathered candidates as soon as they appear; they
// do not wait for the handshake.
func (e *Engine) localCandidate(c Candidate) {
	select {
	case <-e.done:
		return
	default:
	}
	if err := e.sig.SendCandidate(c); err != nil {
		e.logger.Warn().Err(err).Msg("send candidate")
	}
}

func (e *Engine) peerState(ps PeerState) {
	e.logger.Debug().Str("peer_state", ps.String()).Msg("peer connection state")
	switch ps {
	case PeerFailed:
		e.Deliver(Event{Kind: EvFailure, Err: ErrPeerFailed})
	case PeerClosed:
		e.Deliver(Event{Kind: EvClose, Reason: "peer closed"})
	}
}
