// Package supervisor keeps a participant's relay connection alive and
// reports every transition. It never negotiates; callers restart their
// negotiation engines from OnConnected.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Conn is a live transport. Done is closed once the transport is gone and
// Err reports why.
type Conn interface {
	Done() <-chan struct{}
	Err() error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

type DialFunc func(ctx context.Context) (Conn, error)

func (f DialFunc) Dial(ctx context.Context) (Conn, error) { return f(ctx) }

type Status int

const (
	Connecting Status = iota
	Connected
	Disconnected
	Exhausted
)

func (s Status) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	case Exhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Observation is published on every status change. Reason is set for
// Disconnected and Exhausted.
type Observation struct {
	Status      Status
	Reason      error
	Attempt     int
	NextRetryAt time.Time
}

type ReconnectState struct {
	Attempt     int
	LastError   error
	NextRetryAt time.Time
}

type Options struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// MaxAttempts is the number of retries after consecutive failures;
	// zero retries forever.
	MaxAttempts int
	Jitter      float64
	Random      RandomSource

	OnState func(Observation)
	// OnConnected is called from Run for each new connection and must not
	// block; engines bound to a previous connection are stale by then.
	OnConnected func(ctx context.Context, c Conn)
}

type Supervisor struct {
	dialer  Dialer
	opts    Options
	backoff *Backoff

	mu       sync.Mutex
	state    ReconnectState
	cancel   context.CancelFunc
	timer    *time.Timer
	shutdown bool
}

func New(d Dialer, opts Options) *Supervisor {
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = time.Second
	}
	return &Supervisor{
		dialer:  d,
		opts:    opts,
		backoff: NewBackoff(opts.BaseDelay, opts.MaxDelay, opts.Jitter, opts.Random),
	}
}

func (s *Supervisor) State() ReconnectState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Run dials and redials until ctx is done, Shutdown is called, or the retry
// budget is spent. Only the last case returns an error.
func (s *Supervisor) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return nil
	}
	s.cancel = cancel
	s.mu.Unlock()

	for {
		s.observe(Observation{Status: Connecting, Attempt: s.State().Attempt})

		var cause error
		conn, err := s.dialer.Dial(ctx)
		if ctx.Err() != nil {
			if conn != nil {
				_ = conn.Close()
			}
			return nil
		}
		if err != nil {
			cause = &TransportError{Kind: ConnectFailed, Err: err}
		} else {
			s.mu.Lock()
			s.state = ReconnectState{}
			s.mu.Unlock()
			log.Info().Str("module", "supervisor").Msg("connected")
			s.observe(Observation{Status: Connected})
			if s.opts.OnConnected != nil {
				s.opts.OnConnected(ctx, conn)
			}

			select {
			case <-ctx.Done():
				_ = conn.Close()
				return nil
			case <-conn.Done():
				cause = &TransportError{Kind: Dropped, Err: conn.Err()}
			}
		}

		delay, retry := s.fail(cause)
		if !retry {
			st := s.State()
			log.Error().Err(cause).Str("module", "supervisor").Int("attempt", st.Attempt).Msg("giving up")
			s.observe(Observation{Status: Exhausted, Reason: cause, Attempt: st.Attempt})
			return fmt.Errorf("%w: %w", ErrExhausted, cause)
		}

		st := s.State()
		log.Warn().Err(cause).Str("module", "supervisor").Int("attempt", st.Attempt).Dur("delay", delay).Msg("reconnecting")
		s.observe(Observation{Status: Disconnected, Reason: cause, Attempt: st.Attempt, NextRetryAt: st.NextRetryAt})

		if !s.wait(ctx, delay) {
			return nil
		}
	}
}

// Shutdown stops Run and clears any scheduled reconnection. A shut down
// supervisor never dials again.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shutdown = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Supervisor) fail(cause error) (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Attempt++
	s.state.LastError = cause
	if s.opts.MaxAttempts > 0 && s.state.Attempt > s.opts.MaxAttempts {
		s.state.NextRetryAt = time.Time{}
		return 0, false
	}
	delay := s.backoff.Delay(s.state.Attempt)
	s.state.NextRetryAt = time.Now().Add(delay)
	return delay, true
}

func (s *Supervisor) wait(ctx context.Context, d time.Duration) bool {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return false
	}
	t := time.NewTimer(d)
	s.timer = t
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.timer == t {
			s.timer = nil
		}
		s.mu.Unlock()
		t.Stop()
	}()

	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Supervisor) observe(o Observation) {
	if s.opts.OnState != nil {
		s.opts.OnState(o)
	}
}
