package participant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Mirror/internal/app/relay"
	"github.com/dkeye/Mirror/internal/core"
	"github.com/dkeye/Mirror/internal/domain"
	"github.com/dkeye/Mirror/internal/negotiation"
	"github.com/dkeye/Mirror/internal/protocol"
	"github.com/dkeye/Mirror/internal/supervisor"
)

var errLinkClosed = errors.New("link closed")

// link connects a controller to an in-process relay.
type link struct {
	r   *relay.Relay
	pid domain.ParticipantID

	in   chan protocol.Envelope
	out  chan protocol.Envelope
	done chan struct{}
	once sync.Once
}

func newLink(r *relay.Relay, pid domain.ParticipantID) *link {
	l := &link{
		r:    r,
		pid:  pid,
		in:   make(chan protocol.Envelope, 64),
		out:  make(chan protocol.Envelope),
		done: make(chan struct{}),
	}
	r.Connect(pid, string(pid), serverSide{l})
	go l.pump()
	return l
}

func (l *link) pump() {
	defer close(l.out)
	for {
		select {
		case env := <-l.in:
			select {
			case l.out <- env:
			case <-l.done:
				return
			}
		case <-l.done:
			return
		}
	}
}

func (l *link) Send(env protocol.Envelope) error {
	select {
	case <-l.done:
		return errLinkClosed
	default:
	}
	b, err := protocol.Encode(env)
	if err != nil {
		return err
	}
	l.r.HandleFrame(l.pid, b)
	return nil
}

func (l *link) Incoming() <-chan protocol.Envelope { return l.out }
func (l *link) Done() <-chan struct{}              { return l.done }
func (l *link) Err() error                         { return nil }

func (l *link) Close() error {
	l.once.Do(func() {
		close(l.done)
		l.r.Disconnect(l.pid)
	})
	return nil
}

type serverSide struct{ l *link }

func (s serverSide) TrySend(f core.Frame) error {
	env, err := protocol.Decode(f)
	if err != nil {
		return err
	}
	select {
	case <-s.l.done:
		return errLinkClosed
	case s.l.in <- env:
		return nil
	default:
		return core.ErrBackpressure
	}
}

func (s serverSide) Close() { _ = s.l.Close() }

type fakePeer struct {
	name string

	mu          sync.Mutex
	local       negotiation.Description
	remote      negotiation.Description
	applied     []negotiation.Candidate
	closed      bool
	onCandidate func(negotiation.Candidate)
}

func jsonBlob(k, v string) []byte {
	b, _ := json.Marshal(map[string]string{k: v})
	return b
}

func (p *fakePeer) CreateOffer(context.Context) (negotiation.Description, error) {
	return jsonBlob("sdp", "offer-"+p.name), nil
}

func (p *fakePeer) CreateAnswer(context.Context) (negotiation.Description, error) {
	return jsonBlob("sdp", "answer-"+p.name), nil
}

func (p *fakePeer) SetLocalDescription(d negotiation.Description) error {
	p.mu.Lock()
	p.local = d
	cb := p.onCandidate
	p.mu.Unlock()
	if cb != nil {
		cb(jsonBlob("candidate", p.name))
	}
	return nil
}

func (p *fakePeer) SetRemoteDescription(d negotiation.Description) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.remote = d
	return nil
}

func (p *fakePeer) AddICECandidate(c negotiation.Candidate) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.applied = append(p.applied, c)
	return nil
}

func (p *fakePeer) OnLocalCandidate(f func(negotiation.Candidate)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onCandidate = f
}

func (p *fakePeer) OnStateChange(func(negotiation.PeerState)) {}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePeer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakePeer) descriptions() (local, remote negotiation.Description) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.local, p.remote
}

type fakeFactory struct {
	prefix string

	mu    sync.Mutex
	peers []*fakePeer
}

func (f *fakeFactory) NewPeer(_ context.Context, peerID string) (negotiation.PeerConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := &fakePeer{name: fmt.Sprintf("%s-%s-%d", f.prefix, peerID, len(f.peers))}
	f.peers = append(f.peers, p)
	return p, nil
}

func (f *fakeFactory) all() []*fakePeer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakePeer(nil), f.peers...)
}

type fakeSource struct {
	mu      sync.Mutex
	err     error
	running bool
}

func (s *fakeSource) Start(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.running = true
	return nil
}

func (s *fakeSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	return nil
}

type side struct {
	ctl    *Controller
	peers  *fakeFactory
	source *fakeSource
	link   *link
}

func newSide(t *testing.T, r *relay.Relay, role domain.Role, pid domain.ParticipantID) *side {
	t.Helper()
	s := &side{peers: &fakeFactory{prefix: string(pid)}, source: &fakeSource{}}
	s.ctl = New(Options{
		Role:               role,
		Peers:              s.peers,
		Source:             s.source,
		NegotiationTimeout: 2 * time.Second,
	})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		s.ctl.Close()
		cancel()
	})
	s.link = newLink(r, pid)
	t.Cleanup(func() { _ = s.link.Close() })
	s.ctl.Attach(ctx, s.link)
	return s
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 3*time.Second, 5*time.Millisecond, msg)
}

func TestHostAndViewerNegotiate(t *testing.T) {
	r := relay.New(relay.Options{MaxViewers: 4})
	host := newSide(t, r, domain.RoleHost, "A")
	viewer := newSide(t, r, domain.RoleViewer, "B")

	require.NoError(t, host.ctl.StartShare(context.Background()))
	eventually(t, func() bool { return host.ctl.State().Status == StatusSharing }, "host not sharing")

	require.NoError(t, viewer.ctl.JoinRoom())
	eventually(t, func() bool { return host.ctl.State().Peers == 1 }, "host peer not connected")
	eventually(t, func() bool { return viewer.ctl.State().Peers == 1 }, "viewer peer not connected")

	hp, vp := host.peers.all(), viewer.peers.all()
	require.Len(t, hp, 1)
	require.Len(t, vp, 1)
	hl, hr := hp[0].descriptions()
	vl, vr := vp[0].descriptions()
	assert.JSONEq(t, string(hl), string(vr))
	assert.JSONEq(t, string(vl), string(hr))

	eventually(t, func() bool {
		vp[0].mu.Lock()
		defer vp[0].mu.Unlock()
		return len(vp[0].applied) == 1
	}, "host candidate not applied on viewer")
}

func TestViewerDropReleasesHostPeer(t *testing.T) {
	r := relay.New(relay.Options{MaxViewers: 4})
	host := newSide(t, r, domain.RoleHost, "A")
	require.NoError(t, host.ctl.StartShare(context.Background()))

	viewer := newSide(t, r, domain.RoleViewer, "B")
	require.NoError(t, viewer.ctl.JoinRoom())
	eventually(t, func() bool { return host.ctl.State().Peers == 1 }, "not connected")

	require.NoError(t, viewer.link.Close())

	eventually(t, func() bool { return host.ctl.State().Peers == 0 }, "host still counts viewer")
	eventually(t, func() bool { return host.peers.all()[0].isClosed() }, "host peer for viewer not closed")
	assert.Equal(t, StatusSharing, host.ctl.State().Status)
}

func TestHostLeavesAndNewHostTakesOver(t *testing.T) {
	r := relay.New(relay.Options{MaxViewers: 4})
	host := newSide(t, r, domain.RoleHost, "A")
	require.NoError(t, host.ctl.StartShare(context.Background()))
	viewer := newSide(t, r, domain.RoleViewer, "B")
	require.NoError(t, viewer.ctl.JoinRoom())
	eventually(t, func() bool { return viewer.ctl.State().Peers == 1 }, "not connected")

	require.NoError(t, host.link.Close())
	eventually(t, func() bool { return viewer.ctl.State().Peers == 0 }, "viewer kept stale peer")
	eventually(t, func() bool { return viewer.peers.all()[0].isClosed() }, "viewer peer not closed")

	next := newSide(t, r, domain.RoleHost, "A2")
	require.NoError(t, next.ctl.StartShare(context.Background()))

	eventually(t, func() bool { return viewer.ctl.State().Peers == 1 }, "viewer did not renegotiate")
	assert.Len(t, viewer.peers.all(), 2)
	_, remote := viewer.peers.all()[1].descriptions()
	assert.Contains(t, string(remote), "offer-A2")
}

func TestCreatedRoomReclaimedAfterReconnect(t *testing.T) {
	r := relay.New(relay.Options{})
	host := newSide(t, r, domain.RoleHost, "A")
	require.NoError(t, host.ctl.CreateRoom())
	eventually(t, func() bool { return host.ctl.State().Status == StatusConnected }, "room not created")

	require.NoError(t, host.link.Close())
	s, ok := r.Session(domain.DefaultSessionID)
	require.True(t, ok)
	require.False(t, s.Active)

	next := newLink(r, "A2")
	t.Cleanup(func() { _ = next.Close() })
	host.ctl.Attach(context.Background(), next)

	eventually(t, func() bool {
		s, ok := r.Session(domain.DefaultSessionID)
		return ok && s.Active && s.HostID == "A2"
	}, "room not reclaimed on the new connection")
	assert.Empty(t, host.peers.all())
}

func TestCaptureErrorSurfaced(t *testing.T) {
	r := relay.New(relay.Options{})
	host := newSide(t, r, domain.RoleHost, "A")
	host.source.err = &CaptureError{Kind: PermissionDenied, Err: errors.New("denied by user")}

	err := host.ctl.StartShare(context.Background())

	assert.ErrorIs(t, err, ErrPermissionDenied)
	st := host.ctl.State()
	assert.Equal(t, StatusError, st.Status)
	assert.ErrorIs(t, st.Err, ErrPermissionDenied)
	assert.Empty(t, r.Sessions())
}

func TestJoinWithoutHostReportsNotFound(t *testing.T) {
	r := relay.New(relay.Options{})
	viewer := newSide(t, r, domain.RoleViewer, "B")

	require.NoError(t, viewer.ctl.JoinRoom())

	eventually(t, func() bool { return viewer.ctl.State().Status == StatusError }, "no error status")
	assert.ErrorIs(t, viewer.ctl.State().Err, ErrRoomNotFound)
}

func TestSecondHostIsBusy(t *testing.T) {
	r := relay.New(relay.Options{})
	first := newSide(t, r, domain.RoleHost, "A")
	second := newSide(t, r, domain.RoleHost, "X")

	require.NoError(t, first.ctl.StartShare(context.Background()))
	eventually(t, func() bool { return first.ctl.State().Status == StatusSharing }, "first host not sharing")

	require.NoError(t, second.ctl.StartShare(context.Background()))
	eventually(t, func() bool { return second.ctl.State().Status == StatusError }, "second host not rejected")
	assert.ErrorIs(t, second.ctl.State().Err, ErrRoomBusy)
}

func TestStopShareClosesViewerPeers(t *testing.T) {
	r := relay.New(relay.Options{MaxViewers: 4})
	host := newSide(t, r, domain.RoleHost, "A")
	require.NoError(t, host.ctl.StartShare(context.Background()))
	viewer := newSide(t, r, domain.RoleViewer, "B")
	require.NoError(t, viewer.ctl.JoinRoom())
	eventually(t, func() bool { return host.ctl.State().Peers == 1 }, "not connected")

	require.NoError(t, host.ctl.StopShare())

	assert.Equal(t, StatusConnected, host.ctl.State().Status)
	assert.Equal(t, 0, host.ctl.State().Peers)
	eventually(t, func() bool { return host.peers.all()[0].isClosed() }, "peer not closed")
	host.source.mu.Lock()
	assert.False(t, host.source.running)
	host.source.mu.Unlock()
}

func TestRoleCommands(t *testing.T) {
	viewer := New(Options{Role: domain.RoleViewer})
	assert.ErrorIs(t, viewer.StartShare(context.Background()), ErrNotHost)
	assert.ErrorIs(t, viewer.StopShare(), ErrNotHost)
	assert.ErrorIs(t, viewer.CreateRoom(), ErrNotHost)

	host := New(Options{Role: domain.RoleHost})
	assert.ErrorIs(t, host.JoinRoom(), ErrNotViewer)
}

func TestObserveSupervisor(t *testing.T) {
	var seen []Status
	c := New(Options{Role: domain.RoleViewer, Observer: func(s UIState) { seen = append(seen, s.Status) }})

	c.Observe(supervisor.Observation{Status: supervisor.Connecting})
	c.Observe(supervisor.Observation{Status: supervisor.Connected})
	c.Observe(supervisor.Observation{Status: supervisor.Disconnected, Reason: supervisor.ErrDropped, Attempt: 1})
	c.Observe(supervisor.Observation{Status: supervisor.Exhausted, Reason: supervisor.ErrConnectFailed, Attempt: 6})

	assert.Equal(t, []Status{StatusConnecting, StatusConnected, StatusDisconnected, StatusError}, seen)
	st := c.State()
	assert.Equal(t, 6, st.Attempt)
	assert.ErrorIs(t, st.Err, supervisor.ErrExhausted)
	assert.ErrorIs(t, st.Err, supervisor.ErrConnectFailed)
}
