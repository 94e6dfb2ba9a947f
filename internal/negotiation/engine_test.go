package negotiation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/dkeye/Mirror/internal/domain"
)

type fakePeer struct {
	name string

	mu      sync.Mutex
	calls   []string
	local   Description
	remote  Description
	applied []Candidate
	closed  int

	onCandidate func(Candidate)
	onState     func(PeerState)
	gather      []Candidate
}

func (p *fakePeer) record(s string) {
	p.mu.Lock()
	p.calls = append(p.calls, s)
	p.mu.Unlock()
}

func (p *fakePeer) CreateOffer(context.Context) (Description, error) {
	p.record("create-offer")
	return Description("offer-" + p.name), nil
}

func (p *fakePeer) CreateAnswer(context.Context) (Description, error) {
	p.record("create-answer")
	return Description("answer-" + p.name), nil
}

func (p *fakePeer) SetLocalDescription(d Description) error {
	p.record("set-local")
	p.mu.Lock()
	p.local = d
	gather, cb := p.gather, p.onCandidate
	p.mu.Unlock()
	for _, c := range gather {
		cb(c)
	}
	return nil
}

func (p *fakePeer) SetRemoteDescription(d Description) error {
	p.record("set-remote")
	p.mu.Lock()
	p.remote = d
	p.mu.Unlock()
	return nil
}

func (p *fakePeer) AddICECandidate(c Candidate) error {
	p.record("add-candidate")
	p.mu.Lock()
	p.applied = append(p.applied, c)
	p.mu.Unlock()
	return nil
}

func (p *fakePeer) OnLocalCandidate(f func(Candidate)) { p.onCandidate = f }
func (p *fakePeer) OnStateChange(f func(PeerState))    { p.onState = f }

func (p *fakePeer) Close() error {
	p.mu.Lock()
	p.closed++
	p.mu.Unlock()
	return nil
}

func (p *fakePeer) snapshot() (calls []string, applied []Candidate, closed int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...), append([]Candidate(nil), p.applied...), p.closed
}

// pipe delivers one engine's outbound signaling into another engine.
type pipe struct {
	mu   sync.Mutex
	to   *Engine
	sent []string
}

func (s *pipe) deliver(kind string, ev Event) error {
	s.mu.Lock()
	s.sent = append(s.sent, kind)
	to := s.to
	s.mu.Unlock()
	if to != nil {
		to.Deliver(ev)
	}
	return nil
}

func (s *pipe) SendOffer(d Description) error {
	return s.deliver("offer", Event{Kind: EvRemoteOffer, Description: d})
}

func (s *pipe) SendAnswer(d Description) error {
	return s.deliver("answer", Event{Kind: EvRemoteAnswer, Description: d})
}

func (s *pipe) SendCandidate(c Candidate) error {
	return s.deliver("candidate", Event{Kind: EvRemoteCandidate, Candidate: c})
}

func (s *pipe) connect(e *Engine) {
	s.mu.Lock()
	s.to = e
	s.mu.Unlock()
}

func runEngine(t *testing.T, e *Engine) <-chan error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	res := make(chan error, 1)
	go func() { res <- e.Run(ctx) }()
	return res
}

func waitState(t *testing.T, e *Engine, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return e.State() == want }, 2*time.Second, 5*time.Millisecond,
		"engine stuck in %s, want %s", e.State(), want)
}

func TestEngineRoundTrip(t *testing.T) {
	hostPeer := &fakePeer{name: "host", gather: []Candidate{Candidate("h1"), Candidate("h2")}}
	viewerPeer := &fakePeer{name: "viewer", gather: []Candidate{Candidate("v1")}}
	toViewer, toHost := &pipe{}, &pipe{}

	host := NewEngine(domain.RoleHost, hostPeer, toViewer, Options{PeerID: "B", Timeout: time.Second})
	viewer := NewEngine(domain.RoleViewer, viewerPeer, toHost, Options{PeerID: "A", Timeout: time.Second})
	toViewer.connect(viewer)
	toHost.connect(host)

	hostDone := runEngine(t, host)
	viewerDone := runEngine(t, viewer)

	viewer.Deliver(Event{Kind: EvJoined})
	host.Deliver(Event{Kind: EvViewerJoined})

	waitState(t, host, Connected)
	waitState(t, viewer, Connected)

	hl, hr := host.Descriptions()
	vl, vr := viewer.Descriptions()
	assert.Equal(t, Description("offer-host"), hl)
	assert.Equal(t, hl, vr)
	assert.Equal(t, Description("answer-viewer"), vl)
	assert.Equal(t, vl, hr)

	require.Eventually(t, func() bool {
		_, applied, _ := viewerPeer.snapshot()
		return len(applied) == 2
	}, time.Second, 5*time.Millisecond)
	_, applied, _ := viewerPeer.snapshot()
	assert.Equal(t, []Candidate{Candidate("h1"), Candidate("h2")}, applied)

	host.Close()
	viewer.Close()
	assert.NoError(t, <-hostDone)
	assert.NoError(t, <-viewerDone)
}

func TestEngineAppliesEarlyCandidatesAfterRemoteDescription(t *testing.T) {
	peer := &fakePeer{name: "viewer"}
	e := NewEngine(domain.RoleViewer, peer, &pipe{}, Options{})
	done := runEngine(t, e)

	e.Deliver(Event{Kind: EvJoined})
	e.Deliver(Event{Kind: EvRemoteCandidate, Candidate: Candidate("c1")})
	e.Deliver(Event{Kind: EvRemoteCandidate, Candidate: Candidate("c2")})
	e.Deliver(Event{Kind: EvRemoteOffer, Description: Description("O1")})
	waitState(t, e, Connected)

	calls, applied, _ := peer.snapshot()
	require.GreaterOrEqual(t, len(calls), 3)
	assert.Equal(t, []string{"set-remote", "add-candidate", "add-candidate"}, calls[:3])
	assert.Equal(t, []Candidate{Candidate("c1"), Candidate("c2")}, applied)

	e.Close()
	assert.NoError(t, <-done)
}

func TestEngineCloseTwice(t *testing.T) {
	peer := &fakePeer{name: "viewer"}
	e := NewEngine(domain.RoleViewer, peer, &pipe{}, Options{})
	done := runEngine(t, e)

	e.Deliver(Event{Kind: EvJoined})
	e.Close()
	e.Close()

	assert.NoError(t, <-done)
	assert.Equal(t, Closed, e.State())
	_, _, closed := peer.snapshot()
	assert.Equal(t, 1, closed)

	e.Close()
	assert.Equal(t, Closed, e.State())
}

func TestEngineTimeout(t *testing.T) {
	peer := &fakePeer{name: "viewer"}
	e := NewEngine(domain.RoleViewer, peer, &pipe{}, Options{Timeout: 30 * time.Millisecond})
	done := runEngine(t, e)

	e.Deliver(Event{Kind: EvJoined})

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrTimeout)
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not time out")
	}
	assert.Equal(t, Failed, e.State())
}

func TestEnginePeerFailure(t *testing.T) {
	peer := &fakePeer{name: "host"}
	e := NewEngine(domain.RoleHost, peer, &pipe{}, Options{})
	done := runEngine(t, e)

	e.Deliver(Event{Kind: EvViewerJoined})
	waitState(t, e, AwaitingRemoteAnswer)
	peer.onState(PeerFailed)

	assert.ErrorIs(t, <-done, ErrPeerFailed)
}

func expectCallbacks(pc *MockPeerConnection) {
	pc.EXPECT().OnLocalCandidate(gomock.Any())
	pc.EXPECT().OnStateChange(gomock.Any())
}

func TestEngineRemoteDescriptionRejected(t *testing.T) {
	ctrl := gomock.NewController(t)
	pc := NewMockPeerConnection(ctrl)
	expectCallbacks(pc)

	gomock.InOrder(
		pc.EXPECT().SetRemoteDescription(Description("garbage")).Return(errors.New("invalid sdp")),
		pc.EXPECT().Close().Return(nil),
	)

	e := NewEngine(domain.RoleViewer, pc, &pipe{}, Options{})
	done := runEngine(t, e)
	e.Deliver(Event{Kind: EvRemoteCandidate, Candidate: Candidate("c1")})
	e.Deliver(Event{Kind: EvRemoteOffer, Description: Description("garbage")})

	err := <-done
	assert.ErrorIs(t, err, ErrDescriptionRejected)
	assert.Equal(t, Failed, e.State())
}

func TestEngineCandidateRejectedIsSkipped(t *testing.T) {
	ctrl := gomock.NewController(t)
	pc := NewMockPeerConnection(ctrl)
	expectCallbacks(pc)

	sig := &pipe{}
	gomock.InOrder(
		pc.EXPECT().SetRemoteDescription(Description("O1")).Return(nil),
		pc.EXPECT().AddICECandidate(Candidate("bad")).Return(errors.New("malformed")),
		pc.EXPECT().AddICECandidate(Candidate("good")).Return(nil),
	)
	pc.EXPECT().CreateAnswer(gomock.Any()).Return(Description("A1"), nil)
	pc.EXPECT().SetLocalDescription(Description("A1")).Return(nil)
	pc.EXPECT().Close().Return(nil)

	e := NewEngine(domain.RoleViewer, pc, sig, Options{})
	done := runEngine(t, e)
	e.Deliver(Event{Kind: EvRemoteCandidate, Candidate: Candidate("bad")})
	e.Deliver(Event{Kind: EvRemoteCandidate, Candidate: Candidate("good")})
	e.Deliver(Event{Kind: EvRemoteOffer, Description: Description("O1")})

	waitState(t, e, Connected)
	e.Close()
	assert.NoError(t, <-done)

	sig.mu.Lock()
	defer sig.mu.Unlock()
	assert.Equal(t, []string{"answer"}, sig.sent)
}

func TestEngineCreateOfferFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	pc := NewMockPeerConnection(ctrl)
	expectCallbacks(pc)
	pc.EXPECT().CreateOffer(gomock.Any()).Return(nil, errors.New("no tracks"))
	pc.EXPECT().Close().Return(nil)

	e := NewEngine(domain.RoleHost, pc, &pipe{}, Options{})
	done := runEngine(t, e)
	e.Deliver(Event{Kind: EvViewerJoined})

	assert.ErrorIs(t, <-done, ErrDescriptionRejected)
}
