package rtc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Mirror/internal/negotiation"
)

func DefaultWebRTCConfig(iceServers []string) webrtc.Configuration {
	if len(iceServers) == 0 {
		iceServers = []string{"stun:stun.l.google.com:19302"}
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: iceServers}},
	}
}

// NewAPI builds a pion API with the default codecs and zerolog logging.
func NewAPI() (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	s := webrtc.SettingEngine{LoggerFactory: LoggerFactory{}}
	return webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithSettingEngine(s)), nil
}

// WebRTCConnection adapts a pion PeerConnection to the negotiation engine.
// Descriptions travel as JSON-encoded webrtc.SessionDescription and
// candidates as JSON-encoded webrtc.ICECandidateInit, which is what
// browsers send as well.
type WebRTCConnection struct {
	pc     *webrtc.PeerConnection
	peer   string
	logger zerolog.Logger

	closeOnce sync.Once
	onClosed  func()
}

var _ negotiation.PeerConnection = (*WebRTCConnection)(nil)

func NewWebRTCConnection(api *webrtc.API, cfg webrtc.Configuration, peer string) (*WebRTCConnection, error) {
	pc, err := api.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	return &WebRTCConnection{
		pc:     pc,
		peer:   peer,
		logger: log.With().Str("module", "webrtc").Str("peer", peer).Logger(),
	}, nil
}

func (c *WebRTCConnection) CreateOffer(context.Context) (negotiation.Description, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return nil, err
	}
	return json.Marshal(offer)
}

func (c *WebRTCConnection) CreateAnswer(context.Context) (negotiation.Description, error) {
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return nil, err
	}
	return json.Marshal(answer)
}

func (c *WebRTCConnection) SetLocalDescription(d negotiation.Description) error {
	var sd webrtc.SessionDescription
	if err := json.Unmarshal(d, &sd); err != nil {
		return fmt.Errorf("decode local description: %w", err)
	}
	return c.pc.SetLocalDescription(sd)
}

func (c *WebRTCConnection) SetRemoteDescription(d negotiation.Description) error {
	var sd webrtc.SessionDescription
	if err := json.Unmarshal(d, &sd); err != nil {
		return fmt.Errorf("decode remote description: %w", err)
	}
	return c.pc.SetRemoteDescription(sd)
}

func (c *WebRTCConnection) AddICECandidate(cand negotiation.Candidate) error {
	var ci webrtc.ICECandidateInit
	if err := json.Unmarshal(cand, &ci); err != nil {
		return fmt.Errorf("decode candidate: %w", err)
	}
	return c.pc.AddICECandidate(ci)
}

func (c *WebRTCConnection) OnLocalCandidate(fn func(negotiation.Candidate)) {
	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		b, err := json.Marshal(cand.ToJSON())
		if err != nil {
			c.logger.Error().Err(err).Msg("encode candidate")
			return
		}
		fn(b)
	})
}

func (c *WebRTCConnection) OnStateChange(fn func(negotiation.PeerState)) {
	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		c.logger.Info().Str("peer_connection_state", s.String()).Msg("Peer state")
		fn(peerState(s))
	})
}

func peerState(s webrtc.PeerConnectionState) negotiation.PeerState {
	switch s {
	case webrtc.PeerConnectionStateConnecting:
		return negotiation.PeerConnecting
	case webrtc.PeerConnectionStateConnected:
		return negotiation.PeerConnected
	case webrtc.PeerConnectionStateDisconnected:
		return negotiation.PeerDisconnected
	case webrtc.PeerConnectionStateFailed:
		return negotiation.PeerFailed
	case webrtc.PeerConnectionStateClosed:
		return negotiation.PeerClosed
	default:
		return negotiation.PeerNew
	}
}

// AddLocalTrack attaches the shared screen and drains RTCP for it.
func (c *WebRTCConnection) AddLocalTrack(track webrtc.TrackLocal) error {
	sender, err := c.pc.AddTrack(track)
	if err != nil {
		return err
	}
	go func() {
		buf := make([]byte, maxPacket)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

// ReceiveVideo prepares a receive-only video transceiver and hands each
// remote track to fn.
func (c *WebRTCConnection) ReceiveVideo(ctx context.Context, fn func(ctx context.Context, track *webrtc.TrackRemote)) error {
	if _, err := c.pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		return err
	}
	c.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		c.logger.Info().
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		go fn(ctx, track)
	})
	return nil
}

// OnClosed sets a cleanup hook run once by Close.
func (c *WebRTCConnection) OnClosed(fn func()) { c.onClosed = fn }

func (c *WebRTCConnection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.pc.Close()
		if err != nil {
			c.logger.Error().Err(err).Msg("close error")
		} else {
			c.logger.Info().Msg("closed")
		}
		if c.onClosed != nil {
			c.onClosed()
		}
	})
	return err
}

// remoteTrack narrows TrackRemote to what the sink reads.
type remoteTrack struct {
	t *webrtc.TrackRemote
}

func (r remoteTrack) ReadRTP() (*rtp.Packet, error) {
	pkt, _, err := r.t.ReadRTP()
	return pkt, err
}
