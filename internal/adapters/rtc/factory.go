package rtc

import (
	"context"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/Mirror/internal/app/participant"
	"github.com/dkeye/Mirror/internal/domain"
	"github.com/dkeye/Mirror/internal/negotiation"
)

// Factory creates one WebRTCConnection per remote peer. A host factory
// attaches a fresh track from Source; a viewer factory receives video into
// Sink.
type Factory struct {
	API    *webrtc.API
	Config webrtc.Configuration
	Role   domain.Role
	Source *UDPSource
	Sink   LogSink
}

var _ participant.PeerFactory = (*Factory)(nil)

func (f *Factory) NewPeer(ctx context.Context, peerID string) (negotiation.PeerConnection, error) {
	conn, err := NewWebRTCConnection(f.API, f.Config, peerID)
	if err != nil {
		return nil, err
	}

	switch f.Role {
	case domain.RoleHost:
		track, err := f.Source.NewTrack(peerID)
		if err != nil {
			_ = conn.Close()
			return nil, err
		}
		conn.OnClosed(func() { f.Source.Release(peerID) })
		if err := conn.AddLocalTrack(track); err != nil {
			_ = conn.Close()
			return nil, err
		}
	case domain.RoleViewer:
		err := conn.ReceiveVideo(ctx, func(ctx context.Context, track *webrtc.TrackRemote) {
			f.Sink.Consume(ctx, peerID, remoteTrack{t: track})
		})
		if err != nil {
			_ = conn.Close()
			return nil, err
		}
	}
	return conn, nil
}
