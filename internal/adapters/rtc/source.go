package rtc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Mirror/internal/app/participant"
)

const maxPacket = 1500

// UDPSource ingests an RTP stream (for example from ffmpeg or gstreamer
// capturing the screen) and fans it out to one local track per viewer.
type UDPSource struct {
	addr   string
	codec  webrtc.RTPCodecCapability
	fanout *Fanout
	logger zerolog.Logger

	mu     sync.Mutex
	conn   net.PacketConn
	cancel context.CancelFunc
	done   chan struct{}
}

func NewUDPSource(addr string, codec webrtc.RTPCodecCapability) *UDPSource {
	if codec.MimeType == "" {
		codec = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}
	}
	return &UDPSource{
		addr:   addr,
		codec:  codec,
		fanout: NewFanout(),
		logger: log.With().Str("module", "rtc.source").Str("addr", addr).Logger(),
	}
}

// Start binds the listen address. Bind failures map onto capture errors.
func (s *UDPSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return nil
	}
	if s.addr == "" {
		return &participant.CaptureError{Kind: participant.Unsupported, Err: errors.New("no capture address configured")}
	}
	if _, err := net.ResolveUDPAddr("udp", s.addr); err != nil {
		return &participant.CaptureError{Kind: participant.Unsupported, Err: err}
	}

	conn, err := net.ListenPacket("udp", s.addr)
	if err != nil {
		if errors.Is(err, os.ErrPermission) {
			return &participant.CaptureError{Kind: participant.PermissionDenied, Err: err}
		}
		return &participant.CaptureError{Kind: participant.Unsupported, Err: err}
	}

	ctx, cancel := context.WithCancel(ctx)
	s.conn = conn
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(ctx, conn, s.done)

	s.logger.Info().Str("local", conn.LocalAddr().String()).Msg("capture started")
	return nil
}

func (s *UDPSource) Stop() error {
	s.mu.Lock()
	conn, cancel, done := s.conn, s.cancel, s.done
	s.conn, s.cancel, s.done = nil, nil, nil
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	cancel()
	err := conn.Close()
	<-done
	s.fanout.MarkAllDelete()
	s.logger.Info().Msg("capture stopped")
	return err
}

// Addr is the bound address while running.
func (s *UDPSource) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// NewTrack creates the local track for peer and subscribes it.
func (s *UDPSource) NewTrack(peer string) (*webrtc.TrackLocalStaticRTP, error) {
	track, err := webrtc.NewTrackLocalStaticRTP(s.codec, "screen", "mirror-"+peer)
	if err != nil {
		return nil, fmt.Errorf("new track: %w", err)
	}
	s.fanout.Add(peer, NewOutTrack(track))
	return track, nil
}

func (s *UDPSource) Release(peer string) { s.fanout.MarkDelete(peer) }

func (s *UDPSource) loop(ctx context.Context, conn net.PacketConn, done chan struct{}) {
	defer close(done)
	buf := make([]byte, maxPacket)
	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Error().Err(err).Msg("read RTP error, stopping")
			}
			return
		}
		pkt := &rtp.Packet{}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			s.logger.Debug().Err(err).Msg("not an RTP packet")
			continue
		}
		s.fanout.Write(pkt, &s.logger)
	}
}
