package rtc

import (
	"context"
	"time"

	"github.com/pion/rtp"
	"github.com/rs/zerolog/log"
)

type packetReader interface {
	ReadRTP() (*rtp.Packet, error)
}

// Stats summarises a received stream.
type Stats struct {
	Packets uint64
	Bytes   uint64
	Lost    uint64
}

// LogSink consumes a remote screen track and logs its throughput. It stands
// in for a renderer.
type LogSink struct {
	Interval time.Duration
}

// Consume reads until the track ends or ctx is done.
func (s LogSink) Consume(ctx context.Context, peer string, r packetReader) Stats {
	logger := log.With().Str("module", "rtc.sink").Str("peer", peer).Logger()
	interval := s.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}

	var (
		st      Stats
		lastSeq uint16
		started bool
		next    = time.Now().Add(interval)
	)
	for ctx.Err() == nil {
		pkt, err := r.ReadRTP()
		if err != nil {
			logger.Info().Err(err).Uint64("packets", st.Packets).Msg("track ended")
			return st
		}
		st.Packets++
		st.Bytes += uint64(len(pkt.Payload))
		if started {
			if gap := pkt.SequenceNumber - lastSeq; gap > 1 && gap < 1<<15 {
				st.Lost += uint64(gap - 1)
			}
		}
		lastSeq, started = pkt.SequenceNumber, true

		if now := time.Now(); now.After(next) {
			logger.Info().Uint64("packets", st.Packets).Uint64("bytes", st.Bytes).Uint64("lost", st.Lost).Msg("receiving")
			next = now.Add(interval)
		}
	}
	return st
}
