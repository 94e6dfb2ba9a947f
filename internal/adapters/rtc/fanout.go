package rtc

import (
	"maps"
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/rs/zerolog"
)

type TrackState int32

const (
	TrackStateOk TrackState = iota
	TrackStateDelete
)

type rtpWriter interface {
	WriteRTP(*rtp.Packet) error
}

// OutTrack is one viewer's copy of the shared screen.
type OutTrack struct {
	Track rtpWriter
	state atomic.Int32 // Zero by default (TrackStateOk)
}

func NewOutTrack(track rtpWriter) *OutTrack {
	return &OutTrack{Track: track}
}

func (ot *OutTrack) GetState() TrackState { return TrackState(ot.state.Load()) }
func (ot *OutTrack) MarkDelete()          { ot.state.Store(int32(TrackStateDelete)) }

// Fanout copies every captured packet to each viewer's OutTrack.
type Fanout struct {
	mu        sync.RWMutex
	outTracks map[string]*OutTrack
}

func NewFanout() *Fanout {
	return &Fanout{outTracks: make(map[string]*OutTrack)}
}

func (f *Fanout) Add(peer string, ot *OutTrack) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if old, ok := f.outTracks[peer]; ok {
		old.MarkDelete()
	}
	f.outTracks[peer] = ot
}

// MarkDelete detaches peer's track; it is dropped on the next packet.
func (f *Fanout) MarkDelete(peer string) {
	f.mu.RLock()
	ot, ok := f.outTracks[peer]
	f.mu.RUnlock()
	if ok {
		ot.MarkDelete()
	}
}

func (f *Fanout) MarkAllDelete() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ot := range f.outTracks {
		ot.MarkDelete()
	}
}

func (f *Fanout) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.outTracks)
}

func (f *Fanout) Write(pkt *rtp.Packet, logger *zerolog.Logger) {
	f.mu.RLock()
	snapshot := make(map[string]*OutTrack, len(f.outTracks))
	maps.Copy(snapshot, f.outTracks)
	f.mu.RUnlock()

	dirty := make([]string, 0, len(snapshot))
	for peer, ot := range snapshot {
		switch ot.GetState() {
		case TrackStateDelete:
			dirty = append(dirty, peer)
		case TrackStateOk:
			if err := ot.Track.WriteRTP(pkt); err != nil {
				logger.Error().
					Err(err).
					Str("peer", peer).
					Msg("write RTP error, marking outtrack as delete")
				ot.MarkDelete()
				dirty = append(dirty, peer)
			}
		}
	}

	if len(dirty) > 0 {
		f.cleanupDeleted(dirty)
	}
}

// cleanupDeleted removes dirty tracks unless they were replaced meanwhile.
func (f *Fanout) cleanupDeleted(dirty []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, peer := range dirty {
		if ot, ok := f.outTracks[peer]; ok && ot.GetState() == TrackStateDelete {
			delete(f.outTracks, peer)
		}
	}
}
