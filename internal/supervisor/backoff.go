package supervisor

import (
	"math"
	"math/rand"
	"time"
)

// RandomSource provides random values for jitter.
type RandomSource interface {
	// Float64 returns a random float64 in [0.0, 1.0).
	Float64() float64
}

type defaultRandomSource struct{}

func (defaultRandomSource) Float64() float64 { return rand.Float64() }

var DefaultRandomSource RandomSource = defaultRandomSource{}

// Backoff computes reconnection delays:
//
//	delay = min(base * 2^(attempt-1), max) * (1 + random * jitter), capped at max
//
// attempt counts failures starting at 1, so the first retry waits base.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64
	random RandomSource
}

func NewBackoff(base, max time.Duration, jitter float64, random RandomSource) *Backoff {
	if random == nil {
		random = DefaultRandomSource
	}
	return &Backoff{Base: base, Max: max, Jitter: jitter, random: random}
}

func (b *Backoff) Delay(attempt int) time.Duration {
	d := b.Min(attempt)
	if b.Jitter > 0 {
		d = time.Duration(float64(d) * (1 + b.random.Float64()*b.Jitter))
	}
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	return d
}

// Min is the delay without jitter.
func (b *Backoff) Min(attempt int) time.Duration {
	exp := attempt - 1
	if exp < 0 {
		exp = 0
	}
	d := float64(b.Base) * math.Pow(2, float64(exp))
	if b.Max > 0 && d > float64(b.Max) {
		return b.Max
	}
	return time.Duration(d)
}
