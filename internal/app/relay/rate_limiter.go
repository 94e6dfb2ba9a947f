package relay

import (
	"sync"
	"time"
)

// RoomRateLimiter bounds create/join attempts per client key in a sliding
// window. Keys outlive connections so reconnecting does not reset the window.
type RoomRateLimiter struct {
	mu       sync.Mutex
	history  map[string][]time.Time
	limit    int
	interval time.Duration
	now      func() time.Time
}

func NewRoomRateLimiter(limit int, interval time.Duration) *RoomRateLimiter {
	return &RoomRateLimiter{
		history:  make(map[string][]time.Time),
		limit:    limit,
		interval: interval,
		now:      time.Now,
	}
}

func (rl *RoomRateLimiter) Allow(key string) bool {
	if rl == nil || rl.limit <= 0 {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	fresh := rl.fresh(key, now)

	if len(fresh) >= rl.limit {
		rl.history[key] = fresh
		return false
	}

	rl.history[key] = append(fresh, now)
	return true
}

// Expire drops key once none of its attempts is inside the window.
func (rl *RoomRateLimiter) Expire(key string) {
	if rl == nil {
		return
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if fresh := rl.fresh(key, rl.now()); len(fresh) > 0 {
		rl.history[key] = fresh
		return
	}
	delete(rl.history, key)
}

func (rl *RoomRateLimiter) fresh(key string, now time.Time) []time.Time {
	windowStart := now.Add(-rl.interval)
	attempts := rl.history[key]
	fresh := make([]time.Time, 0, len(attempts)+1)
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}
	return fresh
}
