// Package liveness records when each peer was last heard from and reports the
// ones that have gone quiet. It holds no timers; the owning session drives it
// from its own tickers.
package liveness

import (
	"slices"
	"time"
)

type Tracker struct {
	lastSeen map[string]time.Time
}

func NewTracker() *Tracker {
	return &Tracker{lastSeen: make(map[string]time.Time)}
}

// Touch refreshes a peer. Any inbound message counts, not just heartbeats.
func (t *Tracker) Touch(id string, now time.Time) {
	if prev, ok := t.lastSeen[id]; ok && prev.After(now) {
		return
	}
	t.lastSeen[id] = now
}

func (t *Tracker) Forget(id string) { delete(t.lastSeen, id) }

func (t *Tracker) Reset() { clear(t.lastSeen) }

func (t *Tracker) LastSeen(id string) (time.Time, bool) {
	ts, ok := t.lastSeen[id]
	return ts, ok
}

func (t *Tracker) Len() int { return len(t.lastSeen) }

// Expired lists peers silent for longer than timeout, sorted for stable eviction order.
func (t *Tracker) Expired(now time.Time, timeout time.Duration) []string {
	var out []string
	for id, ts := range t.lastSeen {
		if now.Sub(ts) > timeout {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out
}
