package liveness

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExpired(t *testing.T) {
	t0 := time.Unix(1000, 0)
	tr := NewTracker()
	tr.Touch("g1", t0)
	tr.Touch("g2", t0.Add(3*time.Second))
	tr.Touch("g3", t0)

	assert.Empty(t, tr.Expired(t0.Add(5*time.Second), 5*time.Second), "exactly at the threshold is still alive")
	assert.Equal(t, []string{"g1", "g3"}, tr.Expired(t0.Add(6*time.Second), 5*time.Second))

	// Any message refreshes.
	tr.Touch("g1", t0.Add(6*time.Second))
	assert.Equal(t, []string{"g3"}, tr.Expired(t0.Add(7*time.Second), 5*time.Second))

	tr.Forget("g3")
	assert.Empty(t, tr.Expired(t0.Add(7*time.Second), 5*time.Second))
	assert.Equal(t, 2, tr.Len())
}

func TestTouchNeverGoesBackwards(t *testing.T) {
	t0 := time.Unix(1000, 0)
	tr := NewTracker()
	tr.Touch("g1", t0.Add(time.Second))
	tr.Touch("g1", t0)

	ts, ok := tr.LastSeen("g1")
	assert.True(t, ok)
	assert.Equal(t, t0.Add(time.Second), ts)

	tr.Reset()
	_, ok = tr.LastSeen("g1")
	assert.False(t, ok)
}
