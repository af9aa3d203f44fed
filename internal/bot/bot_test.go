package bot

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/kart-party/internal/race"
)

func TestDriverCompletesCourse(t *testing.T) {
	d := NewDriver(race.Loop(race.DefaultTotalGates, 50), 100)

	last := 0
	for i := 0; i < 10000 && !d.Done(); i++ {
		cs := d.Step(time.Second / 60)
		require.GreaterOrEqual(t, cs.GateIndex, last, "gate progress went backwards")
		last = cs.GateIndex
	}
	require.True(t, d.Done())
	assert.Equal(t, race.DefaultTotalGates, last)

	cs := d.Step(time.Second / 60)
	assert.Equal(t, race.DefaultDistance, cs.DistanceToNextGate)
}

type collector struct {
	states []race.CarState
}

func (c *collector) ReportProgress(_ context.Context, cs race.CarState) error {
	c.states = append(c.states, cs)
	return nil
}

func TestRunStopsAtFinish(t *testing.T) {
	c := &collector{}
	d := NewDriver(race.Loop(3, 2), 1000)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, Run(ctx, c, d, 500))

	require.NotEmpty(t, c.states)
	assert.Equal(t, 3, c.states[len(c.states)-1].GateIndex)
}

func TestRunHonoursContext(t *testing.T) {
	d := NewDriver(race.Loop(race.DefaultTotalGates, 1e6), 1)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := Run(ctx, &collector{}, d, 100)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
