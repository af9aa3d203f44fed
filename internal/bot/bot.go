// Package bot drives a car around a course without a player, so a headless
// peer still produces car state during a race.
package bot

import (
	"context"
	"math"
	"time"

	"github.com/DoyleJ11/kart-party/internal/race"
)

const (
	DefaultRate  = 60
	DefaultSpeed = 40.0 // units per second
)

// Driver heads straight for the next gate at a constant speed.
type Driver struct {
	progress *race.Progress
	pos      race.Vec3
	heading  race.Quat
	speed    float64
}

func NewDriver(c race.Course, speed float64) *Driver {
	if speed <= 0 {
		speed = DefaultSpeed
	}
	return &Driver{progress: race.NewProgress(c), heading: race.Quat{W: 1}, speed: speed}
}

func (d *Driver) Done() bool { return d.progress.Done() }

// Step advances the car by dt and returns what it would report.
func (d *Driver) Step(dt time.Duration) race.CarState {
	if next, ok := d.progress.Next(); ok {
		dx, dz := next.X-d.pos.X, next.Z-d.pos.Z
		dist := math.Hypot(dx, dz)
		move := d.speed * dt.Seconds()
		if dist > 0 {
			d.heading = yaw(math.Atan2(dx, dz))
			if move >= dist {
				d.pos = next
			} else {
				d.pos.X += dx / dist * move
				d.pos.Z += dz / dist * move
			}
		}
	}
	gate, distSq := d.progress.Update(d.pos)
	return race.CarState{
		Position:           d.pos,
		Orientation:        d.heading,
		GateIndex:          gate,
		DistanceToNextGate: distSq,
	}
}

func yaw(a float64) race.Quat {
	return race.Quat{Y: math.Sin(a / 2), W: math.Cos(a / 2)}
}

type Reporter interface {
	ReportProgress(ctx context.Context, cs race.CarState) error
}

// Run steps the driver rate times a second and reports every step until the
// course is finished, ctx is done or the reporter fails.
func Run(ctx context.Context, r Reporter, d *Driver, rate int) error {
	if rate <= 0 {
		rate = DefaultRate
	}
	step := time.Second / time.Duration(rate)
	t := time.NewTicker(step)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if err := r.ReportProgress(ctx, d.Step(step)); err != nil {
				return err
			}
			if d.Done() {
				return nil
			}
		}
	}
}
