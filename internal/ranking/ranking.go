package ranking

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/DoyleJ11/kart-party/internal/engine"
	"github.com/DoyleJ11/kart-party/internal/race"
)

type Entry struct {
	PlayerID           string
	Name               string
	Color              engine.Color
	Local              bool
	GateIndex          int
	DistanceToNextGate float64
	FinishTime         time.Duration
}

func (e Entry) Finished() bool { return e.FinishTime > 0 }

type Standing struct {
	Position int
	Entry
}

func distance(e Entry) float64 {
	d := e.DistanceToNextGate
	if math.IsNaN(d) || math.IsInf(d, 0) {
		return race.DefaultDistance
	}
	return d
}

func byFinishTime(a, b Entry) int { return cmp.Compare(a.FinishTime, b.FinishTime) }

// Live orders racers for the in-race leaderboard. Finished players lead,
// fastest first; everyone else is ranked by gate index descending and then
// by distance to the next gate ascending. Ties keep input order.
func Live(entries []Entry) []Standing {
	sorted := slices.Clone(entries)
	if len(sorted) > 1 {
		slices.SortStableFunc(sorted, func(a, b Entry) int {
			switch {
			case a.Finished() && b.Finished():
				return byFinishTime(a, b)
			case a.Finished():
				return -1
			case b.Finished():
				return 1
			}
			if c := cmp.Compare(b.GateIndex, a.GateIndex); c != 0 {
				return c
			}
			return cmp.Compare(distance(a), distance(b))
		})
	}
	return number(sorted)
}

// Final is the results table: only players with a captured finish time,
// fastest first. Unfinished players are left out.
func Final(entries []Entry) []Standing {
	var done []Entry
	for _, e := range entries {
		if e.Finished() {
			done = append(done, e)
		}
	}
	slices.SortStableFunc(done, byFinishTime)
	return number(done)
}

// Podium trims final results to the top n places.
func Podium(final []Standing, n int) []Standing {
	if len(final) > n {
		return final[:n]
	}
	return final
}

func number(entries []Entry) []Standing {
	out := make([]Standing, len(entries))
	for i, e := range entries {
		out[i] = Standing{Position: i + 1, Entry: e}
	}
	return out
}

// Collect builds ranking input from the roster and a race snapshot. We are
// always included. Other players show up while they are fresh within
// window, or once they have a finish time.
func Collect(party engine.PartyState, snap race.Snapshot, self string, now time.Time, window time.Duration) []Entry {
	var out []Entry
	for _, p := range party.Players {
		car, ok := snap.Cars[p.ID]
		local := p.ID == self
		if !local && (!ok || (!car.Finished() && now.Sub(car.LastUpdate) > window)) {
			continue
		}
		e := Entry{
			PlayerID:           p.ID,
			Name:               p.Name,
			Color:              p.Color,
			Local:              local,
			DistanceToNextGate: race.DefaultDistance,
		}
		if ok {
			e.GateIndex = car.GateIndex
			e.DistanceToNextGate = car.DistanceToNextGate
			e.FinishTime = car.FinishTime
		}
		out = append(out, e)
	}
	return out
}

// FormatTime renders a race time as MM:SS.
func FormatTime(d time.Duration) string {
	secs := int(d / time.Second)
	return fmt.Sprintf("%02d:%02d", secs/60, secs%60)
}

func PositionLabel(n int) string {
	suffix := "th"
	switch n % 100 {
	case 11, 12, 13:
	default:
		switch n % 10 {
		case 1:
			suffix = "st"
		case 2:
			suffix = "nd"
		case 3:
			suffix = "rd"
		}
	}
	return fmt.Sprintf("%d%s", n, suffix)
}
