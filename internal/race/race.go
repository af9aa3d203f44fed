package race

import (
	"maps"
	"math"
	"strconv"
	"time"
)

const (
	CountdownFrom     = 3
	CountdownGo       = 0
	DefaultTotalGates = 8
	DefaultDistance   = 1000000.0
)

type Phase int

const (
	PhaseLobby Phase = iota
	PhaseWaiting
	PhaseCountdown
	PhaseRacing
	PhaseFinished
)

func (p Phase) String() string {
	switch p {
	case PhaseLobby:
		return "lobby"
	case PhaseWaiting:
		return "waiting"
	case PhaseCountdown:
		return "countdown"
	case PhaseRacing:
		return "racing"
	case PhaseFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// CountdownLabel is what a countdown overlay shows for a value.
func CountdownLabel(v int) string {
	if v <= CountdownGo {
		return "GO!"
	}
	return strconv.Itoa(v)
}

type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func (v Vec3) DistanceSquared(o Vec3) float64 {
	dx, dy, dz := v.X-o.X, v.Y-o.Y, v.Z-o.Z
	return dx*dx + dy*dy + dz*dz
}

type Quat struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	W float64 `json:"w"`
}

// CarState is one peer's per-tick report. DistanceToNextGate is squared.
// FinishTime is zero until the car crosses the final gate.
type CarState struct {
	Position           Vec3          `json:"position"`
	Orientation        Quat          `json:"orientation"`
	GateIndex          int           `json:"gateIndex"`
	DistanceToNextGate float64       `json:"distanceToNextGate"`
	FinishTime         time.Duration `json:"finishTime,omitempty"`
}

// Sanitize replaces non-finite distances so the state survives encoding.
func (c CarState) Sanitize() CarState {
	if math.IsNaN(c.DistanceToNextGate) || math.IsInf(c.DistanceToNextGate, 0) || c.DistanceToNextGate < 0 {
		c.DistanceToNextGate = DefaultDistance
	}
	return c
}

type Entry struct {
	CarState
	LastUpdate time.Time
}

func (e Entry) Finished() bool { return e.FinishTime > 0 }

type Snapshot struct {
	Phase      Phase
	Countdown  int
	TotalGates int
	Elapsed    time.Duration
	Cars       map[string]Entry
}

// State is one peer's view of a race. It is not safe for concurrent use;
// the owning session serializes access.
type State struct {
	self       string
	totalGates int
	phase      Phase
	countdown  int
	startedAt  time.Time
	finishedAt time.Time
	cars       map[string]Entry
	finish     map[string]time.Duration
}

func New(self string, totalGates int) *State {
	if totalGates <= 0 {
		totalGates = DefaultTotalGates
	}
	return &State{
		self:       self,
		totalGates: totalGates,
		cars:       make(map[string]Entry),
		finish:     make(map[string]time.Duration),
	}
}

func (s *State) Phase() Phase { return s.phase }

func (s *State) Countdown() int { return s.countdown }

func (s *State) TotalGates() int { return s.totalGates }

// Wait moves a lobby into waiting-for-players.
func (s *State) Wait() bool {
	if s.phase != PhaseLobby {
		return false
	}
	s.phase = PhaseWaiting
	return true
}

// BeginCountdown is idempotent; a second countdown-start is ignored.
func (s *State) BeginCountdown() bool {
	if s.phase != PhaseLobby && s.phase != PhaseWaiting {
		return false
	}
	s.phase = PhaseCountdown
	s.countdown = CountdownFrom
	return true
}

// TickCountdown decrements the countdown: 3, 2, 1, GO, then racing.
func (s *State) TickCountdown(now time.Time) (value int, started bool) {
	if s.phase != PhaseCountdown {
		return s.countdown, false
	}
	if s.countdown > CountdownGo {
		s.countdown--
		return s.countdown, false
	}
	s.start(now)
	return s.countdown, true
}

// ForceStart jumps straight to racing. Used for the race-start fallback.
func (s *State) ForceStart(now time.Time) bool {
	if s.phase != PhaseWaiting && s.phase != PhaseCountdown {
		return false
	}
	s.countdown = CountdownGo
	s.start(now)
	return true
}

func (s *State) start(now time.Time) {
	s.phase = PhaseRacing
	s.startedAt = now
}

func (s *State) Elapsed(now time.Time) time.Duration {
	if s.startedAt.IsZero() {
		return 0
	}
	if !s.finishedAt.IsZero() {
		now = s.finishedAt
	}
	return now.Sub(s.startedAt)
}

// Record applies a peer's report. Gate progress never moves backwards and a
// finish time is kept only if none is stored yet. It reports whether the
// finish time was newly captured.
func (s *State) Record(id string, cs CarState, now time.Time) bool {
	cs = cs.Sanitize()
	cs.GateIndex = min(max(cs.GateIndex, 0), s.totalGates)

	prev, seen := s.cars[id]
	next := prev
	next.Position = cs.Position
	next.Orientation = cs.Orientation
	next.LastUpdate = now
	if !seen || cs.GateIndex >= prev.GateIndex {
		next.GateIndex = cs.GateIndex
		next.DistanceToNextGate = cs.DistanceToNextGate
	}
	s.cars[id] = next

	if cs.FinishTime > 0 {
		return s.Finish(id, cs.FinishTime)
	}
	return false
}

// RecordLocal stores our own report, stamping the finish time from the race
// clock when the last gate is reached. The returned state is what peers see.
func (s *State) RecordLocal(cs CarState, now time.Time) CarState {
	cs.FinishTime = 0
	s.Record(s.self, cs, now)
	if e := s.cars[s.self]; e.GateIndex == s.totalGates && s.phase >= PhaseRacing {
		s.Finish(s.self, s.Elapsed(now))
	}
	e := s.entry(s.self)
	return e.CarState
}

// Finish captures a finish time once. Later calls leave the first value.
func (s *State) Finish(id string, t time.Duration) bool {
	if t <= 0 {
		return false
	}
	if _, ok := s.finish[id]; ok {
		return false
	}
	e, ok := s.cars[id]
	if !ok || e.GateIndex != s.totalGates {
		return false
	}
	s.finish[id] = t
	return true
}

func (s *State) FinishTime(id string) (time.Duration, bool) {
	t, ok := s.finish[id]
	return t, ok
}

func (s *State) LocalFinished() bool {
	_, ok := s.finish[s.self]
	return ok
}

func (s *State) Car(id string) (Entry, bool) {
	if _, ok := s.cars[id]; !ok {
		return Entry{}, false
	}
	return s.entry(id), true
}

func (s *State) entry(id string) Entry {
	e := s.cars[id]
	e.FinishTime = s.finish[id]
	return e
}

// Fresh reports whether id has reported within window of now.
func (s *State) Fresh(id string, now time.Time, window time.Duration) bool {
	e, ok := s.cars[id]
	if !ok {
		return false
	}
	return now.Sub(e.LastUpdate) <= window
}

// Table is the latest known state of every car, keyed by player id.
func (s *State) Table() map[string]CarState {
	out := make(map[string]CarState, len(s.cars))
	for id := range s.cars {
		out[id] = s.entry(id).CarState
	}
	return out
}

// ActiveTable is Table without cars that have gone quiet for longer than
// window. Finished cars are always kept.
func (s *State) ActiveTable(now time.Time, window time.Duration) map[string]CarState {
	out := make(map[string]CarState, len(s.cars))
	for id := range s.cars {
		_, done := s.finish[id]
		if done || s.Fresh(id, now, window) {
			out[id] = s.entry(id).CarState
		}
	}
	return out
}

func (s *State) Snapshot(now time.Time) Snapshot {
	cars := make(map[string]Entry, len(s.cars))
	for id := range s.cars {
		cars[id] = s.entry(id)
	}
	return Snapshot{
		Phase:      s.phase,
		Countdown:  s.countdown,
		TotalGates: s.totalGates,
		Elapsed:    s.Elapsed(now),
		Cars:       cars,
	}
}

// AllFinished is the race-level completion check over the given roster.
// We are always active. A recorded finish always counts as active and
// finished, however stale. Anyone else is active only while they have
// reported within inactivity.
func (s *State) AllFinished(now time.Time, inactivity time.Duration, members []string) bool {
	active, finished := 0, 0
	for _, id := range members {
		_, done := s.finish[id]
		switch {
		case done:
			active++
			finished++
		case id == s.self, s.Fresh(id, now, inactivity):
			active++
		}
	}
	return active > 0 && finished == active
}

// Complete marks the race finished. Further reports are still accepted.
func (s *State) Complete(now time.Time) bool {
	if s.phase != PhaseRacing {
		return false
	}
	s.phase = PhaseFinished
	s.finishedAt = now
	return true
}

// Reset is the only path that lowers gate progress or clears finish times.
func (s *State) Reset() {
	s.phase = PhaseLobby
	s.countdown = 0
	s.startedAt = time.Time{}
	s.finishedAt = time.Time{}
	clear(s.cars)
	clear(s.finish)
}

// Finishers returns a copy of every captured finish time.
func (s *State) Finishers() map[string]time.Duration {
	return maps.Clone(s.finish)
}
