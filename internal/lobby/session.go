package lobby

import (
	"context"
	"errors"

	"github.com/DoyleJ11/kart-party/internal/engine"
	"github.com/DoyleJ11/kart-party/internal/race"
	"github.com/DoyleJ11/kart-party/internal/ranking"
)

var (
	ErrSessionEnded    = errors.New("session ended")
	ErrPartyNotFound   = errors.New("party not found")
	ErrCouldNotJoin    = errors.New("could not join party")
	ErrPlayersNotReady = errors.New("not every player is ready")
	ErrWrongPhase      = errors.New("not allowed in the current race phase")
	ErrCannotKickSelf  = errors.New("host cannot kick itself")
)

// Outcome says why a session ended.
type Outcome int

const (
	OutcomeNone Outcome = iota
	OutcomeLeft
	OutcomeStopped
	OutcomeKicked
	OutcomePartyEnded
	OutcomeHostDisconnected
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNone:
		return "none"
	case OutcomeLeft:
		return "left"
	case OutcomeStopped:
		return "stopped"
	case OutcomeKicked:
		return "kicked"
	case OutcomePartyEnded:
		return "party ended"
	case OutcomeHostDisconnected:
		return "host disconnected"
	default:
		return "unknown"
	}
}

// View is a copy of everything a presentation layer needs.
type View struct {
	Self string
	Role engine.Role
	// Code is the party code, known to the host and to every joined guest.
	Code      string
	Party     engine.PartyState
	Race      race.Snapshot
	Connected int

	// Standings is the live order once the countdown begins; Results holds
	// the final table after the race finishes.
	Standings  []ranking.Standing
	Results    []ranking.Standing
	Spectating string

	Status  string
	Outcome Outcome
}

// Session is what Host and Guest have in common.
type Session interface {
	ID() string
	Role() engine.Role
	View(ctx context.Context) (View, error)
	// Updates holds the latest view; older unread ones are replaced. It is
	// closed after the final view once the session ends.
	Updates() <-chan View
	// ReportProgress feeds the local car state, typically every physics tick.
	ReportProgress(ctx context.Context, cs race.CarState) error
	// Spectate moves the camera to the next (dir > 0) or previous racer once
	// we have finished.
	Spectate(ctx context.Context, dir int) error
	Done() <-chan struct{}
	Outcome() Outcome
	Close() error
}
