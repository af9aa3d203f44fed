package engine

import (
	"errors"
	"fmt"
	"math/rand"
	"slices"
)

var ErrHostCount = errors.New("party must have exactly one host")

// NewParty seeds a roster with the host as its only member.
func NewParty(host Player, mapID string) PartyState {
	host.IsHost = true
	host.IsReady = true
	return PartyState{Players: []Player{host}, SelectedMap: mapID}
}

func (s PartyState) Clone() PartyState {
	return PartyState{Players: slices.Clone(s.Players), SelectedMap: s.SelectedMap}
}

func (s PartyState) Index(id string) int {
	return slices.IndexFunc(s.Players, func(p Player) bool { return p.ID == id })
}

func (s PartyState) Find(id string) (Player, bool) {
	if i := s.Index(id); i >= 0 {
		return s.Players[i], true
	}
	return Player{}, false
}

func (s PartyState) Host() (Player, bool) {
	for _, p := range s.Players {
		if p.IsHost {
			return p, true
		}
	}
	return Player{}, false
}

func (s PartyState) Size() int { return len(s.Players) }

// IDs lists player ids in join order.
func (s PartyState) IDs() []string {
	ids := make([]string, len(s.Players))
	for i, p := range s.Players {
		ids[i] = p.ID
	}
	return ids
}

// AllReady reports whether every guest has flagged ready.
func (s PartyState) AllReady() bool {
	for _, p := range s.Players {
		if !p.IsHost && !p.IsReady {
			return false
		}
	}
	return true
}

func (s PartyState) Equal(o PartyState) bool {
	return s.SelectedMap == o.SelectedMap && slices.Equal(s.Players, o.Players)
}

// Validate checks the single-host invariant.
func (s PartyState) Validate() error {
	n := 0
	for _, p := range s.Players {
		if p.IsHost {
			n++
		}
	}
	if n != 1 {
		return fmt.Errorf("%w: found %d", ErrHostCount, n)
	}
	return nil
}

type Role string

const (
	RoleNone  Role = ""
	RoleHost  Role = "host"
	RoleGuest Role = "guest"
)

// RoleOf tells a peer whether it hosts the given roster.
func RoleOf(s PartyState, id string) Role {
	p, ok := s.Find(id)
	switch {
	case !ok:
		return RoleNone
	case p.IsHost:
		return RoleHost
	default:
		return RoleGuest
	}
}

func DefaultName() string {
	return fmt.Sprintf("Player_%d", rand.Intn(10000))
}

func ParseColor(v string) (Color, error) {
	c := Color(v)
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidColor, v)
	}
	return c, nil
}
