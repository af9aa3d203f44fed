package engine

import (
	"errors"
	"slices"
)

var ErrUnknownPlayer = errors.New("unknown player")
var ErrInvalidColor = errors.New("invalid color")
var ErrHostImmutable = errors.New("host entry cannot be removed or demoted")
var ErrEmptyID = errors.New("player id is empty")
var ErrUnsupportedCommand = errors.New("unsupported command")

type Color string

const (
	ColorRed    Color = "red"
	ColorOrange Color = "orange"
	ColorYellow Color = "yellow"
	ColorGreen  Color = "green"
	ColorBlue   Color = "blue"
	ColorIndigo Color = "indigo"
	ColorViolet Color = "violet"
)

var Colors = []Color{ColorRed, ColorOrange, ColorYellow, ColorGreen, ColorBlue, ColorIndigo, ColorViolet}

func (c Color) Valid() bool { return slices.Contains(Colors, c) }

type Player struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	IsHost  bool   `json:"isHost"`
	IsReady bool   `json:"isReady"`
	Color   Color  `json:"color"`
}

// PartyState is the roster snapshot the host broadcasts. Players keeps join order.
type PartyState struct {
	Players     []Player `json:"players"`
	SelectedMap string   `json:"selectedMap"`
}

// Fields is a partial player update; nil means unchanged.
type Fields struct {
	Name  *string `json:"name,omitempty"`
	Color *Color  `json:"color,omitempty"`
	Ready *bool   `json:"ready,omitempty"`
}

type CommandType string

const (
	CmdJoin       CommandType = "Join"
	CmdUpdate     CommandType = "Update"
	CmdRemove     CommandType = "Remove"
	CmdSelectMap  CommandType = "SelectMap"
	CmdResetReady CommandType = "ResetReady"
)

/*
	CmdJoin       -> EvtPlayerJoined, or EvtPlayerRejoined when the id is already on the roster
	CmdUpdate     -> EvtPlayerUpdated
	CmdRemove     -> EvtPlayerRemoved
	CmdSelectMap  -> EvtMapSelected
	CmdResetReady -> EvtPlayerUpdated for every guest that was ready
*/

type Command struct {
	Type     CommandType
	PlayerID string
	Name     string
	Color    Color
	Fields   Fields
	MapID    string
}

type EventType string

const (
	EvtPlayerJoined   EventType = "PlayerJoined"
	EvtPlayerRejoined EventType = "PlayerRejoined"
	EvtPlayerUpdated  EventType = "PlayerUpdated"
	EvtPlayerRemoved  EventType = "PlayerRemoved"
	EvtMapSelected    EventType = "MapSelected"
)

type Event struct {
	Type     EventType
	PlayerID string
	Player   Player
	MapID    string
}

// Apply never mutates s; the returned state owns a fresh Players slice.
func Apply(s PartyState, cmd Command) ([]Event, PartyState, error) {
	newState := s.Clone()

	switch cmd.Type {
	case CmdJoin:
		if cmd.PlayerID == "" {
			return nil, s, ErrEmptyID
		}
		if !cmd.Color.Valid() {
			return nil, s, ErrInvalidColor
		}

		p := Player{ID: cmd.PlayerID, Name: cmd.Name, Color: cmd.Color}
		idx := newState.Index(cmd.PlayerID)
		if idx >= 0 {
			// Rejoin replaces the entry in place and keeps the roster slot.
			if newState.Players[idx].IsHost {
				return nil, s, ErrHostImmutable
			}
			newState.Players[idx] = p
			return []Event{{Type: EvtPlayerRejoined, PlayerID: p.ID, Player: p}}, newState, nil
		}
		newState.Players = append(newState.Players, p)
		return []Event{{Type: EvtPlayerJoined, PlayerID: p.ID, Player: p}}, newState, nil

	case CmdUpdate:
		idx := newState.Index(cmd.PlayerID)
		if idx < 0 {
			return nil, s, ErrUnknownPlayer
		}

		p := newState.Players[idx]
		if cmd.Fields.Name != nil {
			p.Name = *cmd.Fields.Name
		}
		if cmd.Fields.Color != nil {
			if !cmd.Fields.Color.Valid() {
				return nil, s, ErrInvalidColor
			}
			p.Color = *cmd.Fields.Color
		}
		// The host is always ready.
		if cmd.Fields.Ready != nil && !p.IsHost {
			p.IsReady = *cmd.Fields.Ready
		}
		newState.Players[idx] = p
		return []Event{{Type: EvtPlayerUpdated, PlayerID: p.ID, Player: p}}, newState, nil

	case CmdRemove:
		idx := newState.Index(cmd.PlayerID)
		if idx < 0 {
			return nil, s, ErrUnknownPlayer
		}
		if newState.Players[idx].IsHost {
			return nil, s, ErrHostImmutable
		}
		removed := newState.Players[idx]
		newState.Players = slices.Delete(newState.Players, idx, idx+1)
		return []Event{{Type: EvtPlayerRemoved, PlayerID: removed.ID, Player: removed}}, newState, nil

	case CmdSelectMap:
		newState.SelectedMap = cmd.MapID
		return []Event{{Type: EvtMapSelected, MapID: cmd.MapID}}, newState, nil

	case CmdResetReady:
		var events []Event
		for i, p := range newState.Players {
			if p.IsHost || !p.IsReady {
				continue
			}
			p.IsReady = false
			newState.Players[i] = p
			events = append(events, Event{Type: EvtPlayerUpdated, PlayerID: p.ID, Player: p})
		}
		return events, newState, nil

	default:
		return nil, s, ErrUnsupportedCommand
	}
}

// Reduce rebuilds a roster from a host entry and an event log.
func Reduce(host Player, events []Event) PartyState {
	s := NewParty(host, "")
	for _, event := range events {
		switch event.Type {
		case EvtPlayerJoined:
			s.Players = append(s.Players, event.Player)
		case EvtPlayerRejoined, EvtPlayerUpdated:
			if idx := s.Index(event.PlayerID); idx >= 0 {
				s.Players[idx] = event.Player
			}
		case EvtPlayerRemoved:
			if idx := s.Index(event.PlayerID); idx >= 0 {
				s.Players = slices.Delete(s.Players, idx, idx+1)
			}
		case EvtMapSelected:
			s.SelectedMap = event.MapID
		}
	}
	return s
}
