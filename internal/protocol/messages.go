package protocol

import (
	"github.com/DoyleJ11/kart-party/internal/engine"
	"github.com/DoyleJ11/kart-party/internal/race"
)

type Type string

const (
	TypeJoinRequest    Type = "join-request"
	TypePartyState     Type = "party-state"
	TypePlayerJoined   Type = "player-joined"
	TypePlayerUpdate   Type = "player-update"
	TypePlayerLeft     Type = "player-left"
	TypeMapUpdate      Type = "map-update"
	TypeReadyStatus    Type = "ready-status"
	TypeKicked         Type = "kicked"
	TypePartyEnded     Type = "party-ended"
	TypeHeartbeat      Type = "heartbeat"
	TypeStartGame      Type = "start-game"
	TypeCountdownStart Type = "countdown-start"
	TypeRaceStart      Type = "race-start"
	TypeCarUpdate      Type = "car-update"
	TypeCarUpdateAll   Type = "car-update-all"
)

// Message is closed over the types in this file.
type Message interface {
	Type() Type
	isMessage()
}

// guest -> host
type JoinRequest struct {
	ID    string       `json:"id"`
	Name  string       `json:"name"`
	Color engine.Color `json:"color"`
}

// host -> guests. Doubles as the join acknowledgement.
type PartyState struct {
	State engine.PartyState `json:"state"`
}

// host -> other guests
type PlayerJoined struct {
	Player engine.Player `json:"player"`
}

// guest -> host
type PlayerUpdate struct {
	ID     string        `json:"id"`
	Fields engine.Fields `json:"fields"`
}

// guest -> host
type PlayerLeft struct {
	ID string `json:"id"`
}

// host -> guests
type MapUpdate struct {
	MapID string `json:"mapId"`
}

// guest -> host
type ReadyStatus struct {
	ID    string `json:"id"`
	Ready bool   `json:"ready"`
}

// host -> guest
type Kicked struct {
	Reason string `json:"reason,omitempty"`
}

// host -> guests
type PartyEnded struct{}

// either direction; Timestamp is unix millis.
type Heartbeat struct {
	Timestamp int64  `json:"timestamp"`
	ID        string `json:"id,omitempty"`
}

// host -> guests: the final roster and track.
type StartGame struct {
	State engine.PartyState `json:"state"`
}

// host -> guests
type CountdownStart struct {
	Timestamp int64 `json:"timestamp"`
}

// host -> guests
type RaceStart struct {
	Timestamp int64 `json:"timestamp"`
}

// guest -> host
type CarUpdate struct {
	ID    string        `json:"id"`
	State race.CarState `json:"state"`
}

// host -> guests: the latest state of every car, keyed by player id.
type CarUpdateAll struct {
	Cars map[string]race.CarState `json:"cars"`
}

func (JoinRequest) Type() Type    { return TypeJoinRequest }
func (PartyState) Type() Type     { return TypePartyState }
func (PlayerJoined) Type() Type   { return TypePlayerJoined }
func (PlayerUpdate) Type() Type   { return TypePlayerUpdate }
func (PlayerLeft) Type() Type     { return TypePlayerLeft }
func (MapUpdate) Type() Type      { return TypeMapUpdate }
func (ReadyStatus) Type() Type    { return TypeReadyStatus }
func (Kicked) Type() Type         { return TypeKicked }
func (PartyEnded) Type() Type     { return TypePartyEnded }
func (Heartbeat) Type() Type      { return TypeHeartbeat }
func (StartGame) Type() Type      { return TypeStartGame }
func (CountdownStart) Type() Type { return TypeCountdownStart }
func (RaceStart) Type() Type      { return TypeRaceStart }
func (CarUpdate) Type() Type      { return TypeCarUpdate }
func (CarUpdateAll) Type() Type   { return TypeCarUpdateAll }

func (JoinRequest) isMessage()    {}
func (PartyState) isMessage()     {}
func (PlayerJoined) isMessage()   {}
func (PlayerUpdate) isMessage()   {}
func (PlayerLeft) isMessage()     {}
func (MapUpdate) isMessage()      {}
func (ReadyStatus) isMessage()    {}
func (Kicked) isMessage()         {}
func (PartyEnded) isMessage()     {}
func (Heartbeat) isMessage()      {}
func (StartGame) isMessage()      {}
func (CountdownStart) isMessage() {}
func (RaceStart) isMessage()      {}
func (CarUpdate) isMessage()      {}
func (CarUpdateAll) isMessage()   {}

type unmarshalFunc func(data []byte, v any) error

func decodeAs[T Message](unmarshal unmarshalFunc, data []byte) (Message, error) {
	var m T
	if err := unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

var decoders = map[Type]func(unmarshalFunc, []byte) (Message, error){
	TypeJoinRequest:    decodeAs[JoinRequest],
	TypePartyState:     decodeAs[PartyState],
	TypePlayerJoined:   decodeAs[PlayerJoined],
	TypePlayerUpdate:   decodeAs[PlayerUpdate],
	TypePlayerLeft:     decodeAs[PlayerLeft],
	TypeMapUpdate:      decodeAs[MapUpdate],
	TypeReadyStatus:    decodeAs[ReadyStatus],
	TypeKicked:         decodeAs[Kicked],
	TypePartyEnded:     decodeAs[PartyEnded],
	TypeHeartbeat:      decodeAs[Heartbeat],
	TypeStartGame:      decodeAs[StartGame],
	TypeCountdownStart: decodeAs[CountdownStart],
	TypeRaceStart:      decodeAs[RaceStart],
	TypeCarUpdate:      decodeAs[CarUpdate],
	TypeCarUpdateAll:   decodeAs[CarUpdateAll],
}
