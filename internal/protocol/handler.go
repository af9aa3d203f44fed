package protocol

import "fmt"

// Handler has one method per message type. Session roles implement all of
// it, so a new message type does not compile until every role handles it.
type Handler interface {
	HandleJoinRequest(from string, m JoinRequest)
	HandlePartyState(from string, m PartyState)
	HandlePlayerJoined(from string, m PlayerJoined)
	HandlePlayerUpdate(from string, m PlayerUpdate)
	HandlePlayerLeft(from string, m PlayerLeft)
	HandleMapUpdate(from string, m MapUpdate)
	HandleReadyStatus(from string, m ReadyStatus)
	HandleKicked(from string, m Kicked)
	HandlePartyEnded(from string, m PartyEnded)
	HandleHeartbeat(from string, m Heartbeat)
	HandleStartGame(from string, m StartGame)
	HandleCountdownStart(from string, m CountdownStart)
	HandleRaceStart(from string, m RaceStart)
	HandleCarUpdate(from string, m CarUpdate)
	HandleCarUpdateAll(from string, m CarUpdateAll)
}

// Dispatch routes a decoded message to the matching Handler method.
func Dispatch(from string, msg Message, h Handler) error {
	switch m := msg.(type) {
	case JoinRequest:
		h.HandleJoinRequest(from, m)
	case PartyState:
		h.HandlePartyState(from, m)
	case PlayerJoined:
		h.HandlePlayerJoined(from, m)
	case PlayerUpdate:
		h.HandlePlayerUpdate(from, m)
	case PlayerLeft:
		h.HandlePlayerLeft(from, m)
	case MapUpdate:
		h.HandleMapUpdate(from, m)
	case ReadyStatus:
		h.HandleReadyStatus(from, m)
	case Kicked:
		h.HandleKicked(from, m)
	case PartyEnded:
		h.HandlePartyEnded(from, m)
	case Heartbeat:
		h.HandleHeartbeat(from, m)
	case StartGame:
		h.HandleStartGame(from, m)
	case CountdownStart:
		h.HandleCountdownStart(from, m)
	case RaceStart:
		h.HandleRaceStart(from, m)
	case CarUpdate:
		h.HandleCarUpdate(from, m)
	case CarUpdateAll:
		h.HandleCarUpdateAll(from, m)
	default:
		return fmt.Errorf("%w: %T", ErrUnknownType, msg)
	}
	return nil
}
