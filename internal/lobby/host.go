package lobby

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/kart-party/internal/engine"
	"github.com/DoyleJ11/kart-party/internal/protocol"
	"github.com/DoyleJ11/kart-party/internal/race"
	"github.com/DoyleJ11/kart-party/internal/ranking"
	"github.com/DoyleJ11/kart-party/internal/results"
	"github.com/DoyleJ11/kart-party/internal/transport"
)

const publishTimeout = 5 * time.Second

// Host owns the authoritative roster and relays race state between guests.
type Host struct {
	*core
	publisher results.Publisher
}

var (
	_ protocol.Handler = (*Host)(nil)
	_ Session          = (*Host)(nil)
)

// CreateParty registers the endpoint with the directory and starts hosting.
// Nothing is started if registration fails. ctx bounds the whole session.
func CreateParty(ctx context.Context, d Deps, p Profile) (*Host, error) {
	d = d.withDefaults()
	if d.Endpoint == nil || d.Directory == nil {
		return nil, errors.New("lobby: endpoint and directory are required")
	}
	reg, err := d.Directory.Create(ctx, d.Endpoint.ID())
	if err != nil {
		return nil, err
	}

	p = p.normalize()
	h := &Host{core: newCore(ctx, d, engine.RoleHost), publisher: d.Publisher}
	h.code = reg.Code
	h.party = engine.NewParty(engine.Player{ID: h.id, Name: p.Name, Color: p.Color}, p.MapID)
	h.status = "Hosting party " + reg.Code
	h.log.Info("party created", zap.String("code", reg.Code))

	go h.run(h)
	go h.acceptLoop()
	return h, nil
}

func (h *Host) Code() string { return h.code }

func (h *Host) Kick(ctx context.Context, peer string) error {
	return h.do(ctx, func() error {
		if peer == h.id {
			return ErrCannotKickSelf
		}
		ch, connected := h.conns[peer]
		if _, ok := h.party.Find(peer); !ok && !connected {
			return engine.ErrUnknownPlayer
		}
		if !connected {
			h.removePlayer(peer, "kicked")
			return nil
		}
		_ = h.send(peer, protocol.Kicked{Reason: "You were kicked by the host"})
		h.after(h.cfg.KickGrace, func() {
			if cur, ok := h.conns[peer]; ok && cur != ch {
				// Rejoined during the grace period.
				return
			}
			h.removePlayer(peer, "kicked")
		})
		return nil
	})
}

func (h *Host) SelectMap(ctx context.Context, mapID string) error {
	return h.do(ctx, func() error {
		if h.race.Phase() != race.PhaseLobby {
			return ErrWrongPhase
		}
		_, next, err := engine.Apply(h.party, engine.Command{Type: engine.CmdSelectMap, MapID: mapID})
		if err != nil {
			return err
		}
		h.party = next
		h.broadcast(protocol.MapUpdate{MapID: mapID}, "")
		return nil
	})
}

// UpdateSelf changes the host's own name or color.
func (h *Host) UpdateSelf(ctx context.Context, f engine.Fields) error {
	return h.do(ctx, func() error {
		if h.race.Phase() != race.PhaseLobby {
			return ErrWrongPhase
		}
		_, next, err := engine.Apply(h.party, engine.Command{Type: engine.CmdUpdate, PlayerID: h.id, Fields: f})
		if err != nil {
			return err
		}
		h.party = next
		h.broadcastParty()
		return nil
	})
}

// StartGame sends the final roster to every guest. A solo host goes straight
// to the countdown; otherwise the countdown begins once every guest is
// connected.
func (h *Host) StartGame(ctx context.Context) error {
	return h.do(ctx, func() error {
		if h.race.Phase() != race.PhaseLobby {
			return ErrWrongPhase
		}
		if !h.party.AllReady() {
			return ErrPlayersNotReady
		}
		h.broadcast(protocol.StartGame{State: h.party.Clone()}, "")
		if h.party.Size() == 1 {
			h.race.BeginCountdown()
			h.startCountdown()
			return nil
		}
		h.race.Wait()
		h.status = "Waiting for players"
		h.maybeCountdown(h.now())
		return nil
	})
}

// ReturnToLobby resets the race, prunes players who dropped out during it and
// clears ready flags.
func (h *Host) ReturnToLobby(ctx context.Context) error {
	return h.do(ctx, func() error {
		if h.race.Phase() == race.PhaseLobby {
			return nil
		}
		h.resetRace()
		for _, p := range slices.Clone(h.party.Players) {
			if p.ID == h.id {
				continue
			}
			if _, ok := h.conns[p.ID]; ok {
				continue
			}
			if _, next, err := engine.Apply(h.party, engine.Command{Type: engine.CmdRemove, PlayerID: p.ID}); err == nil {
				h.party = next
			}
		}
		if _, next, err := engine.Apply(h.party, engine.Command{Type: engine.CmdResetReady}); err == nil {
			h.party = next
		}
		h.status = "Hosting party " + h.code
		h.broadcastParty()
		return nil
	})
}

func (h *Host) Stop(ctx context.Context) error {
	return h.do(ctx, func() error {
		h.stop()
		return nil
	})
}

func (h *Host) Close() error {
	err := h.Stop(context.Background())
	if errors.Is(err, ErrSessionEnded) {
		return nil
	}
	return err
}

func (h *Host) stop() {
	for peer := range h.conns {
		_ = h.send(peer, protocol.PartyEnded{})
	}
	h.end(OutcomeStopped, "party closed")
}

func (h *Host) broadcastParty() {
	h.broadcast(protocol.PartyState{State: h.party.Clone()}, "")
}

// removePlayer drops a guest's connection. Outside a race the roster entry
// goes too; during one it stays until ReturnToLobby so results still list it.
func (h *Host) removePlayer(peer, reason string) {
	h.detach(peer)
	if h.racing() {
		h.log.Info("player dropped during race", zap.String("peer", peer), zap.String("reason", reason))
		return
	}
	_, next, err := engine.Apply(h.party, engine.Command{Type: engine.CmdRemove, PlayerID: peer})
	if err != nil {
		return
	}
	h.party = next
	h.log.Info("player removed", zap.String("peer", peer), zap.String("reason", reason))
	if h.race.Phase() == race.PhaseWaiting {
		// Guests treat party-state as a return to the lobby.
		h.broadcast(protocol.StartGame{State: h.party.Clone()}, "")
	} else {
		h.broadcastParty()
	}
	h.maybeCountdown(h.now())
}

// maybeCountdown starts the countdown once every roster member is connected.
func (h *Host) maybeCountdown(now time.Time) {
	if h.race.Phase() != race.PhaseWaiting {
		return
	}
	connected := 0
	for _, p := range h.party.Players {
		if _, ok := h.conns[p.ID]; ok && p.ID != h.id {
			connected++
		}
	}
	if connected+1 != h.party.Size() {
		return
	}
	h.race.BeginCountdown()
	h.status = ""
	h.broadcast(protocol.CountdownStart{Timestamp: now.UnixMilli()}, "")
	h.after(h.cfg.CountdownLead, h.startCountdown)
}

func (h *Host) update(peer string, f engine.Fields) {
	if h.race.Phase() != race.PhaseLobby {
		h.log.Debug("update outside lobby", zap.String("peer", peer))
		return
	}
	_, next, err := engine.Apply(h.party, engine.Command{Type: engine.CmdUpdate, PlayerID: peer, Fields: f})
	if err != nil {
		h.log.Debug("update rejected", zap.String("peer", peer), zap.Error(err))
		return
	}
	h.party = next
	h.broadcastParty()
}

func (h *Host) publishResults(now time.Time) {
	if h.publisher == nil {
		return
	}
	final := ranking.Final(ranking.Collect(h.party, h.race.Snapshot(now), h.id, now, h.cfg.VisibleWindow))
	report := results.Build(h.id, h.party.SelectedMap, final, now)
	pub, log := h.publisher, h.log
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := pub.Publish(ctx, report); err != nil {
			log.Warn("publishing results failed", zap.Error(err))
		}
	}()
}

// role hooks

func (h *Host) onAccept(ch transport.Channel) {
	if h.race.Phase() != race.PhaseLobby {
		h.log.Info("refusing connection during race", zap.String("peer", ch.PeerID()))
		refuse(ch)
		return
	}
	if old, ok := h.conns[ch.PeerID()]; ok {
		_ = old.Close()
	}
	h.attach(ch)
}

func (h *Host) onClosed(peer string) {
	h.removePlayer(peer, "disconnected")
}

func (h *Host) onHeartbeat(now time.Time) {
	h.broadcast(protocol.Heartbeat{Timestamp: now.UnixMilli(), ID: h.id}, "")
	h.maybeCountdown(now)
}

func (h *Host) onSweep(now time.Time) {
	for _, peer := range h.seen.Expired(now, h.cfg.LivenessTimeout) {
		h.removePlayer(peer, "timed out")
	}
}

func (h *Host) onRelay(now time.Time) {
	if !h.racing() {
		return
	}
	if table := h.race.ActiveTable(now, h.cfg.InactivityWindow); len(table) > 0 {
		h.broadcast(protocol.CarUpdateAll{Cars: table}, "")
	}
	if h.complete(now) {
		h.publishResults(now)
	}
}

func (h *Host) onStarted(now time.Time) {
	h.broadcast(protocol.RaceStart{Timestamp: now.UnixMilli()}, "")
}

func (h *Host) onAbort() { h.stop() }

// protocol.Handler

func (h *Host) HandleJoinRequest(from string, m protocol.JoinRequest) {
	if h.race.Phase() != race.PhaseLobby {
		h.ignore(from, m)
		h.detach(from)
		return
	}
	if m.ID != "" && m.ID != from {
		h.log.Debug("join id does not match channel", zap.String("peer", from), zap.String("claimed", m.ID))
	}
	name := strings.TrimSpace(m.Name)
	if name == "" {
		name = engine.DefaultName()
	}
	color := m.Color
	if !color.Valid() {
		color = engine.ColorRed
	}

	events, next, err := engine.Apply(h.party, engine.Command{Type: engine.CmdJoin, PlayerID: from, Name: name, Color: color})
	if err != nil {
		h.log.Info("join refused", zap.String("peer", from), zap.Error(err))
		h.detach(from)
		return
	}
	h.party = next
	ev := events[0]
	h.log.Info("player joined",
		zap.String("peer", from),
		zap.String("name", ev.Player.Name),
		zap.Bool("rejoin", ev.Type == engine.EvtPlayerRejoined),
	)
	_ = h.send(from, protocol.PartyState{State: h.party.Clone()})
	h.broadcast(protocol.PlayerJoined{Player: ev.Player}, from)
}

func (h *Host) HandlePlayerUpdate(from string, m protocol.PlayerUpdate) {
	h.update(from, m.Fields)
}

func (h *Host) HandleReadyStatus(from string, m protocol.ReadyStatus) {
	ready := m.Ready
	h.update(from, engine.Fields{Ready: &ready})
}

func (h *Host) HandlePlayerLeft(from string, _ protocol.PlayerLeft) {
	h.removePlayer(from, "left")
}

func (h *Host) HandleHeartbeat(string, protocol.Heartbeat) {}

func (h *Host) HandleCarUpdate(from string, m protocol.CarUpdate) {
	if !h.racing() || h.party.Index(from) < 0 {
		h.ignore(from, m)
		return
	}
	if h.race.Record(from, m.State, h.now()) {
		ft, _ := h.race.FinishTime(from)
		h.log.Info("player finished", zap.String("peer", from), zap.String("time", ranking.FormatTime(ft)))
	}
}

func (h *Host) HandlePartyState(from string, m protocol.PartyState)         { h.ignore(from, m) }
func (h *Host) HandlePlayerJoined(from string, m protocol.PlayerJoined)     { h.ignore(from, m) }
func (h *Host) HandleMapUpdate(from string, m protocol.MapUpdate)           { h.ignore(from, m) }
func (h *Host) HandleKicked(from string, m protocol.Kicked)                 { h.ignore(from, m) }
func (h *Host) HandlePartyEnded(from string, m protocol.PartyEnded)         { h.ignore(from, m) }
func (h *Host) HandleStartGame(from string, m protocol.StartGame)           { h.ignore(from, m) }
func (h *Host) HandleCountdownStart(from string, m protocol.CountdownStart) { h.ignore(from, m) }
func (h *Host) HandleRaceStart(from string, m protocol.RaceStart)           { h.ignore(from, m) }
func (h *Host) HandleCarUpdateAll(from string, m protocol.CarUpdateAll)     { h.ignore(from, m) }
