package lobby

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/kart-party/internal/engine"
	"github.com/DoyleJ11/kart-party/internal/protocol"
	"github.com/DoyleJ11/kart-party/internal/race"
	"github.com/DoyleJ11/kart-party/internal/transport"
)

// Guest mirrors the host's roster and race.
type Guest struct {
	*core
	host string

	// ready is what we last asked for. Every party-state resyncs it.
	ready    bool
	joined   chan struct{}
	isJoined bool
}

var (
	_ protocol.Handler = (*Guest)(nil)
	_ Session          = (*Guest)(nil)
)

// JoinParty resolves code, connects to the host and waits for the first
// party-state. ctx bounds the whole session.
func JoinParty(ctx context.Context, d Deps, p Profile, code string) (*Guest, error) {
	d = d.withDefaults()
	if d.Endpoint == nil || d.Directory == nil {
		return nil, errors.New("lobby: endpoint and directory are required")
	}
	hostID, err := d.Directory.Lookup(ctx, code)
	if err != nil {
		return nil, err
	}
	if hostID == d.Endpoint.ID() {
		return nil, fmt.Errorf("%w: cannot join our own party", ErrCouldNotJoin)
	}

	ch, err := dialHost(ctx, d, hostID)
	if err != nil {
		return nil, err
	}

	p = p.normalize()
	g := &Guest{
		core:   newCore(ctx, d, engine.RoleGuest),
		host:   hostID,
		joined: make(chan struct{}),
	}
	g.code = strings.ToUpper(strings.TrimSpace(code))
	g.status = "Joining party " + g.code
	g.attach(ch)

	go g.run(g)
	go g.acceptLoop()

	err = g.do(ctx, func() error {
		return g.send(g.host, protocol.JoinRequest{ID: g.id, Name: p.Name, Color: p.Color})
	})
	if err != nil {
		g.Close()
		return nil, fmt.Errorf("%w: %w", ErrCouldNotJoin, err)
	}

	timeout := time.NewTimer(d.Config.JoinTimeout)
	defer timeout.Stop()
	select {
	case <-g.joined:
		g.log.Info("joined party", zap.String("host", hostID), zap.String("code", g.code))
		return g, nil
	case <-g.done:
		return nil, fmt.Errorf("%w: %s", ErrCouldNotJoin, g.outcome)
	case <-timeout.C:
		g.Close()
		return nil, fmt.Errorf("%w: no reply from host", ErrCouldNotJoin)
	case <-ctx.Done():
		g.Close()
		return nil, ctx.Err()
	}
}

// dialHost gives up at once when the host is unknown to the network and
// retries anything else.
func dialHost(ctx context.Context, d Deps, hostID string) (transport.Channel, error) {
	log := d.Logger.Named("lobby")
	var last error
	for attempt := 1; attempt <= d.Config.JoinAttempts; attempt++ {
		ch, err := d.Endpoint.Dial(ctx, hostID)
		if err == nil {
			return ch, nil
		}
		if errors.Is(err, transport.ErrPeerUnavailable) {
			return nil, fmt.Errorf("%w: %w", ErrPartyNotFound, err)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		last = err
		log.Debug("dial failed", zap.String("host", hostID), zap.Int("attempt", attempt), zap.Error(err))
		if attempt == d.Config.JoinAttempts {
			break
		}
		select {
		case <-time.After(d.Config.JoinRetryDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("%w: %w", ErrCouldNotJoin, last)
}

func (g *Guest) HostID() string { return g.host }

func (g *Guest) SetName(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		name = engine.DefaultName()
	}
	return g.sendUpdate(ctx, engine.Fields{Name: &name})
}

func (g *Guest) SetColor(ctx context.Context, color engine.Color) error {
	if !color.Valid() {
		return engine.ErrInvalidColor
	}
	return g.sendUpdate(ctx, engine.Fields{Color: &color})
}

func (g *Guest) sendUpdate(ctx context.Context, f engine.Fields) error {
	return g.do(ctx, func() error {
		if g.race.Phase() != race.PhaseLobby {
			return ErrWrongPhase
		}
		return g.send(g.host, protocol.PlayerUpdate{ID: g.id, Fields: f})
	})
}

// ToggleReady flips the ready flag we ask the host for. The roster only
// changes once the host echoes it back.
func (g *Guest) ToggleReady(ctx context.Context) error {
	return g.do(ctx, func() error {
		if g.race.Phase() != race.PhaseLobby {
			return ErrWrongPhase
		}
		g.ready = !g.ready
		return g.send(g.host, protocol.ReadyStatus{ID: g.id, Ready: g.ready})
	})
}

func (g *Guest) Leave(ctx context.Context) error {
	return g.do(ctx, func() error {
		g.leave()
		return nil
	})
}

func (g *Guest) Close() error {
	err := g.Leave(context.Background())
	if errors.Is(err, ErrSessionEnded) {
		return nil
	}
	return err
}

func (g *Guest) leave() {
	_ = g.send(g.host, protocol.PlayerLeft{ID: g.id})
	g.end(OutcomeLeft, "left party")
}

func (g *Guest) fromHost(from string, m protocol.Message) bool {
	if from != g.host {
		g.ignore(from, m)
		return false
	}
	return true
}

func (g *Guest) markJoined() {
	if !g.isJoined {
		g.isJoined = true
		close(g.joined)
	}
}

// role hooks

func (g *Guest) onAccept(ch transport.Channel) {
	g.log.Debug("refusing inbound connection", zap.String("peer", ch.PeerID()))
	refuse(ch)
}

func (g *Guest) onClosed(peer string) {
	if peer == g.host {
		g.end(OutcomeHostDisconnected, "host disconnected")
	}
}

func (g *Guest) onHeartbeat(now time.Time) {
	_ = g.send(g.host, protocol.Heartbeat{Timestamp: now.UnixMilli(), ID: g.id})
}

func (g *Guest) onRelay(now time.Time) {
	if !g.racing() || g.local == nil {
		return
	}
	_ = g.send(g.host, protocol.CarUpdate{ID: g.id, State: *g.local})
	g.complete(now)
}

func (g *Guest) onSweep(time.Time) {}

func (g *Guest) onStarted(time.Time) {}

func (g *Guest) onAbort() { g.leave() }

// protocol.Handler

// HandlePartyState replaces the roster. Arriving mid-race it means the host
// went back to the lobby.
func (g *Guest) HandlePartyState(from string, m protocol.PartyState) {
	if !g.fromHost(from, m) {
		return
	}
	if g.race.Phase() != race.PhaseLobby {
		g.resetRace()
	}
	g.party = m.State.Clone()
	if me, ok := g.party.Find(g.id); ok {
		g.ready = me.IsReady
	}
	g.status = "In party " + g.code
	g.markJoined()
}

func (g *Guest) HandlePlayerJoined(from string, m protocol.PlayerJoined) {
	if !g.fromHost(from, m) {
		return
	}
	p := m.Player
	_, next, err := engine.Apply(g.party, engine.Command{Type: engine.CmdJoin, PlayerID: p.ID, Name: p.Name, Color: p.Color})
	if err != nil {
		g.log.Debug("player-joined rejected", zap.String("player", p.ID), zap.Error(err))
		return
	}
	g.party = next
}

func (g *Guest) HandleMapUpdate(from string, m protocol.MapUpdate) {
	if !g.fromHost(from, m) {
		return
	}
	if _, next, err := engine.Apply(g.party, engine.Command{Type: engine.CmdSelectMap, MapID: m.MapID}); err == nil {
		g.party = next
	}
}

func (g *Guest) HandleKicked(from string, m protocol.Kicked) {
	if !g.fromHost(from, m) {
		return
	}
	reason := m.Reason
	if reason == "" {
		reason = "kicked by host"
	}
	g.end(OutcomeKicked, reason)
}

func (g *Guest) HandlePartyEnded(from string, m protocol.PartyEnded) {
	if !g.fromHost(from, m) {
		return
	}
	g.end(OutcomePartyEnded, "party ended by host")
}

func (g *Guest) HandleHeartbeat(string, protocol.Heartbeat) {}

func (g *Guest) HandleStartGame(from string, m protocol.StartGame) {
	if !g.fromHost(from, m) {
		return
	}
	g.party = m.State.Clone()
	if g.race.Wait() {
		g.status = "Waiting for players"
	}
}

func (g *Guest) HandleCountdownStart(from string, m protocol.CountdownStart) {
	if !g.fromHost(from, m) {
		return
	}
	if g.race.BeginCountdown() {
		g.status = ""
		g.startCountdown()
	}
}

// HandleRaceStart covers a countdown we missed or that drifted behind.
func (g *Guest) HandleRaceStart(from string, m protocol.RaceStart) {
	if !g.fromHost(from, m) {
		return
	}
	if g.race.ForceStart(g.now()) {
		g.stopCountdown()
		g.status = ""
		g.log.Info("race started by host")
	}
}

func (g *Guest) HandleCarUpdateAll(from string, m protocol.CarUpdateAll) {
	if !g.fromHost(from, m) || !g.racing() {
		return
	}
	now := g.now()
	for id, cs := range m.Cars {
		if id == g.id || g.party.Index(id) < 0 {
			continue
		}
		g.race.Record(id, cs, now)
	}
}

func (g *Guest) HandleJoinRequest(from string, m protocol.JoinRequest)   { g.ignore(from, m) }
func (g *Guest) HandlePlayerUpdate(from string, m protocol.PlayerUpdate) { g.ignore(from, m) }
func (g *Guest) HandlePlayerLeft(from string, m protocol.PlayerLeft)     { g.ignore(from, m) }
func (g *Guest) HandleReadyStatus(from string, m protocol.ReadyStatus)   { g.ignore(from, m) }
func (g *Guest) HandleCarUpdate(from string, m protocol.CarUpdate)       { g.ignore(from, m) }
