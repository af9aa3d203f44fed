package lobby

import (
	"context"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/kart-party/internal/engine"
	"github.com/DoyleJ11/kart-party/internal/liveness"
	"github.com/DoyleJ11/kart-party/internal/protocol"
	"github.com/DoyleJ11/kart-party/internal/race"
	"github.com/DoyleJ11/kart-party/internal/ranking"
	"github.com/DoyleJ11/kart-party/internal/transport"
)

type Msg interface{ isSessionMsg() }

// inbound is one event read off a peer channel by its pump.
type inbound struct {
	ch transport.Channel
	ev transport.Event
}

func (inbound) isSessionMsg() {}

type accepted struct {
	ch transport.Channel
}

func (accepted) isSessionMsg() {}

// request runs fn on the session goroutine.
type request struct {
	fn    func() error
	reply chan error
}

func (request) isSessionMsg() {}

type getView struct {
	reply chan View
}

func (getView) isSessionMsg() {}

type progress struct {
	state race.CarState
}

func (progress) isSessionMsg() {}

// role is the part of a session that differs between host and guest.
type role interface {
	protocol.Handler
	onAccept(ch transport.Channel)
	onClosed(peer string)
	onHeartbeat(now time.Time)
	onRelay(now time.Time)
	onSweep(now time.Time)
	onStarted(now time.Time)
	onAbort()
}

// core is the GameSession aggregate: roster, race state, connection table and
// liveness, all owned by the run goroutine. Everything else talks to it
// through the inbox.
type core struct {
	id   string
	kind engine.Role
	cfg  Config
	ep   transport.Endpoint
	log  *zap.Logger
	now  func() time.Time

	inbox   chan Msg
	updates chan View
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}

	party      engine.PartyState
	race       *race.State
	conns      map[string]transport.Channel
	seen       *liveness.Tracker
	countdown  *time.Ticker
	timers     map[*time.Timer]struct{}
	local      *race.CarState
	spectating string
	code       string
	status     string
	outcome    Outcome
	ended      bool
}

func newCore(parent context.Context, d Deps, kind engine.Role) *core {
	ctx, cancel := context.WithCancel(parent)
	id := d.Endpoint.ID()
	return &core{
		id:      id,
		kind:    kind,
		cfg:     d.Config,
		ep:      d.Endpoint,
		log:     d.Logger.Named("lobby").With(zap.String("self", id), zap.String("role", string(kind))),
		now:     d.Clock,
		inbox:   make(chan Msg, 64), // Small buffer
		updates: make(chan View, 1),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		race:    race.New(id, d.Config.TotalGates),
		conns:   make(map[string]transport.Channel),
		seen:    liveness.NewTracker(),
		timers:  make(map[*time.Timer]struct{}),
	}
}

func (c *core) run(r role) {
	defer close(c.done)
	defer close(c.updates)

	heartbeat := time.NewTicker(c.cfg.HeartbeatInterval)
	defer heartbeat.Stop()
	relay := time.NewTicker(c.cfg.RelayInterval)
	defer relay.Stop()
	var sweepC <-chan time.Time
	if c.kind == engine.RoleHost {
		sweep := time.NewTicker(c.cfg.SweepInterval)
		defer sweep.Stop()
		sweepC = sweep.C
	}

	c.publish()
	for !c.ended {
		var countdownC <-chan time.Time
		if c.countdown != nil {
			countdownC = c.countdown.C
		}

		select {
		case <-c.ctx.Done():
			r.onAbort()
			c.end(OutcomeStopped, "session closed")
			c.publish()

		case m := <-c.inbox:
			c.handle(r, m)
			c.publish()

		case <-heartbeat.C:
			r.onHeartbeat(c.now())
			c.publish()

		case <-sweepC:
			r.onSweep(c.now())
			c.publish()

		case <-countdownC:
			c.tickCountdown(r)
			c.publish()

		case <-relay.C:
			r.onRelay(c.now())
			if c.race.Phase() != race.PhaseLobby {
				c.publish()
			}
		}
	}
}

func (c *core) handle(r role, m Msg) {
	switch msg := m.(type) {
	case inbound:
		c.inbound(r, msg)

	case accepted:
		r.onAccept(msg.ch)

	case request:
		msg.reply <- msg.fn()

	case getView:
		msg.reply <- c.view()

	case progress:
		c.report(msg.state)
	}
}

func (c *core) inbound(r role, m inbound) {
	peer := m.ch.PeerID()
	if c.conns[peer] != m.ch {
		// A replaced or already dropped channel.
		return
	}
	switch m.ev.Kind {
	case transport.EventMessage:
		c.seen.Touch(peer, c.now())
		if err := protocol.Dispatch(peer, m.ev.Message, r); err != nil {
			c.log.Debug("dropping message", zap.String("peer", peer), zap.Error(err))
		}
	case transport.EventError:
		c.log.Debug("channel error", zap.String("peer", peer), zap.Error(m.ev.Err))
	case transport.EventClosed:
		delete(c.conns, peer)
		c.seen.Forget(peer)
		r.onClosed(peer)
	}
}

// post delivers m unless ctx or the session is done first.
func (c *core) post(ctx context.Context, m Msg) error {
	select {
	case c.inbox <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrSessionEnded
	}
}

// do runs fn on the session goroutine and waits for its result.
func (c *core) do(ctx context.Context, fn func() error) error {
	reply := make(chan error, 1)
	if err := c.post(ctx, request{fn: fn, reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		select {
		case err := <-reply:
			return err
		default:
			return ErrSessionEnded
		}
	}
}

// after runs fn on the session goroutine once d has passed. Pending timers
// are stopped when the session ends.
func (c *core) after(d time.Duration, fn func()) {
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		_ = c.post(c.ctx, request{reply: make(chan error, 1), fn: func() error {
			delete(c.timers, t)
			fn()
			return nil
		}})
	})
	c.timers[t] = struct{}{}
}

func (c *core) ID() string { return c.id }

func (c *core) Role() engine.Role { return c.kind }

func (c *core) Done() <-chan struct{} { return c.done }

func (c *core) Updates() <-chan View { return c.updates }

func (c *core) Outcome() Outcome {
	select {
	case <-c.done:
		return c.outcome
	default:
		return OutcomeNone
	}
}

func (c *core) View(ctx context.Context) (View, error) {
	reply := make(chan View, 1)
	if err := c.post(ctx, getView{reply: reply}); err != nil {
		return View{}, err
	}
	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		return View{}, ctx.Err()
	case <-c.done:
		return View{}, ErrSessionEnded
	}
}

// ReportProgress does not wait for the session to apply the report.
func (c *core) ReportProgress(ctx context.Context, cs race.CarState) error {
	return c.post(ctx, progress{state: cs})
}

func (c *core) Spectate(ctx context.Context, dir int) error {
	return c.do(ctx, func() error {
		if !c.race.LocalFinished() {
			return ErrWrongPhase
		}
		ids := ranking.Spectatable(c.view().Standings)
		if len(ids) == 0 {
			c.spectating = ""
			return nil
		}
		cur := slices.Index(ids, c.spectating)
		if cur < 0 {
			c.spectating = ids[0]
			return nil
		}
		c.spectating = ids[ranking.NextSpectated(cur, dir, len(ids))]
		return nil
	})
}

func (c *core) acceptLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case ch, ok := <-c.ep.Incoming():
			if !ok {
				return
			}
			if c.post(c.ctx, accepted{ch: ch}) != nil {
				refuse(ch)
				return
			}
		}
	}
}

// pump forwards a channel's events into the inbox. It keeps draining after
// the session ends so the channel can finish closing.
func (c *core) pump(ch transport.Channel) {
	for ev := range ch.Events() {
		if c.post(c.ctx, inbound{ch: ch, ev: ev}) != nil {
			break
		}
	}
	for range ch.Events() {
	}
}

func refuse(ch transport.Channel) {
	_ = ch.Close()
	go func() {
		for range ch.Events() {
		}
	}()
}

func (c *core) attach(ch transport.Channel) {
	c.conns[ch.PeerID()] = ch
	c.seen.Touch(ch.PeerID(), c.now())
	go c.pump(ch)
}

func (c *core) detach(peer string) {
	ch, ok := c.conns[peer]
	if !ok {
		return
	}
	delete(c.conns, peer)
	c.seen.Forget(peer)
	_ = ch.Close()
}

func (c *core) send(peer string, m protocol.Message) error {
	ch, ok := c.conns[peer]
	if !ok {
		return transport.ErrClosed
	}
	if err := ch.Send(m); err != nil {
		c.log.Debug("send failed", zap.String("peer", peer), zap.String("type", string(m.Type())), zap.Error(err))
		return err
	}
	return nil
}

// broadcast sends m to every connected roster member except one.
func (c *core) broadcast(m protocol.Message, except string) {
	for _, p := range c.party.Players {
		if p.ID == c.id || p.ID == except {
			continue
		}
		if _, ok := c.conns[p.ID]; ok {
			_ = c.send(p.ID, m)
		}
	}
}

func (c *core) ignore(from string, m protocol.Message) {
	c.log.Debug("ignoring message",
		zap.String("peer", from),
		zap.String("type", string(m.Type())),
		zap.Stringer("phase", c.race.Phase()),
	)
}

func (c *core) racing() bool {
	switch c.race.Phase() {
	case race.PhaseCountdown, race.PhaseRacing, race.PhaseFinished:
		return true
	}
	return false
}

func (c *core) startCountdown() {
	if c.race.Phase() != race.PhaseCountdown {
		return
	}
	c.stopCountdown()
	c.countdown = time.NewTicker(c.cfg.CountdownStep)
}

func (c *core) stopCountdown() {
	if c.countdown != nil {
		c.countdown.Stop()
		c.countdown = nil
	}
}

func (c *core) tickCountdown(r role) {
	if c.race.Phase() != race.PhaseCountdown {
		c.stopCountdown()
		return
	}
	now := c.now()
	if _, started := c.race.TickCountdown(now); started {
		c.stopCountdown()
		c.log.Info("race started")
		r.onStarted(now)
	}
}

func (c *core) report(cs race.CarState) {
	if !c.racing() {
		return
	}
	out := c.race.RecordLocal(cs, c.now())
	c.local = &out
}

// complete finishes the race once every active player has a finish time.
func (c *core) complete(now time.Time) bool {
	if c.race.Phase() != race.PhaseRacing {
		return false
	}
	if !c.race.AllFinished(now, c.cfg.InactivityWindow, c.party.IDs()) {
		return false
	}
	c.race.Complete(now)
	c.log.Info("race finished", zap.Int("finishers", len(c.race.Finishers())))
	return true
}

func (c *core) resetRace() {
	c.stopCountdown()
	c.race.Reset()
	c.local = nil
	c.spectating = ""
}

// end tears the session down: channels closed, timers stopped, roster and
// race state cleared.
func (c *core) end(o Outcome, status string) {
	if c.ended {
		return
	}
	c.ended = true
	c.outcome = o
	c.status = status

	for t := range c.timers {
		t.Stop()
	}
	clear(c.timers)
	for peer, ch := range c.conns {
		_ = ch.Close()
		delete(c.conns, peer)
	}
	c.seen.Reset()
	c.resetRace()
	c.party = engine.PartyState{}

	c.log.Info("session ended", zap.Stringer("outcome", o), zap.String("status", status))
	c.cancel()
}

func (c *core) view() View {
	now := c.now()
	snap := c.race.Snapshot(now)
	v := View{
		Self:       c.id,
		Role:       c.kind,
		Code:       c.code,
		Party:      c.party.Clone(),
		Race:       snap,
		Connected:  len(c.conns),
		Spectating: c.spectating,
		Status:     c.status,
		Outcome:    c.outcome,
	}
	if snap.Phase >= race.PhaseCountdown {
		entries := ranking.Collect(c.party, snap, c.id, now, c.cfg.VisibleWindow)
		v.Standings = ranking.Live(entries)
		if snap.Phase == race.PhaseFinished {
			v.Results = ranking.Final(entries)
		}
	}
	return v
}

// publish replaces any unread view with the current one. Only the run
// goroutine sends, so the send never blocks.
func (c *core) publish() {
	v := c.view()
	select {
	case <-c.updates:
	default:
	}
	c.updates <- v
}
