package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/DoyleJ11/kart-party/internal/bot"
	"github.com/DoyleJ11/kart-party/internal/engine"
	"github.com/DoyleJ11/kart-party/internal/lobby"
	"github.com/DoyleJ11/kart-party/internal/race"
	"github.com/DoyleJ11/kart-party/internal/ranking"
)

const courseRadius = 150.0

var (
	errQuit      = errors.New("quit")
	errHostOnly  = errors.New("only the host can do that")
	errGuestOnly = errors.New("only guests can do that")
)

type peer struct {
	session lobby.Session
	host    *lobby.Host
	guest   *lobby.Guest
	log     *zap.Logger
	out     io.Writer

	last    lobby.View
	stopBot context.CancelFunc
}

func (p *peer) loop(ctx context.Context, lines <-chan string) error {
	defer p.haltBot()
	updates := p.session.Updates()
	for {
		select {
		case <-ctx.Done():
			return nil

		case v, ok := <-updates:
			if !ok {
				fmt.Fprintf(p.out, "session ended: %s\n", p.session.Outcome())
				return nil
			}
			p.show(ctx, v)

		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			err := p.exec(ctx, line)
			switch {
			case errors.Is(err, errQuit):
				return nil
			case err != nil:
				fmt.Fprintf(p.out, "error: %v\n", err)
			}
		}
	}
}

func (p *peer) exec(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	if cmd == "" {
		return nil
	}

	switch cmd {
	case "ready":
		if p.guest == nil {
			return errGuestOnly
		}
		return p.guest.ToggleReady(ctx)

	case "name":
		if p.host != nil {
			return p.host.UpdateSelf(ctx, engine.Fields{Name: &arg})
		}
		return p.guest.SetName(ctx, arg)

	case "color":
		c, err := engine.ParseColor(strings.ToLower(arg))
		if err != nil {
			return err
		}
		if p.host != nil {
			return p.host.UpdateSelf(ctx, engine.Fields{Color: &c})
		}
		return p.guest.SetColor(ctx, c)

	case "map":
		if p.host == nil {
			return errHostOnly
		}
		return p.host.SelectMap(ctx, arg)

	case "kick":
		if p.host == nil {
			return errHostOnly
		}
		return p.host.Kick(ctx, arg)

	case "start":
		if p.host == nil {
			return errHostOnly
		}
		return p.host.StartGame(ctx)

	case "lobby":
		if p.host == nil {
			return errHostOnly
		}
		return p.host.ReturnToLobby(ctx)

	case "spectate":
		dir, err := strconv.Atoi(arg)
		if err != nil {
			return errors.New("spectate wants +1 or -1")
		}
		return p.session.Spectate(ctx, dir)

	case "roster":
		p.printRoster(p.last)
		return nil

	case "leave", "quit":
		if err := p.session.Close(); err != nil {
			return err
		}
		return errQuit

	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// show prints what changed since the previous view and starts or stops the
// bot driver with the race.
func (p *peer) show(ctx context.Context, v lobby.View) {
	prev := p.last
	p.last = v

	if !v.Party.Equal(prev.Party) {
		p.printRoster(v)
	}
	if v.Status != "" && v.Status != prev.Status {
		fmt.Fprintln(p.out, v.Status)
	}

	phase := v.Race.Phase
	if phase == race.PhaseCountdown && v.Race.Countdown != prev.Race.Countdown {
		fmt.Fprintln(p.out, race.CountdownLabel(v.Race.Countdown))
	}
	if phase == prev.Race.Phase {
		return
	}
	p.log.Debug("phase changed", zap.Stringer("from", prev.Race.Phase), zap.Stringer("to", phase))

	switch phase {
	case race.PhaseRacing:
		fmt.Fprintln(p.out, race.CountdownLabel(race.CountdownGo))
		p.startBot(ctx, v.Race.TotalGates)
	case race.PhaseFinished:
		p.haltBot()
		fmt.Fprintln(p.out, "race finished")
		for _, s := range ranking.Podium(v.Results, 3) {
			fmt.Fprintf(p.out, "  %s  %-16s %s\n", ranking.PositionLabel(s.Position), s.Name, ranking.FormatTime(s.FinishTime))
		}
	case race.PhaseLobby:
		p.haltBot()
	}
}

func (p *peer) startBot(ctx context.Context, gates int) {
	p.haltBot()
	bctx, cancel := context.WithCancel(ctx)
	p.stopBot = cancel
	d := bot.NewDriver(race.Loop(gates, courseRadius), bot.DefaultSpeed)
	go func() {
		if err := bot.Run(bctx, p.session, d, bot.DefaultRate); err != nil && !errors.Is(err, context.Canceled) {
			p.log.Debug("bot stopped", zap.Error(err))
		}
	}()
}

func (p *peer) haltBot() {
	if p.stopBot != nil {
		p.stopBot()
		p.stopBot = nil
	}
}

func (p *peer) printRoster(v lobby.View) {
	fmt.Fprintf(p.out, "party %s, track %s\n", v.Code, v.Party.SelectedMap)
	for _, pl := range v.Party.Players {
		tag := ""
		switch {
		case pl.IsHost:
			tag = " (host)"
		case pl.IsReady:
			tag = " (ready)"
		}
		me := ""
		if pl.ID == v.Self {
			me = " *"
		}
		fmt.Fprintf(p.out, "  %-16s %-7s %s%s%s\n", pl.Name, pl.Color, pl.ID, tag, me)
	}
}
