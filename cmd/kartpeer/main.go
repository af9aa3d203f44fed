// Command kartpeer is a headless party member: it hosts or joins a party,
// takes commands on stdin and lets a bot drive during races.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/DoyleJ11/kart-party/internal/config"
	"github.com/DoyleJ11/kart-party/internal/directory"
	"github.com/DoyleJ11/kart-party/internal/engine"
	"github.com/DoyleJ11/kart-party/internal/identity"
	"github.com/DoyleJ11/kart-party/internal/lobby"
	"github.com/DoyleJ11/kart-party/internal/logx"
	"github.com/DoyleJ11/kart-party/internal/protocol"
	"github.com/DoyleJ11/kart-party/internal/results"
	"github.com/DoyleJ11/kart-party/internal/transport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [-map ID] host | join CODE\n", os.Args[0])
	flag.PrintDefaults()
}

func run() (err error) {
	mapID := flag.String("map", "canyon", "track to select when hosting")
	flag.Usage = usage
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 || (args[0] == "join" && len(args) != 2) || (args[0] != "host" && args[0] != "join") {
		usage()
		return errors.New("expected host or join CODE")
	}

	cfg, err := config.LoadPeer()
	if err != nil {
		return err
	}
	log, err := logx.New(cfg.Log.Level, cfg.Log.Dev)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	id, err := identity.Load(cfg.IdentityFile)
	if err != nil {
		return err
	}
	color, err := engine.ParseColor(cfg.Color)
	if err != nil {
		return err
	}
	codec, err := protocol.CodecByName(cfg.Codec)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ep, err := openEndpoint(ctx, cfg, id, codec, log)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, ep.Close()) }()

	pub, closePub := openPublisher(cfg, log)
	defer func() { err = multierr.Append(err, closePub()) }()

	deps := lobby.Deps{
		Endpoint:  ep,
		Directory: directory.NewClient(cfg.DirectoryURL, nil),
		Publisher: pub,
		Logger:    log,
	}
	profile := lobby.Profile{Name: cfg.Name, Color: color, MapID: *mapID}

	p := &peer{log: log, out: os.Stdout}
	switch args[0] {
	case "host":
		h, err := lobby.CreateParty(ctx, deps, profile)
		if err != nil {
			return err
		}
		p.session, p.host = h, h
		fmt.Fprintf(p.out, "party code: %s\n", h.Code())
	case "join":
		g, err := lobby.JoinParty(ctx, deps, profile, args[1])
		if err != nil {
			return err
		}
		p.session, p.guest = g, g
		fmt.Fprintf(p.out, "joined party %s\n", args[1])
	}
	defer p.session.Close()

	return p.loop(ctx, readLines(os.Stdin))
}

// endpoint bundles a WebRTC endpoint with the relay it signals through.
type endpoint struct {
	transport.Endpoint
	relay *transport.RelayEndpoint
}

func (e endpoint) Close() error {
	if e.Endpoint == transport.Endpoint(e.relay) {
		return e.relay.Close()
	}
	return multierr.Append(e.Endpoint.Close(), e.relay.Close())
}

func openEndpoint(ctx context.Context, cfg config.Peer, id string, codec protocol.Codec, log *zap.Logger) (endpoint, error) {
	relay, err := transport.DialRelay(ctx, cfg.RelayURL, id, codec, log)
	if err != nil {
		return endpoint{}, err
	}
	if cfg.Transport == config.TransportWebRTC {
		return endpoint{Endpoint: transport.NewWebRTCEndpoint(id, relay, cfg.STUNURLs, codec, log), relay: relay}, nil
	}
	return endpoint{Endpoint: relay, relay: relay}, nil
}

func openPublisher(cfg config.Peer, log *zap.Logger) (results.Publisher, func() error) {
	if cfg.RedisAddr == "" {
		return results.NewLogPublisher(log), func() error { return nil }
	}
	broker := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	return results.NewRedisPublisher(broker, cfg.ResultsChannel, log), broker.Close
}

func readLines(r io.Reader) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			out <- sc.Text()
		}
	}()
	return out
}
