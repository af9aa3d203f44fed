package hub

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/DoyleJ11/kart-party/internal/types"
)

var ErrPeerTaken = errors.New("peer id already connected")
var ErrHubClosed = errors.New("hub closed")

type HubMsg interface{ isHubMsg() }

// Register claims a peer id. Outbox receives every frame routed to it and
// is closed by the hub when the peer is dropped.
type Register struct {
	PeerID string
	Outbox chan types.Frame
	Reply  chan error
}

// Unregister only removes the registration that owns Outbox.
type Unregister struct {
	PeerID string
	Outbox chan types.Frame
}

type Route struct {
	Frame types.Frame
}

type Stats struct {
	Peers int
	Links int
}

type GetStats struct {
	Reply chan Stats
}

type ShutdownHub struct{}

func (Register) isHubMsg()    {}
func (Unregister) isHubMsg()  {}
func (Route) isHubMsg()       {}
func (GetStats) isHubMsg()    {}
func (ShutdownHub) isHubMsg() {}

// Hub routes relay frames between connected peers. It remembers which peers
// have opened channels to each other so a disconnect can be fanned out as
// close frames.
type Hub struct {
	inbox  chan HubMsg
	peers  map[string]chan types.Frame
	links  map[string]map[string]struct{}
	log    *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

func NewHub(parent context.Context, log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:  make(chan HubMsg, 256),
		peers:  make(map[string]chan types.Frame),
		links:  make(map[string]map[string]struct{}),
		log:    log.Named("hub"),
		ctx:    ctx,
		cancel: cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

// Send delivers m unless ctx or the hub is done first.
func (h *Hub) Send(ctx context.Context, m HubMsg) error {
	select {
	case h.inbox <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-h.ctx.Done():
		return ErrHubClosed
	}
}

func (h *Hub) Done() <-chan struct{} { return h.ctx.Done() }

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case Register:
				if _, ok := h.peers[msg.PeerID]; ok {
					msg.Reply <- ErrPeerTaken
					break
				}
				h.peers[msg.PeerID] = msg.Outbox
				h.log.Debug("peer registered", zap.String("peer", msg.PeerID))
				msg.Reply <- nil

			case Unregister:
				if out, ok := h.peers[msg.PeerID]; ok && out == msg.Outbox {
					h.drop(msg.PeerID)
				}

			case Route:
				h.route(msg.Frame)

			case GetStats:
				links := 0
				for _, set := range h.links {
					links += len(set)
				}
				msg.Reply <- Stats{Peers: len(h.peers), Links: links / 2}

			case ShutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

func (h *Hub) route(f types.Frame) {
	if _, ok := h.peers[f.To]; !ok {
		// Tell the sender, but never answer an error or close with another error.
		if f.Kind != types.FrameError && f.Kind != types.FrameClose {
			h.send(f.From, types.Frame{Kind: types.FrameError, From: f.To, Error: types.ErrUnavailable})
		}
		return
	}

	switch f.Kind {
	case types.FrameOpen, types.FrameAccept:
		h.link(f.From, f.To)
	case types.FrameClose:
		h.unlink(f.From, f.To)
	}
	h.send(f.To, f)
}

func (h *Hub) send(id string, f types.Frame) {
	out, ok := h.peers[id]
	if !ok {
		return
	}
	select {
	case out <- f:
	default:
		// Peer is slow/full - drop it.
		h.log.Warn("dropping slow peer", zap.String("peer", id))
		h.drop(id)
	}
}

func (h *Hub) link(a, b string) {
	for _, pair := range [][2]string{{a, b}, {b, a}} {
		set, ok := h.links[pair[0]]
		if !ok {
			set = make(map[string]struct{})
			h.links[pair[0]] = set
		}
		set[pair[1]] = struct{}{}
	}
}

func (h *Hub) unlink(a, b string) {
	delete(h.links[a], b)
	delete(h.links[b], a)
}

func (h *Hub) drop(id string) {
	out, ok := h.peers[id]
	if !ok {
		return
	}
	delete(h.peers, id)
	close(out)

	linked := h.links[id]
	delete(h.links, id)
	for peer := range linked {
		delete(h.links[peer], id)
		h.send(peer, types.Frame{Kind: types.FrameClose, From: id})
	}
	h.log.Debug("peer dropped", zap.String("peer", id), zap.Int("links", len(linked)))
}

func (h *Hub) shutdown() {
	for id, out := range h.peers {
		close(out)
		delete(h.peers, id)
	}
	clear(h.links)
	h.cancel()
}
