package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/multierr"

	"github.com/DoyleJ11/kart-party/internal/protocol"
)

const incomingBacklog = 16

// MemoryNetwork connects endpoints inside one process. Every message is
// encoded and decoded with the network's codec, so both sides own their copy.
type MemoryNetwork struct {
	mu        sync.Mutex
	codec     protocol.Codec
	endpoints map[string]*MemoryEndpoint
}

func NewMemoryNetwork(codec protocol.Codec) *MemoryNetwork {
	if codec == nil {
		codec = protocol.JSONCodec{}
	}
	return &MemoryNetwork{codec: codec, endpoints: make(map[string]*MemoryEndpoint)}
}

func (n *MemoryNetwork) Endpoint(id string) (*MemoryEndpoint, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.endpoints[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}
	e := &MemoryEndpoint{
		id:       id,
		net:      n,
		incoming: make(chan Channel, incomingBacklog),
		chans:    make(map[*memChannel]struct{}),
	}
	n.endpoints[id] = e
	return e, nil
}

func (n *MemoryNetwork) lookup(id string) *MemoryEndpoint {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.endpoints[id]
}

func (n *MemoryNetwork) remove(e *MemoryEndpoint) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.endpoints[e.id] == e {
		delete(n.endpoints, e.id)
	}
}

type MemoryEndpoint struct {
	id       string
	net      *MemoryNetwork
	incoming chan Channel

	mu     sync.Mutex
	closed bool
	chans  map[*memChannel]struct{}
}

func (e *MemoryEndpoint) ID() string { return e.id }

func (e *MemoryEndpoint) Incoming() <-chan Channel { return e.incoming }

func (e *MemoryEndpoint) Dial(ctx context.Context, peerID string) (Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, &ConnectError{Peer: peerID, Err: err}
	}
	target := e.net.lookup(peerID)
	if target == nil || target == e {
		return nil, &ConnectError{Peer: peerID, Err: ErrPeerUnavailable}
	}

	local := newMemChannel(e, peerID, e.net.codec)
	remote := newMemChannel(target, e.id, e.net.codec)
	local.other, remote.other = remote, local

	if err := e.track(local); err != nil {
		local.shutdown(err)
		return nil, &ConnectError{Peer: peerID, Err: err}
	}
	if err := target.accept(remote); err != nil {
		local.shutdown(err)
		return nil, &ConnectError{Peer: peerID, Err: err}
	}
	return local, nil
}

func (e *MemoryEndpoint) track(c *memChannel) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEndpointClosed
	}
	e.chans[c] = struct{}{}
	return nil
}

func (e *MemoryEndpoint) untrack(c *memChannel) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.chans, c)
}

func (e *MemoryEndpoint) accept(c *memChannel) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrPeerUnavailable
	}
	select {
	case e.incoming <- c:
		e.chans[c] = struct{}{}
		return nil
	default:
		return errors.New("accept backlog full")
	}
}

func (e *MemoryEndpoint) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	chans := make([]*memChannel, 0, len(e.chans))
	for c := range e.chans {
		chans = append(chans, c)
	}
	clear(e.chans)
	close(e.incoming)
	e.mu.Unlock()

	e.net.remove(e)
	var err error
	for _, c := range chans {
		err = multierr.Append(err, c.Close())
	}
	return err
}

type memChannel struct {
	owner *MemoryEndpoint
	peer  string
	codec protocol.Codec
	box   *mailbox
	other *memChannel
}

func newMemChannel(owner *MemoryEndpoint, peer string, codec protocol.Codec) *memChannel {
	return &memChannel{owner: owner, peer: peer, codec: codec, box: newMailbox()}
}

func (c *memChannel) PeerID() string { return c.peer }

func (c *memChannel) Events() <-chan Event { return c.box.out }

func (c *memChannel) Send(m protocol.Message) error {
	if c.box.isClosed() {
		return ErrClosed
	}
	b, err := c.codec.Encode(m)
	if err != nil {
		return err
	}
	decoded, err := c.codec.Decode(b)
	if err != nil {
		return err
	}
	if !c.other.box.put(Event{Kind: EventMessage, Message: decoded}) {
		return ErrClosed
	}
	return nil
}

// Close tears down both ends; each side sees exactly one EventClosed.
func (c *memChannel) Close() error {
	c.shutdown(nil)
	return nil
}

func (c *memChannel) shutdown(err error) {
	if !c.box.close(err) {
		return
	}
	c.owner.untrack(c)
	if c.other != nil {
		c.other.shutdown(err)
	}
}
