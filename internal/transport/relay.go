package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/DoyleJ11/kart-party/internal/protocol"
	"github.com/DoyleJ11/kart-party/internal/types"
)

const (
	relayWriteTimeout = 3 * time.Second
	relayPingInterval = 20 * time.Second
	relayOutboxSize   = 256
)

// outFrame is a queued write. A frame with flushed set carries no data and
// is closed once every frame queued before it has been written.
type outFrame struct {
	f       types.Frame
	flushed chan struct{}
}

type dialResult struct {
	ch  *relayChannel
	err error
}

// RelayEndpoint multiplexes logical channels over one websocket to a relay
// server. The relay routes frames by peer id and never looks inside them.
// Writes go through a single queue so senders never wait on the socket.
type RelayEndpoint struct {
	id     string
	conn   *websocket.Conn
	codec  protocol.Codec
	log    *zap.Logger
	outbox chan outFrame

	ctx    context.Context
	cancel context.CancelFunc

	incoming chan Channel

	mu       sync.Mutex
	closed   bool
	chans    map[string]*relayChannel
	pending  map[string]chan dialResult
	onSignal func(from string, payload []byte)
}

// DialRelay connects to the relay at rawURL as peer id.
func DialRelay(ctx context.Context, rawURL, id string, codec protocol.Codec, log *zap.Logger) (*RelayEndpoint, error) {
	if codec == nil {
		codec = protocol.JSONCodec{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("relay url: %w", err)
	}
	q := u.Query()
	q.Set("peer", id)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return nil, &ConnectError{Peer: "relay", Err: err}
	}
	conn.SetReadLimit(1 << 20)

	rctx, cancel := context.WithCancel(context.Background())
	e := &RelayEndpoint{
		id:       id,
		conn:     conn,
		codec:    codec,
		log:      log.Named("relay").With(zap.String("self", id)),
		ctx:      rctx,
		cancel:   cancel,
		outbox:   make(chan outFrame, relayOutboxSize),
		incoming: make(chan Channel, incomingBacklog),
		chans:    make(map[string]*relayChannel),
		pending:  make(map[string]chan dialResult),
	}
	go e.readLoop()
	go e.writeLoop()
	go e.keepAlive()
	return e, nil
}

func (e *RelayEndpoint) ID() string { return e.id }

func (e *RelayEndpoint) Incoming() <-chan Channel { return e.incoming }

// OnSignal installs the handler for signal frames. Used by WebRTCEndpoint.
func (e *RelayEndpoint) OnSignal(fn func(from string, payload []byte)) {
	e.mu.Lock()
	e.onSignal = fn
	e.mu.Unlock()
}

func (e *RelayEndpoint) SendSignal(to string, payload []byte) error {
	return e.enqueue(types.Frame{Kind: types.FrameSignal, To: to, Payload: payload})
}

func (e *RelayEndpoint) Dial(ctx context.Context, peerID string) (Channel, error) {
	wait := make(chan dialResult, 1)
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, &ConnectError{Peer: peerID, Err: ErrEndpointClosed}
	}
	e.pending[peerID] = wait
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		if e.pending[peerID] == wait {
			delete(e.pending, peerID)
		}
		e.mu.Unlock()
	}()

	if err := e.enqueue(types.Frame{Kind: types.FrameOpen, To: peerID}); err != nil {
		return nil, &ConnectError{Peer: peerID, Err: err}
	}

	select {
	case res := <-wait:
		if res.err != nil {
			return nil, &ConnectError{Peer: peerID, Err: res.err}
		}
		return res.ch, nil
	case <-ctx.Done():
		return nil, &ConnectError{Peer: peerID, Err: ctx.Err()}
	case <-e.ctx.Done():
		return nil, &ConnectError{Peer: peerID, Err: ErrEndpointClosed}
	}
}

// enqueue hands f to the writer without blocking.
func (e *RelayEndpoint) enqueue(f types.Frame) error {
	if e.ctx.Err() != nil {
		return ErrEndpointClosed
	}
	select {
	case e.outbox <- outFrame{f: f}:
		return nil
	case <-e.ctx.Done():
		return ErrEndpointClosed
	default:
		return ErrBacklogFull
	}
}

// flush waits until everything queued so far has been written.
func (e *RelayEndpoint) flush(timeout time.Duration) {
	done := make(chan struct{})
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case e.outbox <- outFrame{flushed: done}:
	case <-e.ctx.Done():
		return
	case <-t.C:
		return
	}
	select {
	case <-done:
	case <-e.ctx.Done():
	case <-t.C:
	}
}

func (e *RelayEndpoint) writeLoop() {
	for {
		select {
		case <-e.ctx.Done():
			return
		case o := <-e.outbox:
			if o.flushed != nil {
				close(o.flushed)
				continue
			}
			payload, err := json.Marshal(o.f)
			if err != nil {
				e.log.Debug("bad outgoing frame", zap.Error(err))
				continue
			}
			ctx, cancel := context.WithTimeout(e.ctx, relayWriteTimeout)
			err = e.conn.Write(ctx, websocket.MessageText, payload)
			cancel()
			if err != nil {
				e.log.Debug("relay write failed", zap.Error(err))
				e.shutdown(err)
				return
			}
		}
	}
}

func (e *RelayEndpoint) keepAlive() {
	t := time.NewTicker(relayPingInterval)
	defer t.Stop()
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(e.ctx, relayWriteTimeout)
			err := e.conn.Ping(ctx)
			cancel()
			if err != nil {
				e.log.Debug("relay ping failed", zap.Error(err))
			}
		}
	}
}

func (e *RelayEndpoint) readLoop() {
	for {
		_, data, err := e.conn.Read(e.ctx)
		if err != nil {
			e.shutdown(err)
			return
		}
		var f types.Frame
		if err := json.Unmarshal(data, &f); err != nil {
			e.log.Debug("bad relay frame", zap.Error(err))
			continue
		}
		e.route(f)
	}
}

func (e *RelayEndpoint) route(f types.Frame) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}

	switch f.Kind {
	case types.FrameOpen:
		if old := e.chans[f.From]; old != nil {
			old.box.close(nil)
		}
		ch := newRelayChannel(e, f.From)
		select {
		case e.incoming <- ch:
			e.chans[f.From] = ch
			_ = e.enqueue(types.Frame{Kind: types.FrameAccept, To: f.From})
		default:
			ch.box.close(nil)
			_ = e.enqueue(types.Frame{Kind: types.FrameError, To: f.From, Error: "accept backlog full"})
		}

	case types.FrameAccept:
		wait, ok := e.pending[f.From]
		if !ok {
			return
		}
		delete(e.pending, f.From)
		if old := e.chans[f.From]; old != nil {
			old.box.close(nil)
		}
		ch := newRelayChannel(e, f.From)
		e.chans[f.From] = ch
		wait <- dialResult{ch: ch}

	case types.FrameError:
		if wait, ok := e.pending[f.From]; ok {
			delete(e.pending, f.From)
			err := errors.New(f.Error)
			if f.Error == types.ErrUnavailable {
				err = ErrPeerUnavailable
			}
			wait <- dialResult{err: err}
			return
		}
		if ch := e.chans[f.From]; ch != nil {
			if f.Error == types.ErrUnavailable {
				// The peer is gone; nothing more will arrive.
				delete(e.chans, f.From)
				ch.box.close(ErrPeerUnavailable)
				return
			}
			ch.box.put(Event{Kind: EventError, Err: errors.New(f.Error)})
		}

	case types.FrameData:
		ch := e.chans[f.From]
		if ch == nil {
			return
		}
		m, err := e.codec.Decode(f.Payload)
		if err != nil {
			ch.box.put(Event{Kind: EventError, Err: err})
			return
		}
		ch.box.put(Event{Kind: EventMessage, Message: m})

	case types.FrameClose:
		if ch := e.chans[f.From]; ch != nil {
			delete(e.chans, f.From)
			ch.box.close(nil)
		}

	case types.FrameSignal:
		if fn := e.onSignal; fn != nil {
			go fn(f.From, f.Payload)
		}
	}
}

func (e *RelayEndpoint) forget(ch *relayChannel) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.chans[ch.peer] == ch {
		delete(e.chans, ch.peer)
	}
}

func (e *RelayEndpoint) shutdown(cause error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	for id, ch := range e.chans {
		ch.box.close(cause)
		delete(e.chans, id)
	}
	for id, wait := range e.pending {
		wait <- dialResult{err: ErrEndpointClosed}
		delete(e.pending, id)
	}
	close(e.incoming)
	e.mu.Unlock()
	e.cancel()
}

func (e *RelayEndpoint) Close() error {
	e.mu.Lock()
	var frames []types.Frame
	for id := range e.chans {
		frames = append(frames, types.Frame{Kind: types.FrameClose, To: id})
	}
	e.mu.Unlock()

	var err error
	for _, f := range frames {
		if werr := e.enqueue(f); !errors.Is(werr, ErrEndpointClosed) {
			err = multierr.Append(err, werr)
		}
	}
	e.flush(relayWriteTimeout)
	// Close needs the read loop running to finish the handshake.
	err = multierr.Append(err, e.conn.Close(websocket.StatusNormalClosure, "bye"))
	e.shutdown(ErrEndpointClosed)
	return err
}

type relayChannel struct {
	ep   *RelayEndpoint
	peer string
	box  *mailbox
}

func newRelayChannel(ep *RelayEndpoint, peer string) *relayChannel {
	return &relayChannel{ep: ep, peer: peer, box: newMailbox()}
}

func (c *relayChannel) PeerID() string { return c.peer }

func (c *relayChannel) Events() <-chan Event { return c.box.out }

func (c *relayChannel) Send(m protocol.Message) error {
	if c.box.isClosed() {
		return ErrClosed
	}
	b, err := c.ep.codec.Encode(m)
	if err != nil {
		return err
	}
	return c.ep.enqueue(types.Frame{Kind: types.FrameData, To: c.peer, Payload: b})
}

func (c *relayChannel) Close() error {
	if !c.box.close(nil) {
		return nil
	}
	c.ep.forget(c)
	err := c.ep.enqueue(types.Frame{Kind: types.FrameClose, To: c.peer})
	if errors.Is(err, ErrEndpointClosed) {
		return nil
	}
	return err
}
