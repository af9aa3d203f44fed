package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/DoyleJ11/kart-party/internal/protocol"
)

const dataChannelLabel = "kart"

// Signaler carries SDP blobs between peers before a data channel exists.
type Signaler interface {
	SendSignal(to string, payload []byte) error
	OnSignal(fn func(from string, payload []byte))
}

type sdpSignal struct {
	SDP webrtc.SessionDescription `json:"sdp"`
}

// WebRTCEndpoint opens direct data channels to peers. Offers and answers go
// through the signaler with ICE gathering completed up front, so one round
// trip is enough.
type WebRTCEndpoint struct {
	id     string
	signal Signaler
	config webrtc.Configuration
	codec  protocol.Codec
	log    *zap.Logger

	incoming chan Channel

	mu      sync.Mutex
	closed  bool
	answers map[string]chan webrtc.SessionDescription
	chans   map[*rtcChannel]struct{}
}

func NewWebRTCEndpoint(id string, signal Signaler, iceURLs []string, codec protocol.Codec, log *zap.Logger) *WebRTCEndpoint {
	if codec == nil {
		codec = protocol.JSONCodec{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	cfg := webrtc.Configuration{ICETransportPolicy: webrtc.ICETransportPolicyAll}
	if len(iceURLs) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: iceURLs}}
	}
	e := &WebRTCEndpoint{
		id:       id,
		signal:   signal,
		config:   cfg,
		codec:    codec,
		log:      log.Named("webrtc").With(zap.String("self", id)),
		incoming: make(chan Channel, incomingBacklog),
		answers:  make(map[string]chan webrtc.SessionDescription),
		chans:    make(map[*rtcChannel]struct{}),
	}
	signal.OnSignal(e.handleSignal)
	return e
}

func (e *WebRTCEndpoint) ID() string { return e.id }

func (e *WebRTCEndpoint) Incoming() <-chan Channel { return e.incoming }

func (e *WebRTCEndpoint) Dial(ctx context.Context, peerID string) (Channel, error) {
	ch, err := e.dial(ctx, peerID)
	if err != nil {
		return nil, &ConnectError{Peer: peerID, Err: err}
	}
	return ch, nil
}

func (e *WebRTCEndpoint) dial(ctx context.Context, peerID string) (*rtcChannel, error) {
	answer := make(chan webrtc.SessionDescription, 1)
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrEndpointClosed
	}
	e.answers[peerID] = answer
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.answers, peerID)
		e.mu.Unlock()
	}()

	pc, err := webrtc.NewPeerConnection(e.config)
	if err != nil {
		return nil, err
	}
	dc, err := pc.CreateDataChannel(dataChannelLabel, nil)
	if err != nil {
		return nil, multierr.Append(err, pc.Close())
	}
	ch := e.wrap(peerID, pc, dc, nil)

	fail := func(err error) (*rtcChannel, error) {
		ch.Close()
		return nil, err
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fail(err)
	}
	if err := e.setLocal(ctx, pc, offer); err != nil {
		return fail(err)
	}
	if err := e.send(peerID, *pc.LocalDescription()); err != nil {
		return fail(err)
	}

	select {
	case sdp := <-answer:
		if err := pc.SetRemoteDescription(sdp); err != nil {
			return fail(err)
		}
	case <-ctx.Done():
		return fail(ctx.Err())
	}

	select {
	case <-ch.opened:
		return ch, nil
	case <-ch.done:
		return nil, ErrPeerUnavailable
	case <-ctx.Done():
		return fail(ctx.Err())
	}
}

// setLocal applies the description and waits for ICE gathering to finish.
func (e *WebRTCEndpoint) setLocal(ctx context.Context, pc *webrtc.PeerConnection, sdp webrtc.SessionDescription) error {
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(sdp); err != nil {
		return err
	}
	select {
	case <-gathered:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *WebRTCEndpoint) send(to string, sdp webrtc.SessionDescription) error {
	b, err := json.Marshal(sdpSignal{SDP: sdp})
	if err != nil {
		return err
	}
	return e.signal.SendSignal(to, b)
}

func (e *WebRTCEndpoint) handleSignal(from string, payload []byte) {
	var s sdpSignal
	if err := json.Unmarshal(payload, &s); err != nil {
		e.log.Debug("bad signal", zap.String("peer", from), zap.Error(err))
		return
	}

	switch s.SDP.Type {
	case webrtc.SDPTypeAnswer:
		e.mu.Lock()
		wait, ok := e.answers[from]
		e.mu.Unlock()
		if ok {
			select {
			case wait <- s.SDP:
			default:
			}
		}
	case webrtc.SDPTypeOffer:
		if err := e.answer(from, s.SDP); err != nil {
			e.log.Debug("answer failed", zap.String("peer", from), zap.Error(err))
		}
	}
}

func (e *WebRTCEndpoint) answer(from string, offer webrtc.SessionDescription) error {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return ErrEndpointClosed
	}

	pc, err := webrtc.NewPeerConnection(e.config)
	if err != nil {
		return err
	}
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		e.wrap(from, pc, dc, func(ch *rtcChannel) {
			e.mu.Lock()
			delivered := false
			if !e.closed {
				select {
				case e.incoming <- ch:
					delivered = true
				default:
				}
			}
			e.mu.Unlock()
			if !delivered {
				ch.Close()
			}
		})
	})

	if err := pc.SetRemoteDescription(offer); err != nil {
		return multierr.Append(err, pc.Close())
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return multierr.Append(err, pc.Close())
	}
	ctx, cancel := context.WithTimeout(context.Background(), relayWriteTimeout*5)
	defer cancel()
	if err := e.setLocal(ctx, pc, answer); err != nil {
		return multierr.Append(err, pc.Close())
	}
	return e.send(from, *pc.LocalDescription())
}

func (e *WebRTCEndpoint) wrap(peer string, pc *webrtc.PeerConnection, dc *webrtc.DataChannel, onOpen func(*rtcChannel)) *rtcChannel {
	ch := &rtcChannel{
		ep:     e,
		peer:   peer,
		pc:     pc,
		dc:     dc,
		box:    newMailbox(),
		opened: make(chan struct{}),
		done:   make(chan struct{}),
	}
	e.mu.Lock()
	e.chans[ch] = struct{}{}
	e.mu.Unlock()

	dc.OnOpen(func() {
		ch.openOnce.Do(func() { close(ch.opened) })
		if onOpen != nil {
			onOpen(ch)
		}
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		m, err := e.codec.Decode(msg.Data)
		if err != nil {
			ch.box.put(Event{Kind: EventError, Err: err})
			return
		}
		ch.box.put(Event{Kind: EventMessage, Message: m})
	})
	dc.OnError(func(err error) {
		ch.box.put(Event{Kind: EventError, Err: err})
	})
	dc.OnClose(func() { ch.Close() })
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		if s == webrtc.PeerConnectionStateFailed || s == webrtc.PeerConnectionStateClosed {
			ch.Close()
		}
	})
	return ch
}

func (e *WebRTCEndpoint) forget(ch *rtcChannel) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.chans, ch)
}

func (e *WebRTCEndpoint) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	chans := make([]*rtcChannel, 0, len(e.chans))
	for ch := range e.chans {
		chans = append(chans, ch)
	}
	close(e.incoming)
	e.mu.Unlock()

	var err error
	for _, ch := range chans {
		err = multierr.Append(err, ch.Close())
	}
	return err
}

type rtcChannel struct {
	ep       *WebRTCEndpoint
	peer     string
	pc       *webrtc.PeerConnection
	dc       *webrtc.DataChannel
	box      *mailbox
	opened   chan struct{}
	done     chan struct{}
	openOnce sync.Once
}

func (c *rtcChannel) PeerID() string { return c.peer }

func (c *rtcChannel) Events() <-chan Event { return c.box.out }

func (c *rtcChannel) Send(m protocol.Message) error {
	if c.box.isClosed() {
		return ErrClosed
	}
	b, err := c.ep.codec.Encode(m)
	if err != nil {
		return err
	}
	if err := c.dc.Send(b); err != nil {
		return fmt.Errorf("send to %s: %w", c.peer, err)
	}
	return nil
}

func (c *rtcChannel) Close() error {
	if !c.box.close(nil) {
		return nil
	}
	close(c.done)
	c.ep.forget(c)
	return multierr.Append(c.dc.Close(), c.pc.Close())
}
