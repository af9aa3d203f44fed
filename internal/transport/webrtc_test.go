package transport

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/kart-party/internal/protocol"
)

const rtcWait = 10 * time.Second

// signalBus hands signal payloads straight to the addressed peer's handler.
type signalBus struct {
	mu       sync.Mutex
	handlers map[string]func(from string, payload []byte)
}

type busSignaler struct {
	bus *signalBus
	id  string
}

func (s busSignaler) SendSignal(to string, payload []byte) error {
	s.bus.mu.Lock()
	fn := s.bus.handlers[to]
	s.bus.mu.Unlock()
	if fn == nil {
		return ErrPeerUnavailable
	}
	go fn(s.id, append([]byte(nil), payload...))
	return nil
}

func (s busSignaler) OnSignal(fn func(from string, payload []byte)) {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if s.bus.handlers == nil {
		s.bus.handlers = make(map[string]func(string, []byte))
	}
	s.bus.handlers[s.id] = fn
}

func rtcPeer(t *testing.T, bus *signalBus, id string) *WebRTCEndpoint {
	t.Helper()
	e := NewWebRTCEndpoint(id, busSignaler{bus: bus, id: id}, nil, protocol.JSONCodec{}, nil)
	t.Cleanup(func() { e.Close() })
	return e
}

func rtcPair(t *testing.T) (out, in Channel) {
	t.Helper()
	bus := &signalBus{}
	a := rtcPeer(t, bus, "a")
	b := rtcPeer(t, bus, "b")

	ctx, cancel := context.WithTimeout(context.Background(), rtcWait)
	defer cancel()
	out, err := a.Dial(ctx, "b")
	require.NoError(t, err)
	in = recvChannel(t, b, rtcWait)
	return out, in
}

// waitClosed skips messages and errors until the channel reports closed.
func waitClosed(t *testing.T, ch Channel) {
	t.Helper()
	deadline := time.After(rtcWait)
	for {
		select {
		case ev, ok := <-ch.Events():
			if !ok || ev.Kind == EventClosed {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s to close", ch.PeerID())
		}
	}
}

func TestWebRTC_DialSendInOrder(t *testing.T) {
	out, in := rtcPair(t)
	assert.Equal(t, "b", out.PeerID())
	assert.Equal(t, "a", in.PeerID())

	for i := 1; i <= 5; i++ {
		require.NoError(t, out.Send(protocol.Heartbeat{Timestamp: int64(i), ID: "a"}))
	}
	for i := 1; i <= 5; i++ {
		ev := recvEvent(t, in, rtcWait)
		require.Equal(t, EventMessage, ev.Kind)
		assert.Equal(t, protocol.Heartbeat{Timestamp: int64(i), ID: "a"}, ev.Message)
	}

	require.NoError(t, in.Send(protocol.PlayerLeft{ID: "a"}))
	ev := recvEvent(t, out, rtcWait)
	require.Equal(t, EventMessage, ev.Kind)
	assert.Equal(t, protocol.PlayerLeft{ID: "a"}, ev.Message)
}

func TestWebRTC_CloseNotifiesBothSides(t *testing.T) {
	out, in := rtcPair(t)

	require.NoError(t, out.Close())
	assert.Equal(t, EventClosed, recvEvent(t, out, rtcWait).Kind)
	waitClosed(t, in)

	assert.ErrorIs(t, out.Send(protocol.Heartbeat{}), ErrClosed)
	assert.NoError(t, out.Close())
}

func TestWebRTC_DialUnknownPeer(t *testing.T) {
	bus := &signalBus{}
	a := rtcPeer(t, bus, "a")

	ctx, cancel := context.WithTimeout(context.Background(), rtcWait)
	defer cancel()
	_, err := a.Dial(ctx, "ghost")
	var ce *ConnectError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "ghost", ce.Peer)
	assert.ErrorIs(t, err, ErrPeerUnavailable)
}

func TestWebRTC_EndpointCloseDropsChannels(t *testing.T) {
	bus := &signalBus{}
	a := rtcPeer(t, bus, "a")
	b := rtcPeer(t, bus, "b")

	ctx, cancel := context.WithTimeout(context.Background(), rtcWait)
	defer cancel()
	out, err := a.Dial(ctx, "b")
	require.NoError(t, err)
	in := recvChannel(t, b, rtcWait)

	require.NoError(t, b.Close())
	waitClosed(t, in)
	waitClosed(t, out)

	_, ok := <-b.Incoming()
	assert.False(t, ok, "incoming should be closed")

	_, err = b.Dial(ctx, "a")
	assert.ErrorIs(t, err, ErrEndpointClosed)
	assert.NoError(t, b.Close())
}
