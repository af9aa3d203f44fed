package transport

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DoyleJ11/kart-party/internal/hub"
	"github.com/DoyleJ11/kart-party/internal/protocol"
	"github.com/DoyleJ11/kart-party/internal/ws"
)

func relayServer(t *testing.T) string {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h := hub.NewHub(ctx, nil)
	srv := httptest.NewServer(ws.Handler(h, nil, nil))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func relayPeer(t *testing.T, url, id string) *RelayEndpoint {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	e, err := DialRelay(ctx, url, id, protocol.MsgpackCodec{}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func TestRelay_RoundTrip(t *testing.T) {
	url := relayServer(t)
	host := relayPeer(t, url, "host")
	guest := relayPeer(t, url, "g1")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	out, err := guest.Dial(ctx, "host")
	require.NoError(t, err)
	in := recvChannel(t, host, time.Second)
	assert.Equal(t, "g1", in.PeerID())

	require.NoError(t, out.Send(protocol.JoinRequest{ID: "g1", Name: "Alice", Color: "blue"}))
	ev := recvEvent(t, in, time.Second)
	require.Equal(t, EventMessage, ev.Kind)
	assert.Equal(t, protocol.JoinRequest{ID: "g1", Name: "Alice", Color: "blue"}, ev.Message)

	require.NoError(t, in.Send(protocol.Kicked{}))
	assert.Equal(t, protocol.Kicked{}, recvEvent(t, out, time.Second).Message)

	for i := 1; i <= 50; i++ {
		require.NoError(t, out.Send(protocol.Heartbeat{Timestamp: int64(i)}))
	}
	for i := 1; i <= 50; i++ {
		assert.Equal(t, protocol.Heartbeat{Timestamp: int64(i)}, recvEvent(t, in, time.Second).Message)
	}

	require.NoError(t, in.Close())
	assert.Equal(t, EventClosed, recvEvent(t, out, time.Second).Kind)
}

func TestRelay_DialMissingPeer(t *testing.T) {
	url := relayServer(t)
	guest := relayPeer(t, url, "g1")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := guest.Dial(ctx, "ghost")
	assert.ErrorIs(t, err, ErrPeerUnavailable)
}

func TestRelay_PeerDisconnectClosesChannels(t *testing.T) {
	url := relayServer(t)
	host := relayPeer(t, url, "host")
	guest := relayPeer(t, url, "g1")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	out, err := guest.Dial(ctx, "host")
	require.NoError(t, err)
	recvChannel(t, host, time.Second)

	require.NoError(t, host.Close())
	assert.Equal(t, EventClosed, recvEvent(t, out, 2*time.Second).Kind)
}

func TestRelay_DuplicateID(t *testing.T) {
	url := relayServer(t)
	relayPeer(t, url, "host")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := DialRelay(ctx, url, "host", nil, nil)
	assert.Error(t, err)
}

func TestRelay_SendNeverWaitsOnSocket(t *testing.T) {
	// No writer drains this endpoint, as if the socket had stalled.
	ctx, cancel := context.WithCancel(context.Background())
	e := &RelayEndpoint{
		id:     "host",
		codec:  protocol.JSONCodec{},
		log:    zap.NewNop(),
		ctx:    ctx,
		cancel: cancel,
		outbox: make(chan outFrame, 2),
	}
	ch := newRelayChannel(e, "g1")
	defer ch.box.close(nil)

	require.NoError(t, ch.Send(protocol.Heartbeat{Timestamp: 1}))
	require.NoError(t, ch.Send(protocol.Heartbeat{Timestamp: 2}))

	errc := make(chan error, 1)
	go func() { errc <- ch.Send(protocol.Heartbeat{Timestamp: 3}) }()
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrBacklogFull)
	case <-time.After(time.Second):
		t.Fatal("send blocked on a full outbox")
	}

	cancel()
	assert.ErrorIs(t, ch.Send(protocol.Heartbeat{Timestamp: 4}), ErrEndpointClosed)
	assert.NoError(t, ch.Close())
}
