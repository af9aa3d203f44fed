package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/kart-party/internal/engine"
	"github.com/DoyleJ11/kart-party/internal/protocol"
)

func recvEvent(t *testing.T, ch Channel, within time.Duration) Event {
	t.Helper()
	select {
	case ev, ok := <-ch.Events():
		if !ok {
			t.Fatalf("events closed unexpectedly")
		}
		return ev
	case <-time.After(within):
		t.Fatalf("timed out waiting for event")
		return Event{}
	}
}

func recvChannel(t *testing.T, e Endpoint, within time.Duration) Channel {
	t.Helper()
	select {
	case ch := <-e.Incoming():
		return ch
	case <-time.After(within):
		t.Fatalf("timed out waiting for incoming channel")
		return nil
	}
}

func endpoints(t *testing.T, n *MemoryNetwork, ids ...string) []*MemoryEndpoint {
	t.Helper()
	var out []*MemoryEndpoint
	for _, id := range ids {
		e, err := n.Endpoint(id)
		require.NoError(t, err)
		t.Cleanup(func() { e.Close() })
		out = append(out, e)
	}
	return out
}

func TestMemory_DialSendInOrder(t *testing.T) {
	eps := endpoints(t, NewMemoryNetwork(nil), "host", "g1")
	host, guest := eps[0], eps[1]

	out, err := guest.Dial(context.Background(), "host")
	require.NoError(t, err)
	in := recvChannel(t, host, 100*time.Millisecond)
	assert.Equal(t, "g1", in.PeerID())
	assert.Equal(t, "host", out.PeerID())

	for i := 0; i < 50; i++ {
		require.NoError(t, out.Send(protocol.Heartbeat{Timestamp: int64(i)}))
	}
	for i := 0; i < 50; i++ {
		ev := recvEvent(t, in, 100*time.Millisecond)
		require.Equal(t, EventMessage, ev.Kind)
		assert.Equal(t, protocol.Heartbeat{Timestamp: int64(i)}, ev.Message)
	}
}

func TestMemory_MessagesAreCopies(t *testing.T) {
	eps := endpoints(t, NewMemoryNetwork(protocol.MsgpackCodec{}), "host", "g1")
	out, err := eps[1].Dial(context.Background(), "host")
	require.NoError(t, err)
	in := recvChannel(t, eps[0], 100*time.Millisecond)

	players := []engine.Player{{ID: "host", IsHost: true, Color: engine.ColorRed}}
	require.NoError(t, out.Send(protocol.PartyState{State: engine.PartyState{Players: players}}))
	players[0].Name = "mutated"

	ev := recvEvent(t, in, 100*time.Millisecond)
	got := ev.Message.(protocol.PartyState)
	assert.Equal(t, "", got.State.Players[0].Name)
}

func TestMemory_CloseNotifiesBothSides(t *testing.T) {
	eps := endpoints(t, NewMemoryNetwork(nil), "host", "g1")
	out, err := eps[1].Dial(context.Background(), "host")
	require.NoError(t, err)
	in := recvChannel(t, eps[0], 100*time.Millisecond)

	require.NoError(t, out.Send(protocol.Kicked{}))
	require.NoError(t, out.Close())
	require.NoError(t, out.Close())

	assert.Equal(t, EventMessage, recvEvent(t, in, 100*time.Millisecond).Kind)
	assert.Equal(t, EventClosed, recvEvent(t, in, 100*time.Millisecond).Kind)
	assert.Equal(t, EventClosed, recvEvent(t, out, 100*time.Millisecond).Kind)

	_, open := <-in.Events()
	assert.False(t, open)
	assert.ErrorIs(t, in.Send(protocol.Heartbeat{}), ErrClosed)
	assert.ErrorIs(t, out.Send(protocol.Heartbeat{}), ErrClosed)
}

func TestMemory_DialUnknownPeer(t *testing.T) {
	eps := endpoints(t, NewMemoryNetwork(nil), "g1")
	_, err := eps[0].Dial(context.Background(), "nobody")

	var ce *ConnectError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "nobody", ce.Peer)
	assert.ErrorIs(t, err, ErrPeerUnavailable)
}

func TestMemory_EndpointCloseDropsChannels(t *testing.T) {
	n := NewMemoryNetwork(nil)
	eps := endpoints(t, n, "host", "g1", "g2")
	host := eps[0]

	var outs []Channel
	for _, g := range eps[1:] {
		out, err := g.Dial(context.Background(), "host")
		require.NoError(t, err)
		recvChannel(t, host, 100*time.Millisecond)
		outs = append(outs, out)
	}

	require.NoError(t, host.Close())
	for _, out := range outs {
		assert.Equal(t, EventClosed, recvEvent(t, out, 100*time.Millisecond).Kind)
	}

	_, open := <-host.Incoming()
	assert.False(t, open)

	_, err := eps[1].Dial(context.Background(), "host")
	assert.ErrorIs(t, err, ErrPeerUnavailable)

	// The id is free again.
	_, err = n.Endpoint("host")
	assert.NoError(t, err)
}

func TestMemory_DuplicateEndpoint(t *testing.T) {
	n := NewMemoryNetwork(nil)
	endpoints(t, n, "host")
	_, err := n.Endpoint("host")
	assert.ErrorIs(t, err, ErrDuplicateID)
}
