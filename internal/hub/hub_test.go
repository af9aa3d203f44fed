package hub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/kart-party/internal/types"
)

func register(t *testing.T, h *Hub, id string) chan types.Frame {
	t.Helper()
	out := make(chan types.Frame, 8)
	reply := make(chan error, 1)
	h.Inbox() <- Register{PeerID: id, Outbox: out, Reply: reply}
	require.NoError(t, <-reply)
	return out
}

func recvFrame(t *testing.T, ch <-chan types.Frame, within time.Duration) types.Frame {
	t.Helper()
	select {
	case f, ok := <-ch:
		if !ok {
			t.Fatalf("outbox closed unexpectedly")
		}
		return f
	case <-time.After(within):
		t.Fatalf("timed out waiting for frame")
		return types.Frame{}
	}
}

func stats(t *testing.T, h *Hub) Stats {
	t.Helper()
	reply := make(chan Stats, 1)
	h.Inbox() <- GetStats{Reply: reply}
	return <-reply
}

func TestHub_DuplicateRegisterRejected(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := NewHub(ctx, nil)

	register(t, h, "host")
	reply := make(chan error, 1)
	h.Inbox() <- Register{PeerID: "host", Outbox: make(chan types.Frame, 1), Reply: reply}
	assert.ErrorIs(t, <-reply, ErrPeerTaken)
}

func TestHub_RoutesAndLinks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := NewHub(ctx, nil)

	host := register(t, h, "host")
	guest := register(t, h, "g1")

	h.Inbox() <- Route{Frame: types.Frame{Kind: types.FrameOpen, From: "g1", To: "host"}}
	f := recvFrame(t, host, 100*time.Millisecond)
	assert.Equal(t, types.FrameOpen, f.Kind)
	assert.Equal(t, "g1", f.From)

	h.Inbox() <- Route{Frame: types.Frame{Kind: types.FrameData, From: "host", To: "g1", Payload: []byte("hi")}}
	f = recvFrame(t, guest, 100*time.Millisecond)
	assert.Equal(t, []byte("hi"), f.Payload)

	assert.Equal(t, Stats{Peers: 2, Links: 1}, stats(t, h))
}

func TestHub_UnknownTargetErrorsBack(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := NewHub(ctx, nil)

	guest := register(t, h, "g1")
	h.Inbox() <- Route{Frame: types.Frame{Kind: types.FrameOpen, From: "g1", To: "ghost"}}

	f := recvFrame(t, guest, 100*time.Millisecond)
	assert.Equal(t, types.FrameError, f.Kind)
	assert.Equal(t, "ghost", f.From)
	assert.Equal(t, types.ErrUnavailable, f.Error)
}

func TestHub_DisconnectFansOutClose(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := NewHub(ctx, nil)

	hostOut := register(t, h, "host")
	g1 := register(t, h, "g1")
	g2 := register(t, h, "g2")
	bystander := register(t, h, "x")

	for _, id := range []string{"g1", "g2"} {
		h.Inbox() <- Route{Frame: types.Frame{Kind: types.FrameOpen, From: id, To: "host"}}
		recvFrame(t, hostOut, 100*time.Millisecond)
	}

	h.Inbox() <- Unregister{PeerID: "host", Outbox: hostOut}

	for _, out := range []chan types.Frame{g1, g2} {
		f := recvFrame(t, out, 100*time.Millisecond)
		assert.Equal(t, types.FrameClose, f.Kind)
		assert.Equal(t, "host", f.From)
	}
	select {
	case f := <-bystander:
		t.Fatalf("unlinked peer got %+v", f)
	case <-time.After(30 * time.Millisecond):
	}

	_, open := <-hostOut
	assert.False(t, open, "hub closes the dropped outbox")
	assert.Equal(t, Stats{Peers: 3, Links: 0}, stats(t, h))
}

func TestHub_StaleUnregisterIgnored(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := NewHub(ctx, nil)

	register(t, h, "host")
	h.Inbox() <- Unregister{PeerID: "host", Outbox: make(chan types.Frame)}
	assert.Equal(t, 1, stats(t, h).Peers)
}

func TestHub_SendAfterShutdown(t *testing.T) {
	h := NewHub(context.Background(), nil)
	out := register(t, h, "host")
	h.Inbox() <- ShutdownHub{}

	_, open := <-out
	assert.False(t, open)
	<-h.Done()

	// The inbox still has room, so fill it to prove Send does not block.
	for i := 0; i < cap(h.inbox); i++ {
		h.inbox <- Route{}
	}
	assert.ErrorIs(t, h.Send(context.Background(), Route{}), ErrHubClosed)
}
