package results

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/DoyleJ11/kart-party/internal/ranking"
)

func finals() []ranking.Standing {
	return ranking.Final([]ranking.Entry{
		{PlayerID: "a", Name: "Ann", GateIndex: 8, FinishTime: 83 * time.Second},
		{PlayerID: "b", Name: "Bob", GateIndex: 8, FinishTime: 70 * time.Second},
		{PlayerID: "c", Name: "Cy", GateIndex: 5},
	})
}

func TestBuild(t *testing.T) {
	at := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	r := Build("host", "canyon", finals(), at)

	require.Len(t, r.Standings, 2)
	assert.Equal(t, Line{Position: 1, PlayerID: "b", Name: "Bob", Time: "01:10", FinishTime: 70000}, r.Standings[0])
	assert.Equal(t, Line{Position: 2, PlayerID: "a", Name: "Ann", Time: "01:23", FinishTime: 83000}, r.Standings[1])
	assert.Equal(t, "canyon", r.MapID)
	assert.Equal(t, at, r.FinishedAt)
}

func TestLogPublisher(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	p := NewLogPublisher(zap.New(core))

	require.NoError(t, p.Publish(context.Background(), Build("host", "canyon", finals(), time.Now())))
	entries := logs.FilterMessage("race finished").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "Bob 01:10", fields["1st"])
	assert.Equal(t, "Ann 01:23", fields["2nd"])
}

type chanPublisher chan Report

func (c chanPublisher) Publish(_ context.Context, r Report) error {
	select {
	case c <- r:
	default:
	}
	return nil
}

func TestRedisRoundTrip(t *testing.T) {
	addr := os.Getenv("KART_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("KART_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { client.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	channel := "kart-results-test-" + t.Name()
	got := make(chanPublisher, 1)
	done := make(chan error, 1)
	go func() { done <- Forward(ctx, client, channel, got, nil) }()

	pub := NewRedisPublisher(client, channel, nil)
	want := Build("host", "canyon", finals(), time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC))
	require.Eventually(t, func() bool {
		// Retry until the subscription is live.
		_ = pub.Publish(ctx, want)
		select {
		case r := <-got:
			assert.Equal(t, want, r)
			return true
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, 3*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Forward did not stop")
	}
}
