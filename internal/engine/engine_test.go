package engine

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newParty() PartyState {
	return NewParty(Player{ID: "host", Name: "Hosty", Color: ColorRed}, "map1")
}

func ptr[T any](v T) *T { return &v }

func containsEvent(events []Event, eventType EventType) bool {
	for _, event := range events {
		if event.Type == eventType {
			return true
		}
	}
	return false
}

func TestJoinAppendsGuestNotReady(t *testing.T) {
	events, s, err := Apply(newParty(), Command{Type: CmdJoin, PlayerID: "g1", Name: "Alice", Color: ColorBlue})
	require.NoError(t, err)
	require.True(t, containsEvent(events, EvtPlayerJoined))

	want := []Player{
		{ID: "host", Name: "Hosty", IsHost: true, IsReady: true, Color: ColorRed},
		{ID: "g1", Name: "Alice", IsHost: false, IsReady: false, Color: ColorBlue},
	}
	assert.Equal(t, want, s.Players)
	assert.NoError(t, s.Validate())
}

func TestRejoinReplacesInPlace(t *testing.T) {
	s := newParty()
	_, s, _ = Apply(s, Command{Type: CmdJoin, PlayerID: "g1", Name: "Alice", Color: ColorBlue})
	_, s, _ = Apply(s, Command{Type: CmdJoin, PlayerID: "g2", Name: "Bob", Color: ColorGreen})
	_, s, _ = Apply(s, Command{Type: CmdUpdate, PlayerID: "g1", Fields: Fields{Ready: ptr(true)}})

	events, s, err := Apply(s, Command{Type: CmdJoin, PlayerID: "g1", Name: "Alice2", Color: ColorViolet})
	require.NoError(t, err)
	require.True(t, containsEvent(events, EvtPlayerRejoined))

	require.Len(t, s.Players, 3)
	assert.Equal(t, Player{ID: "g1", Name: "Alice2", Color: ColorViolet}, s.Players[1])
	assert.Equal(t, "g2", s.Players[2].ID)
}

func TestApplyRejects(t *testing.T) {
	cases := []struct {
		name    string
		cmd     Command
		wantErr error
	}{
		{
			name:    "join with unknown color",
			cmd:     Command{Type: CmdJoin, PlayerID: "g1", Color: "pink"},
			wantErr: ErrInvalidColor,
		},
		{
			name:    "join without id",
			cmd:     Command{Type: CmdJoin, Color: ColorBlue},
			wantErr: ErrEmptyID,
		},
		{
			name:    "rejoin as the host id",
			cmd:     Command{Type: CmdJoin, PlayerID: "host", Color: ColorBlue},
			wantErr: ErrHostImmutable,
		},
		{
			name:    "update unknown player",
			cmd:     Command{Type: CmdUpdate, PlayerID: "nobody", Fields: Fields{Name: ptr("x")}},
			wantErr: ErrUnknownPlayer,
		},
		{
			name:    "update with bad color",
			cmd:     Command{Type: CmdUpdate, PlayerID: "host", Fields: Fields{Color: ptr(Color("pink"))}},
			wantErr: ErrInvalidColor,
		},
		{
			name:    "remove host",
			cmd:     Command{Type: CmdRemove, PlayerID: "host"},
			wantErr: ErrHostImmutable,
		},
		{
			name:    "unknown command",
			cmd:     Command{Type: "Teleport"},
			wantErr: ErrUnsupportedCommand,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			before := newParty()
			_, after, err := Apply(before, tc.cmd)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("want %v, got %v", tc.wantErr, err)
			}
			assert.True(t, before.Equal(after), "state must be unchanged on error")
		})
	}
}

func TestUpdateMergesOnlyGivenFields(t *testing.T) {
	s := newParty()
	_, s, _ = Apply(s, Command{Type: CmdJoin, PlayerID: "g1", Name: "Alice", Color: ColorBlue})

	_, s, err := Apply(s, Command{Type: CmdUpdate, PlayerID: "g1", Fields: Fields{Ready: ptr(true)}})
	require.NoError(t, err)
	p, _ := s.Find("g1")
	assert.Equal(t, Player{ID: "g1", Name: "Alice", IsReady: true, Color: ColorBlue}, p)

	_, s, err = Apply(s, Command{Type: CmdUpdate, PlayerID: "g1", Fields: Fields{Name: ptr("Al"), Color: ptr(ColorYellow)}})
	require.NoError(t, err)
	p, _ = s.Find("g1")
	assert.Equal(t, Player{ID: "g1", Name: "Al", IsReady: true, Color: ColorYellow}, p)
}

func TestHostStaysReady(t *testing.T) {
	_, s, err := Apply(newParty(), Command{Type: CmdUpdate, PlayerID: "host", Fields: Fields{Ready: ptr(false)}})
	require.NoError(t, err)
	h, ok := s.Host()
	require.True(t, ok)
	assert.True(t, h.IsReady)
}

func TestApplyDoesNotAlias(t *testing.T) {
	s := newParty()
	_, s, _ = Apply(s, Command{Type: CmdJoin, PlayerID: "g1", Name: "Alice", Color: ColorBlue})
	snapshot := s.Clone()

	_, _, err := Apply(s, Command{Type: CmdUpdate, PlayerID: "g1", Fields: Fields{Name: ptr("Mallory")}})
	require.NoError(t, err)
	assert.True(t, s.Equal(snapshot), "input roster must not change")
}

func TestRemoveKeepsJoinOrder(t *testing.T) {
	s := newParty()
	for _, id := range []string{"g1", "g2", "g3"} {
		_, s, _ = Apply(s, Command{Type: CmdJoin, PlayerID: id, Color: ColorGreen})
	}
	events, s, err := Apply(s, Command{Type: CmdRemove, PlayerID: "g2"})
	require.NoError(t, err)
	require.True(t, containsEvent(events, EvtPlayerRemoved))

	var ids []string
	for _, p := range s.Players {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []string{"host", "g1", "g3"}, ids)
}

func TestResetReadyClearsGuestsOnly(t *testing.T) {
	s := newParty()
	_, s, _ = Apply(s, Command{Type: CmdJoin, PlayerID: "g1", Color: ColorGreen})
	_, s, _ = Apply(s, Command{Type: CmdJoin, PlayerID: "g2", Color: ColorBlue})
	_, s, _ = Apply(s, Command{Type: CmdUpdate, PlayerID: "g1", Fields: Fields{Ready: ptr(true)}})
	require.False(t, s.AllReady())
	_, s, _ = Apply(s, Command{Type: CmdUpdate, PlayerID: "g2", Fields: Fields{Ready: ptr(true)}})
	require.True(t, s.AllReady())

	events, s, err := Apply(s, Command{Type: CmdResetReady})
	require.NoError(t, err)
	assert.Len(t, events, 2)
	assert.False(t, s.AllReady())
	h, _ := s.Host()
	assert.True(t, h.IsReady)
}

func TestReduceMatchesApply(t *testing.T) {
	host := Player{ID: "host", Name: "Hosty", Color: ColorRed}
	s := NewParty(host, "")
	cmds := []Command{
		{Type: CmdJoin, PlayerID: "g1", Name: "Alice", Color: ColorBlue},
		{Type: CmdJoin, PlayerID: "g2", Name: "Bob", Color: ColorGreen},
		{Type: CmdUpdate, PlayerID: "g2", Fields: Fields{Ready: ptr(true)}},
		{Type: CmdSelectMap, MapID: "map2"},
		{Type: CmdRemove, PlayerID: "g1"},
		{Type: CmdJoin, PlayerID: "g2", Name: "Bobby", Color: ColorIndigo},
	}

	var log []Event
	for _, c := range cmds {
		events, next, err := Apply(s, c)
		require.NoError(t, err)
		log = append(log, events...)
		s = next
	}
	assert.True(t, s.Equal(Reduce(host, log)))
}

func TestRoleOf(t *testing.T) {
	s := newParty()
	_, s, _ = Apply(s, Command{Type: CmdJoin, PlayerID: "g1", Color: ColorBlue})

	assert.Equal(t, RoleHost, RoleOf(s, "host"))
	assert.Equal(t, RoleGuest, RoleOf(s, "g1"))
	assert.Equal(t, RoleNone, RoleOf(s, "g9"))
}

func TestValidateSingleHost(t *testing.T) {
	s := newParty()
	s.Players = append(s.Players, Player{ID: "x", IsHost: true})
	assert.ErrorIs(t, s.Validate(), ErrHostCount)
	assert.ErrorIs(t, PartyState{}.Validate(), ErrHostCount)
}
