package app_test

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soleron/huddle/internal/app"
	"github.com/soleron/huddle/internal/domain"
)

func newHub(t *testing.T) *app.Hub {
	t.Helper()
	rooms := app.NewRooms()
	return app.NewHub(
		app.NewPresence(&fakePresenceStore{}, time.Second),
		rooms,
		app.NewCalls(rooms, clock.NewMock(), &fakeArchiver{}, ringTimeout, monitorInterval),
		app.NewCollab(),
	)
}

func TestRegisterAnnouncesPresence(t *testing.T) {
	hub := newHub(t)
	a := newFakeConn("a", alice)
	b := newFakeConn("b", bob)

	hub.Register(a)
	hub.Register(b)

	assert.True(t, hub.Presence.IsOnline(alice.ID))
	assert.Equal(t, 2, hub.ConnCount())
	// a hears its own transition plus bob coming online.
	assert.Equal(t, 2, a.count("presence_changed"))

	// A second tab for alice is not a presence transition.
	tab2 := newFakeConn("a2", alice)
	hub.Register(tab2)
	assert.Equal(t, 1, b.count("presence_changed"))
}

func TestJoinRoomAnnouncements(t *testing.T) {
	hub := newHub(t)
	a := newFakeConn("a", alice)
	b := newFakeConn("b", bob)
	hub.Register(a)
	hub.Register(b)

	hub.JoinRoom(a, wb("W1"))
	members := hub.JoinRoom(b, wb("W1"))
	assert.Len(t, members, 2)
	assert.Equal(t, 1, a.count("user_joined"))

	// b hops to W2: W1 hears user_left, the cache entry moves out.
	hub.JoinRoom(b, wb("W2"))
	assert.Equal(t, 1, a.count("user_left"))
	active := hub.Collab.Active(wb("W1"))
	assert.Len(t, active, 1)
}

// Disconnect must cascade from stored metadata: one leave notice per
// occupied room kind, call notice, presence offline, connection forgotten.
func TestDisconnectCascade(t *testing.T) {
	hub := newHub(t)
	a := newFakeConn("a", alice)
	b := newFakeConn("b", bob)
	hub.Register(a)
	hub.Register(b)

	hub.JoinRoom(b, wb("W1"))
	hub.JoinRoom(b, domain.RoomKey{Kind: domain.RoomChat, ID: "C1"})
	hub.JoinRoom(a, wb("W1"))
	hub.JoinRoom(a, domain.RoomKey{Kind: domain.RoomChat, ID: "C1"})

	call, err := hub.Calls.Create(domain.CallOneToOne, []domain.User{alice, bob}, bob.ID)
	require.NoError(t, err)
	_, err = hub.Calls.Join(call.ID, alice.ID)
	require.NoError(t, err)

	hub.Disconnect(a)

	assert.Equal(t, 2, b.count("user_left"), "one leave notice per room kind occupied")
	assert.Equal(t, 1, b.count("call_left"), "call participants hear the disconnect")
	assert.False(t, hub.Rooms.Contains(wb("W1"), a.ID()))
	assert.False(t, hub.Presence.IsOnline(alice.ID))
	assert.Equal(t, 1, hub.ConnCount())
	assert.Empty(t, hub.Collab.Active(wb("W1")))

	got, live := hub.Calls.Get(call.ID)
	require.True(t, live)
	assert.Equal(t, domain.ParticipantLeft, got.Participant(alice.ID).Status)

	// b hears its own registration and alice going offline.
	assert.Equal(t, 2, b.count("presence_changed"))
}
