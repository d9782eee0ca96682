package signal

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soleron/huddle/internal/app"
	"github.com/soleron/huddle/internal/config"
	"github.com/soleron/huddle/internal/core"
	"github.com/soleron/huddle/internal/domain"
)

var (
	alice = domain.User{ID: "alice", Username: "Alice"}
	bob   = domain.User{ID: "bob", Username: "Bob"}
)

type fakeAccess struct{ err error }

func (a fakeAccess) CanAccess(context.Context, domain.UserID, domain.RoomKind, string) error {
	return a.err
}

type fakeUsers map[domain.UserID]domain.User

func (u fakeUsers) GetUser(_ context.Context, id domain.UserID) (*domain.User, error) {
	if user, ok := u[id]; ok {
		return &user, nil
	}
	return nil, &domain.NotFoundError{Resource: "user", ID: string(id)}
}

type fakeProbe struct{ err error }

func (p fakeProbe) Ready(context.Context) error { return p.err }

type testRig struct {
	ctl *Controller
	clk *clock.Mock
}

func newRig(t *testing.T, access error) *testRig {
	t.Helper()
	rooms := app.NewRooms()
	clk := clock.NewMock()
	hub := app.NewHub(
		app.NewPresence(nil, time.Second),
		rooms,
		app.NewCalls(rooms, clk, nil, 30*time.Second, 5*time.Second),
		app.NewCollab(),
	)
	ctl := NewController(
		hub,
		nil,
		fakeUsers{alice.ID: alice, bob.ID: bob},
		fakeAccess{err: access},
		fakeProbe{},
		&config.Config{ReadLimit: 32768, WriteWait: time.Second, PongWait: time.Minute},
	)
	return &testRig{ctl: ctl, clk: clk}
}

// connect builds a registered connection without a real socket; dispatch
// and fan-out only ever touch the send channel.
func (r *testRig) connect(id string, user domain.User) *wsConn {
	c := &wsConn{
		id:   core.ConnID(id),
		user: &user,
		send: make(chan core.Frame, 64),
	}
	r.ctl.Hub.Register(c)
	drain(c)
	return c
}

// drain empties the send channel and returns the decoded frames.
func drain(c *wsConn) []map[string]json.RawMessage {
	var out []map[string]json.RawMessage
	for {
		select {
		case f := <-c.send:
			var m map[string]json.RawMessage
			if json.Unmarshal(f, &m) == nil {
				out = append(out, m)
			}
		default:
			return out
		}
	}
}

func eventTypes(frames []map[string]json.RawMessage) []string {
	out := make([]string, 0, len(frames))
	for _, f := range frames {
		var s string
		_ = json.Unmarshal(f["type"], &s)
		out = append(out, s)
	}
	return out
}

func errorCode(t *testing.T, frames []map[string]json.RawMessage) string {
	t.Helper()
	for _, f := range frames {
		var s string
		_ = json.Unmarshal(f["type"], &s)
		if s == "error" {
			var code string
			require.NoError(t, json.Unmarshal(f["code"], &code))
			return code
		}
	}
	t.Fatal("no error frame")
	return ""
}

func TestDispatchUnknownEvent(t *testing.T) {
	rig := newRig(t, nil)
	c := rig.connect("c1", alice)

	rig.ctl.dispatch(c, []byte(`{"type":"teleport"}`))
	assert.Equal(t, "invalid_payload", errorCode(t, drain(c)))
}

func TestDispatchMalformedJSON(t *testing.T) {
	rig := newRig(t, nil)
	c := rig.connect("c1", alice)

	rig.ctl.dispatch(c, []byte(`{"type":`))
	assert.Equal(t, "invalid_payload", errorCode(t, drain(c)))
}

func TestJoinWhiteboardReportsCollaborators(t *testing.T) {
	rig := newRig(t, nil)
	c1 := rig.connect("c1", alice)
	c2 := rig.connect("c2", bob)
	drain(c1) // bob's presence announcement

	rig.ctl.dispatch(c1, []byte(`{"type":"join_whiteboard","whiteboardId":"W1"}`))
	frames := drain(c1)
	require.Contains(t, eventTypes(frames), "active_collaborators")

	rig.ctl.dispatch(c2, []byte(`{"type":"join_whiteboard","whiteboardId":"W1"}`))
	assert.Contains(t, eventTypes(drain(c1)), "user_joined")

	// The joined list for c2 already carries alice.
	frames = drain(c2)
	for _, f := range frames {
		var typ string
		_ = json.Unmarshal(f["type"], &typ)
		if typ != "active_collaborators" {
			continue
		}
		var collaborators []app.CollabEntry
		require.NoError(t, json.Unmarshal(f["collaborators"], &collaborators))
		assert.Len(t, collaborators, 2)
		return
	}
	t.Fatal("no active_collaborators frame for c2")
}

func TestJoinMissingField(t *testing.T) {
	rig := newRig(t, nil)
	c := rig.connect("c1", alice)

	rig.ctl.dispatch(c, []byte(`{"type":"join_document"}`))
	assert.Equal(t, "invalid_payload", errorCode(t, drain(c)))
}

func TestJoinRefusedByAccessCheck(t *testing.T) {
	rig := newRig(t, &domain.NotFoundError{Resource: "whiteboard", ID: "W1"})
	c := rig.connect("c1", alice)

	rig.ctl.dispatch(c, []byte(`{"type":"join_whiteboard","whiteboardId":"W1"}`))
	assert.Equal(t, "not_found", errorCode(t, drain(c)))
	assert.False(t, rig.ctl.Hub.Rooms.Contains(domain.RoomKey{Kind: domain.RoomWhiteboard, ID: "W1"}, c.id))
}

func TestRestrictedConnCannotJoin(t *testing.T) {
	rig := newRig(t, nil)
	c := rig.connect("c1", alice)
	c.restricted.Store(true)

	rig.ctl.dispatch(c, []byte(`{"type":"join_chat","chatId":"C1"}`))
	assert.Equal(t, "invalid_payload", errorCode(t, drain(c)))

	// Non-join traffic still works.
	rig.ctl.dispatch(c, []byte(`{"type":"ping"}`))
	assert.Contains(t, eventTypes(drain(c)), "pong")
}

func TestRelayScopedToCallRoom(t *testing.T) {
	rig := newRig(t, nil)
	caller := rig.connect("c1", alice)
	callee := rig.connect("c2", bob)
	outsider := rig.connect("c3", domain.User{ID: "mallory", Username: "Mallory"})

	rig.ctl.dispatch(caller, []byte(`{"type":"start_call","callType":"one_to_one","participantIds":["bob"]}`))
	require.Empty(t, eventTypes(drainErrors(caller)))

	var callID string
	for _, f := range drain(callee) {
		var typ string
		_ = json.Unmarshal(f["type"], &typ)
		if typ == "incoming_call" {
			var ev struct {
				Call domain.Call `json:"call"`
			}
			raw, _ := json.Marshal(f)
			require.NoError(t, json.Unmarshal(raw, &ev))
			callID = ev.Call.ID
		}
	}
	require.NotEmpty(t, callID)

	rig.ctl.dispatch(callee, []byte(`{"type":"join_call","callId":"`+callID+`"}`))
	drain(caller)
	drain(callee)
	drain(outsider)

	offer := `{"type":"sdp_offer","callId":"` + callID + `","offer":{"sdp":"v=0"}}`
	rig.ctl.dispatch(caller, []byte(offer))

	frames := drain(callee)
	require.Contains(t, eventTypes(frames), "sdp_offer")
	for _, f := range frames {
		var typ string
		_ = json.Unmarshal(f["type"], &typ)
		if typ == "sdp_offer" {
			var from domain.User
			require.NoError(t, json.Unmarshal(f["from"], &from))
			assert.Equal(t, alice.ID, from.ID)
		}
	}
	assert.NotContains(t, eventTypes(drain(outsider)), "sdp_offer", "relay never leaves the call room")
	assert.NotContains(t, eventTypes(drain(caller)), "sdp_offer", "sender is excluded")

	// A connection outside the call room cannot relay into it.
	rig.ctl.dispatch(outsider, []byte(offer))
	assert.Equal(t, "forbidden", errorCode(t, drain(outsider)))
	assert.NotContains(t, eventTypes(drain(callee)), "sdp_offer")
}

// drainErrors keeps only error frames; convenience for asserting clean runs.
func drainErrors(c *wsConn) []map[string]json.RawMessage {
	var out []map[string]json.RawMessage
	for _, f := range drain(c) {
		var typ string
		_ = json.Unmarshal(f["type"], &typ)
		if typ == "error" {
			out = append(out, f)
		}
	}
	return out
}

func TestSendMessageFanout(t *testing.T) {
	rig := newRig(t, nil)
	c1 := rig.connect("c1", alice)
	c2 := rig.connect("c2", bob)
	drain(c1)

	rig.ctl.dispatch(c1, []byte(`{"type":"join_chat","chatId":"C1"}`))
	rig.ctl.dispatch(c2, []byte(`{"type":"join_chat","chatId":"C1"}`))
	drain(c1)
	drain(c2)

	rig.ctl.dispatch(c1, []byte(`{"type":"send_message","chatId":"C1","content":"hello"}`))

	types := eventTypes(drain(c2))
	assert.Contains(t, types, "new_message")
	assert.Contains(t, types, "chat_updated", "members get the list refresh on their private room")
	// The sender's list refreshes too, but it never echoes the message.
	types = eventTypes(drain(c1))
	assert.NotContains(t, types, "new_message")
	assert.Contains(t, types, "chat_updated")
}

func TestSendMessageRequiresMembership(t *testing.T) {
	rig := newRig(t, nil)
	c := rig.connect("c1", alice)

	rig.ctl.dispatch(c, []byte(`{"type":"send_message","chatId":"C1","content":"hi"}`))
	assert.Equal(t, "forbidden", errorCode(t, drain(c)))
}

func TestCursorUpdateNeedsRoom(t *testing.T) {
	rig := newRig(t, nil)
	c := rig.connect("c1", alice)

	rig.ctl.dispatch(c, []byte(`{"type":"cursor_update","cursor":{"line":1}}`))
	assert.Equal(t, "invalid_payload", errorCode(t, drain(c)))
}

func TestCursorUpdateCachesAndFansOut(t *testing.T) {
	rig := newRig(t, nil)
	c1 := rig.connect("c1", alice)
	c2 := rig.connect("c2", bob)
	drain(c1)

	rig.ctl.dispatch(c1, []byte(`{"type":"join_document","documentId":"D1"}`))
	rig.ctl.dispatch(c2, []byte(`{"type":"join_document","documentId":"D1"}`))
	drain(c1)
	drain(c2)

	rig.ctl.dispatch(c1, []byte(`{"type":"cursor_update","cursor":{"line":7}}`))
	assert.Contains(t, eventTypes(drain(c2)), "cursor_update")

	key := domain.RoomKey{Kind: domain.RoomDocument, ID: "D1"}
	for _, e := range rig.ctl.Hub.Collab.Active(key) {
		if e.User.ID == alice.ID {
			assert.JSONEq(t, `{"line":7}`, string(e.Cursor))
			return
		}
	}
	t.Fatal("alice's cursor not cached")
}

func TestContentChangeIsPureFanout(t *testing.T) {
	rig := newRig(t, nil)
	c1 := rig.connect("c1", alice)
	c2 := rig.connect("c2", bob)
	drain(c1)

	rig.ctl.dispatch(c1, []byte(`{"type":"join_document","documentId":"D1"}`))
	rig.ctl.dispatch(c2, []byte(`{"type":"join_document","documentId":"D1"}`))
	drain(c1)
	drain(c2)

	before := len(rig.ctl.Hub.Collab.Active(domain.RoomKey{Kind: domain.RoomDocument, ID: "D1"}))
	rig.ctl.dispatch(c1, []byte(`{"type":"content_change","delta":{"insert":"x"}}`))

	frames := drain(c2)
	require.Contains(t, eventTypes(frames), "content_change")
	for _, f := range frames {
		var typ string
		_ = json.Unmarshal(f["type"], &typ)
		if typ == "content_change" {
			assert.Contains(t, f, "delta", "payload forwarded untouched")
			assert.Contains(t, f, "from")
		}
	}
	after := len(rig.ctl.Hub.Collab.Active(domain.RoomKey{Kind: domain.RoomDocument, ID: "D1"}))
	assert.Equal(t, before, after, "content events never touch the cache")
}

func TestExtractCredentialPriority(t *testing.T) {
	req, err := http.NewRequest(http.MethodGet, "http://hub/api/ws?token=query-token", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer header-token")
	assert.Equal(t, "query-token", extractCredential(req), "query field beats header")

	req.AddCookie(&http.Cookie{Name: "token", Value: "cookie-token"})
	assert.Equal(t, "cookie-token", extractCredential(req), "cookie beats everything")

	req, err = http.NewRequest(http.MethodGet, "http://hub/api/ws", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer header-token")
	assert.Equal(t, "header-token", extractCredential(req))

	req, err = http.NewRequest(http.MethodGet, "http://hub/api/ws", nil)
	require.NoError(t, err)
	assert.Empty(t, extractCredential(req))
}
