package app

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/soleron/huddle/internal/core"
	"github.com/soleron/huddle/internal/domain"
)

// Hub owns the shared state of the realtime process: the connection set,
// the presence registry, the room table, the call coordinator and the
// collaboration cache. Every handler mutates state through it.
type Hub struct {
	mu    sync.RWMutex
	conns map[core.ConnID]core.Conn

	Presence *Presence
	Rooms    *Rooms
	Calls    *Calls
	Collab   *Collab
}

func NewHub(presence *Presence, rooms *Rooms, calls *Calls, collab *Collab) *Hub {
	rooms.OnEmpty(collab.PurgeRoom)
	return &Hub{
		conns:    make(map[core.ConnID]core.Conn),
		Presence: presence,
		Rooms:    rooms,
		Calls:    calls,
		Collab:   collab,
	}
}

type presenceEvent struct {
	Type     string        `json:"type"`
	UserID   domain.UserID `json:"userId"`
	Online   bool          `json:"online"`
	LastSeen time.Time     `json:"lastSeen"`
}

type roomEvent struct {
	Type     string          `json:"type"`
	RoomKind domain.RoomKind `json:"roomKind"`
	RoomID   string          `json:"roomId"`
	User     domain.User     `json:"user"`
}

// Register adds a freshly authenticated connection: it joins the private
// per-user room, marks presence online and announces the presence change to
// everyone when this is the user's first connection.
func (h *Hub) Register(conn core.Conn) {
	h.mu.Lock()
	h.conns[conn.ID()] = conn
	h.mu.Unlock()

	user := conn.User()
	h.Rooms.Join(conn, domain.UserRoom(user.ID))
	if h.Presence.MarkOnline(user.ID) {
		h.BroadcastAll(marshalEvent(presenceEvent{
			Type: "presence_changed", UserID: user.ID, Online: true, LastSeen: time.Now(),
		}))
	}
	log.Info().Str("module", "app.hub").Str("conn", string(conn.ID())).
		Str("user", string(user.ID)).Msg("connection registered")
}

// JoinRoom places conn into key's room, emitting the user_left notice for
// any same-kind room it vacates and user_joined to the new room. Document
// and whiteboard rooms also seed the collaboration cache. Returns the
// updated member list.
func (h *Hub) JoinRoom(conn core.Conn, key domain.RoomKey) []domain.User {
	user := *conn.User()
	members, prev := h.Rooms.Join(conn, key)

	if prev != nil {
		h.Collab.Remove(*prev, user.ID)
		h.Rooms.Broadcast(*prev, marshalEvent(roomEvent{
			Type: "user_left", RoomKind: prev.Kind, RoomID: prev.ID, User: user,
		}), conn.ID(), true)
	}
	if key.Kind == domain.RoomWhiteboard || key.Kind == domain.RoomDocument {
		h.Collab.Seed(key, user)
	}
	h.Rooms.Broadcast(key, marshalEvent(roomEvent{
		Type: "user_joined", RoomKind: key.Kind, RoomID: key.ID, User: user,
	}), conn.ID(), false)
	return members
}

// LeaveRoom removes conn from key's room with the symmetric notice.
func (h *Hub) LeaveRoom(conn core.Conn, key domain.RoomKey) {
	user := *conn.User()
	if !h.Rooms.Leave(conn, key) {
		return
	}
	h.Collab.Remove(key, user.ID)
	h.Rooms.Broadcast(key, marshalEvent(roomEvent{
		Type: "user_left", RoomKind: key.Kind, RoomID: key.ID, User: user,
	}), conn.ID(), true)
}

// Disconnect runs the full cascade for a connection whose transport is
// already gone: leave every joined room with exactly one notice per room,
// notify live calls, flip presence, and forget the connection. It relies
// only on stored metadata.
func (h *Hub) Disconnect(conn core.Conn) {
	user := *conn.User()

	left := h.Rooms.LeaveAll(conn)
	for _, key := range left {
		switch key.Kind {
		case domain.RoomNotification:
			// private room, nothing to announce
		case domain.RoomCall:
			// participant-left notice is the call coordinator's job below
		default:
			h.Collab.Remove(key, user.ID)
			h.Rooms.Broadcast(key, marshalEvent(roomEvent{
				Type: "user_left", RoomKind: key.Kind, RoomID: key.ID, User: user,
			}), conn.ID(), true)
		}
	}

	h.Calls.OnDisconnect(user.ID)

	if h.Presence.MarkOffline(user.ID) {
		h.BroadcastAll(marshalEvent(presenceEvent{
			Type: "presence_changed", UserID: user.ID, Online: false, LastSeen: time.Now(),
		}))
	}

	h.mu.Lock()
	delete(h.conns, conn.ID())
	h.mu.Unlock()
	log.Info().Str("module", "app.hub").Str("conn", string(conn.ID())).
		Str("user", string(user.ID)).Msg("connection gone")
}

// BroadcastAll fans a frame to every live connection.
func (h *Hub) BroadcastAll(frame core.Frame) {
	if frame == nil {
		return
	}
	h.mu.RLock()
	conns := make([]core.Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		if err := c.TrySend(frame); err != nil {
			log.Warn().Err(err).Str("module", "app.hub").
				Str("conn", string(c.ID())).Msg("dropping global frame")
		}
	}
}

// ConnCount is a test and health helper.
func (h *Hub) ConnCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}
