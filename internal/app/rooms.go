package app

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/soleron/huddle/internal/core"
	"github.com/soleron/huddle/internal/domain"
)

// Rooms is the membership table behind every broadcast in the hub. A
// connection may occupy at most one room per kind; joining another room of
// the same kind leaves the previous one first.
type Rooms struct {
	mu     sync.RWMutex
	rooms  map[domain.RoomKey]map[core.ConnID]core.Conn
	byConn map[core.ConnID]map[domain.RoomKind]domain.RoomKey

	onEmpty []func(domain.RoomKey)
}

func NewRooms() *Rooms {
	return &Rooms{
		rooms:  make(map[domain.RoomKey]map[core.ConnID]core.Conn),
		byConn: make(map[core.ConnID]map[domain.RoomKind]domain.RoomKey),
	}
}

// OnEmpty registers a hook run after a room's membership reaches zero and
// the room is deleted. Used to purge collaborator caches.
func (r *Rooms) OnEmpty(fn func(domain.RoomKey)) {
	r.onEmpty = append(r.onEmpty, fn)
}

// Join registers conn in key's room, leaving any prior room of the same
// kind. It returns the updated member list (distinct users) and the key of
// the room that was left, if any.
func (r *Rooms) Join(conn core.Conn, key domain.RoomKey) ([]domain.User, *domain.RoomKey) {
	var emptied []domain.RoomKey
	var prev *domain.RoomKey

	r.mu.Lock()
	kinds, ok := r.byConn[conn.ID()]
	if !ok {
		kinds = make(map[domain.RoomKind]domain.RoomKey)
		r.byConn[conn.ID()] = kinds
	}
	if old, ok := kinds[key.Kind]; ok && old != key {
		prev = &old
		if r.removeLocked(conn.ID(), old) {
			emptied = append(emptied, old)
		}
	}

	members, ok := r.rooms[key]
	if !ok {
		members = make(map[core.ConnID]core.Conn)
		r.rooms[key] = members
	}
	members[conn.ID()] = conn
	kinds[key.Kind] = key
	list := membersLocked(members)
	r.mu.Unlock()

	r.runEmptyHooks(emptied)
	log.Debug().Str("module", "app.rooms").Str("conn", string(conn.ID())).
		Str("room", key.String()).Msg("joined room")
	return list, prev
}

// Leave removes conn from key's room and reports whether it was a member.
// A room left with zero members is deleted and its caches purged.
func (r *Rooms) Leave(conn core.Conn, key domain.RoomKey) bool {
	r.mu.Lock()
	kinds, ok := r.byConn[conn.ID()]
	if !ok || kinds[key.Kind] != key {
		r.mu.Unlock()
		return false
	}
	delete(kinds, key.Kind)
	empty := r.removeLocked(conn.ID(), key)
	r.mu.Unlock()

	if empty {
		r.runEmptyHooks([]domain.RoomKey{key})
	}
	return true
}

// LeaveAll removes conn from every joined room and returns the keys it
// occupied. Used by the disconnect cascade; the transport may already be
// closed, only stored metadata is touched.
func (r *Rooms) LeaveAll(conn core.Conn) []domain.RoomKey {
	var emptied, left []domain.RoomKey

	r.mu.Lock()
	for _, key := range r.byConn[conn.ID()] {
		left = append(left, key)
		if r.removeLocked(conn.ID(), key) {
			emptied = append(emptied, key)
		}
	}
	delete(r.byConn, conn.ID())
	r.mu.Unlock()

	r.runEmptyHooks(emptied)
	return left
}

// RoomOf returns the room of the given kind conn currently occupies.
func (r *Rooms) RoomOf(id core.ConnID, kind domain.RoomKind) (domain.RoomKey, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	key, ok := r.byConn[id][kind]
	return key, ok
}

// Contains reports whether conn id is a member of key's room.
func (r *Rooms) Contains(key domain.RoomKey, id core.ConnID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[key][id]
	return ok
}

// Conns returns the live connections in key's room.
func (r *Rooms) Conns(key domain.RoomKey) []core.Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.Conn, 0, len(r.rooms[key]))
	for _, c := range r.rooms[key] {
		out = append(out, c)
	}
	return out
}

// Members returns the distinct users present in key's room.
func (r *Rooms) Members(key domain.RoomKey) []domain.User {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return membersLocked(r.rooms[key])
}

// Broadcast fans frame to every member of key's room, excluding from unless
// includeSender. Slow consumers are dropped, never waited on; delivery to
// each recipient preserves the sender's emission order.
func (r *Rooms) Broadcast(key domain.RoomKey, frame core.Frame, from core.ConnID, includeSender bool) int {
	r.mu.RLock()
	conns := make([]core.Conn, 0, len(r.rooms[key]))
	for id, c := range r.rooms[key] {
		if id == from && !includeSender {
			continue
		}
		conns = append(conns, c)
	}
	r.mu.RUnlock()

	sent := 0
	for _, c := range conns {
		if err := c.TrySend(frame); err != nil {
			log.Warn().Err(err).Str("module", "app.rooms").
				Str("room", key.String()).Str("conn", string(c.ID())).
				Msg("dropping frame for slow consumer")
			continue
		}
		sent++
	}
	return sent
}

// removeLocked deletes the membership entry and reports whether the room
// emptied out (and was deleted).
func (r *Rooms) removeLocked(id core.ConnID, key domain.RoomKey) bool {
	members, ok := r.rooms[key]
	if !ok {
		return false
	}
	delete(members, id)
	if len(members) == 0 {
		delete(r.rooms, key)
		return true
	}
	return false
}

func (r *Rooms) runEmptyHooks(keys []domain.RoomKey) {
	for _, key := range keys {
		for _, fn := range r.onEmpty {
			fn(key)
		}
	}
}

func membersLocked(conns map[core.ConnID]core.Conn) []domain.User {
	seen := make(map[domain.UserID]bool, len(conns))
	out := make([]domain.User, 0, len(conns))
	for _, c := range conns {
		u := c.User()
		if u == nil || seen[u.ID] {
			continue
		}
		seen[u.ID] = true
		out = append(out, *u)
	}
	return out
}
