package app

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/soleron/huddle/internal/domain"
)

// CollabEntry is one active collaborator's ephemeral cursor/selection state
// inside a document or whiteboard room. Payloads stay opaque; the hub never
// interprets editor coordinates.
type CollabEntry struct {
	User      domain.User     `json:"user"`
	Cursor    json.RawMessage `json:"cursor,omitempty"`
	Selection json.RawMessage `json:"selection,omitempty"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Collab caches who is actively collaborating per room. Entries live only
// as long as their room does.
type Collab struct {
	mu    sync.RWMutex
	rooms map[domain.RoomKey]map[domain.UserID]*CollabEntry
}

func NewCollab() *Collab {
	return &Collab{rooms: make(map[domain.RoomKey]map[domain.UserID]*CollabEntry)}
}

// Seed creates a bare entry on room join so the user shows up in
// active_collaborators before its first cursor event.
func (c *Collab) Seed(key domain.RoomKey, user domain.User) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entries, ok := c.rooms[key]
	if !ok {
		entries = make(map[domain.UserID]*CollabEntry)
		c.rooms[key] = entries
	}
	if _, ok := entries[user.ID]; !ok {
		entries[user.ID] = &CollabEntry{User: user, UpdatedAt: time.Now()}
	}
}

// Update records a cursor and/or selection change. A nil field leaves the
// previous value in place.
func (c *Collab) Update(key domain.RoomKey, user domain.User, cursor, selection json.RawMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entries, ok := c.rooms[key]
	if !ok {
		entries = make(map[domain.UserID]*CollabEntry)
		c.rooms[key] = entries
	}
	e, ok := entries[user.ID]
	if !ok {
		e = &CollabEntry{User: user}
		entries[user.ID] = e
	}
	if cursor != nil {
		e.Cursor = cursor
	}
	if selection != nil {
		e.Selection = selection
	}
	e.UpdatedAt = time.Now()
}

// Active answers "who is active now" for key's room.
func (c *Collab) Active(key domain.RoomKey) []CollabEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entries := c.rooms[key]
	out := make([]CollabEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, *e)
	}
	return out
}

// Remove drops one user's entry, on leave or disconnect.
func (c *Collab) Remove(key domain.RoomKey, id domain.UserID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entries, ok := c.rooms[key]; ok {
		delete(entries, id)
		if len(entries) == 0 {
			delete(c.rooms, key)
		}
	}
}

// PurgeRoom drops every entry for key. Wired to the rooms empty hook so an
// emptied room never leaves cache behind.
func (c *Collab) PurgeRoom(key domain.RoomKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rooms, key)
}

// Size is a test helper reporting the number of cached rooms.
func (c *Collab) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.rooms)
}
