package signal

import (
	"encoding/json"

	"github.com/soleron/huddle/internal/domain"
)

// handleCollabState records a cursor or selection change in the
// collaboration cache and fans it out to the rest of the room.
func (ctl *Controller) handleCollabState(c *wsConn, event string, data []byte) {
	var p struct {
		Type      string          `json:"type"`
		RoomKind  domain.RoomKind `json:"roomKind"`
		Cursor    json.RawMessage `json:"cursor,omitempty"`
		Selection json.RawMessage `json:"selection,omitempty"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(c, &domain.ValidationError{Field: "event", Reason: "malformed json"})
		return
	}
	kind := p.RoomKind
	if kind == "" {
		kind = domain.RoomDocument
	}
	if kind != domain.RoomDocument && kind != domain.RoomWhiteboard {
		ctl.sendError(c, &domain.ValidationError{Field: "roomKind", Reason: "cursor events belong to document or whiteboard rooms"})
		return
	}

	key, ok := ctl.Hub.Rooms.RoomOf(c.id, kind)
	if !ok {
		ctl.sendError(c, &domain.ValidationError{Field: "roomKind", Reason: "not in a " + string(kind) + " room"})
		return
	}

	ctl.Hub.Collab.Update(key, *c.user, p.Cursor, p.Selection)

	out := struct {
		Type      string          `json:"type"`
		RoomID    string          `json:"roomId"`
		User      domain.User     `json:"user"`
		Cursor    json.RawMessage `json:"cursor,omitempty"`
		Selection json.RawMessage `json:"selection,omitempty"`
	}{
		Type:      event,
		RoomID:    key.ID,
		User:      *c.user,
		Cursor:    p.Cursor,
		Selection: p.Selection,
	}
	b, _ := json.Marshal(out)
	ctl.Hub.Rooms.Broadcast(key, b, c.id, false)
}

// handleRoomFanout relays drawing and document change events to the
// connection's current room of the given kind. The server holds no
// authoritative content and performs no merge: last fan-out wins.
func (ctl *Controller) handleRoomFanout(c *wsConn, event string, data []byte, kind domain.RoomKind) {
	key, ok := ctl.Hub.Rooms.RoomOf(c.id, kind)
	if !ok {
		ctl.sendError(c, &domain.ValidationError{Field: "type", Reason: "not in a " + string(kind) + " room"})
		return
	}

	var payload map[string]json.RawMessage
	if err := json.Unmarshal(data, &payload); err != nil {
		ctl.sendError(c, &domain.ValidationError{Field: "event", Reason: "malformed json"})
		return
	}
	payload["type"], _ = json.Marshal(event)
	payload["roomId"], _ = json.Marshal(key.ID)
	from, _ := json.Marshal(c.user)
	payload["from"] = from

	b, _ := json.Marshal(payload)
	ctl.Hub.Rooms.Broadcast(key, b, c.id, false)
}
