package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/soleron/huddle/internal/app"
	"github.com/soleron/huddle/internal/domain"
)

const accessTimeout = 5 * time.Second

// stringField extracts one required string field from a raw event.
func stringField(data []byte, field string) (string, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return "", &domain.ValidationError{Field: "event", Reason: "malformed json"}
	}
	raw, ok := m[field]
	if !ok {
		return "", &domain.ValidationError{Field: field, Reason: "required"}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil || s == "" {
		return "", &domain.ValidationError{Field: field, Reason: "must be a non-empty string"}
	}
	return s, nil
}

func (ctl *Controller) handleJoinRoom(c *wsConn, data []byte, kind domain.RoomKind, idField string) {
	if c.restricted.Load() {
		ctl.sendError(c, &domain.ValidationError{Field: "storage", Reason: "storage not ready, room joins disabled"})
		return
	}
	id, err := stringField(data, idField)
	if err != nil {
		ctl.sendError(c, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), accessTimeout)
	defer cancel()
	if err := ctl.Access.CanAccess(ctx, c.user.ID, kind, id); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conn", string(c.id)).
			Str("room", string(kind)+":"+id).Msg("join refused")
		ctl.sendError(c, err)
		return
	}

	key := domain.RoomKey{Kind: kind, ID: id}
	members := ctl.Hub.JoinRoom(c, key)

	switch kind {
	case domain.RoomWhiteboard, domain.RoomDocument:
		ctl.sendJSON(c, struct {
			Type          string            `json:"type"`
			RoomID        string            `json:"roomId"`
			Collaborators []app.CollabEntry `json:"collaborators"`
		}{
			Type:          "active_collaborators",
			RoomID:        id,
			Collaborators: ctl.Hub.Collab.Active(key),
		})
	default:
		ctl.sendJSON(c, struct {
			Type   string        `json:"type"`
			RoomID string        `json:"roomId"`
			Users  []domain.User `json:"users"`
		}{
			Type:   "active_users",
			RoomID: id,
			Users:  members,
		})
	}
}

func (ctl *Controller) handleLeaveRoom(c *wsConn, data []byte, kind domain.RoomKind, idField string) {
	id, err := stringField(data, idField)
	if err != nil {
		ctl.sendError(c, err)
		return
	}
	ctl.Hub.LeaveRoom(c, domain.RoomKey{Kind: kind, ID: id})
}
