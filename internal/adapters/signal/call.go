package signal

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/soleron/huddle/internal/domain"
)

// handleStartCall creates a call from either an explicit participant list
// or the live membership of a chat room.
func (ctl *Controller) handleStartCall(c *wsConn, data []byte) {
	if c.restricted.Load() {
		ctl.sendError(c, &domain.ValidationError{Field: "storage", Reason: "storage not ready, room joins disabled"})
		return
	}
	var p struct {
		Type           string   `json:"type"`
		CallType       string   `json:"callType"`
		ChatID         string   `json:"chatId"`
		ParticipantIDs []string `json:"participantIds"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(c, &domain.ValidationError{Field: "event", Reason: "malformed json"})
		return
	}

	participants, err := ctl.resolveParticipants(c, p.ChatID, p.ParticipantIDs)
	if err != nil {
		ctl.sendError(c, err)
		return
	}

	call, err := ctl.Hub.Calls.Create(domain.CallType(p.CallType), participants, c.user.ID)
	if err != nil {
		ctl.sendError(c, err)
		return
	}

	// The caller sits in the call room from the start so signaling can
	// begin as soon as the first callee joins.
	ctl.Hub.Rooms.Join(c, domain.CallRoom(call.ID))
}

func (ctl *Controller) resolveParticipants(c *wsConn, chatID string, ids []string) ([]domain.User, error) {
	if len(ids) > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), accessTimeout)
		defer cancel()

		users := []domain.User{*c.user}
		for _, id := range ids {
			if domain.UserID(id) == c.user.ID {
				continue
			}
			u, err := ctl.Users.GetUser(ctx, domain.UserID(id))
			if err != nil {
				return nil, err
			}
			users = append(users, *u)
		}
		return users, nil
	}

	if chatID == "" {
		return nil, &domain.ValidationError{Field: "participantIds", Reason: "either chatId or participantIds is required"}
	}

	ctx, cancel := context.WithTimeout(context.Background(), accessTimeout)
	defer cancel()
	if err := ctl.Access.CanAccess(ctx, c.user.ID, domain.RoomChat, chatID); err != nil {
		return nil, err
	}

	// Ring everyone currently present in the chat room.
	members := ctl.Hub.Rooms.Members(domain.RoomKey{Kind: domain.RoomChat, ID: chatID})
	found := false
	for _, m := range members {
		if m.ID == c.user.ID {
			found = true
			break
		}
	}
	if !found {
		members = append(members, *c.user)
	}
	return members, nil
}

func (ctl *Controller) handleJoinCall(c *wsConn, data []byte) {
	if c.restricted.Load() {
		ctl.sendError(c, &domain.ValidationError{Field: "storage", Reason: "storage not ready, room joins disabled"})
		return
	}
	callID, err := stringField(data, "callId")
	if err != nil {
		ctl.sendError(c, err)
		return
	}

	if _, err := ctl.Hub.Calls.Join(callID, c.user.ID); err != nil {
		ctl.sendError(c, err)
		return
	}
	ctl.Hub.Rooms.Join(c, domain.CallRoom(callID))
}

func (ctl *Controller) handleEndCall(c *wsConn, data []byte) {
	callID, err := stringField(data, "callId")
	if err != nil {
		ctl.sendError(c, err)
		return
	}

	call, err := ctl.Hub.Calls.End(callID, c.user.ID)
	if err != nil {
		ctl.sendError(c, err)
		return
	}
	ctl.Hub.Rooms.Leave(c, domain.CallRoom(callID))
	log.Info().Str("module", "signal").Str("call", callID).
		Str("status", string(call.Status)).Msg("participant ended call")
}

func (ctl *Controller) handleRejectCall(c *wsConn, data []byte) {
	callID, err := stringField(data, "callId")
	if err != nil {
		ctl.sendError(c, err)
		return
	}
	if _, err := ctl.Hub.Calls.Reject(callID, c.user.ID); err != nil {
		ctl.sendError(c, err)
	}
}
