package signal

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/soleron/huddle/internal/domain"
)

// handleSendMessage fans a chat message to the chat room and pushes a
// chat_updated notice to each member's private room so their chat lists
// refresh. Message persistence belongs to the chat service, not the hub.
func (ctl *Controller) handleSendMessage(c *wsConn, data []byte) {
	var p struct {
		Type    string          `json:"type"`
		ChatID  string          `json:"chatId"`
		Content string          `json:"content"`
		MsgType string          `json:"msgType"`
		Media   json.RawMessage `json:"media,omitempty"`
		ReplyTo string          `json:"replyTo,omitempty"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(c, &domain.ValidationError{Field: "event", Reason: "malformed json"})
		return
	}
	if p.ChatID == "" {
		ctl.sendError(c, &domain.ValidationError{Field: "chatId", Reason: "required"})
		return
	}
	if p.Content == "" && p.Media == nil {
		ctl.sendError(c, &domain.ValidationError{Field: "content", Reason: "message needs content or media"})
		return
	}

	key := domain.RoomKey{Kind: domain.RoomChat, ID: p.ChatID}
	if !ctl.Hub.Rooms.Contains(key, c.id) {
		ctl.sendError(c, &domain.AuthorizationError{Resource: "chat " + p.ChatID, Reason: "not in chat room"})
		return
	}

	msg := struct {
		Type      string          `json:"type"`
		MessageID string          `json:"messageId"`
		ChatID    string          `json:"chatId"`
		From      domain.User     `json:"from"`
		Content   string          `json:"content,omitempty"`
		MsgType   string          `json:"msgType,omitempty"`
		Media     json.RawMessage `json:"media,omitempty"`
		ReplyTo   string          `json:"replyTo,omitempty"`
		SentAt    time.Time       `json:"sentAt"`
	}{
		Type:      "new_message",
		MessageID: uuid.NewString(),
		ChatID:    p.ChatID,
		From:      *c.user,
		Content:   p.Content,
		MsgType:   p.MsgType,
		Media:     p.Media,
		ReplyTo:   p.ReplyTo,
		SentAt:    time.Now(),
	}
	b, _ := json.Marshal(msg)
	ctl.Hub.Rooms.Broadcast(key, b, c.id, false)

	// Explicit list-invalidation channel: only members of this chat get the
	// refresh notice, via their private rooms, never a global broadcast.
	notice, _ := json.Marshal(struct {
		Type   string `json:"type"`
		ChatID string `json:"chatId"`
	}{
		Type:   "chat_updated",
		ChatID: p.ChatID,
	})
	for _, member := range ctl.Hub.Rooms.Members(key) {
		ctl.Hub.Rooms.Broadcast(domain.UserRoom(member.ID), notice, "", true)
	}
}

// handleMarkMessage relays read/delivered receipts to the chat room.
func (ctl *Controller) handleMarkMessage(c *wsConn, data []byte, event string) {
	var p struct {
		Type      string `json:"type"`
		ChatID    string `json:"chatId"`
		MessageID string `json:"messageId"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(c, &domain.ValidationError{Field: "event", Reason: "malformed json"})
		return
	}
	if p.ChatID == "" || p.MessageID == "" {
		ctl.sendError(c, &domain.ValidationError{Field: "chatId", Reason: "chatId and messageId are required"})
		return
	}

	key := domain.RoomKey{Kind: domain.RoomChat, ID: p.ChatID}
	if !ctl.Hub.Rooms.Contains(key, c.id) {
		ctl.sendError(c, &domain.AuthorizationError{Resource: "chat " + p.ChatID, Reason: "not in chat room"})
		return
	}

	b, _ := json.Marshal(struct {
		Type      string      `json:"type"`
		ChatID    string      `json:"chatId"`
		MessageID string      `json:"messageId"`
		By        domain.User `json:"by"`
	}{
		Type:      event,
		ChatID:    p.ChatID,
		MessageID: p.MessageID,
		By:        *c.user,
	})
	ctl.Hub.Rooms.Broadcast(key, b, c.id, false)
}

func (ctl *Controller) handleTyping(c *wsConn, event string, data []byte) {
	chatID, err := stringField(data, "chatId")
	if err != nil {
		ctl.sendError(c, err)
		return
	}
	key := domain.RoomKey{Kind: domain.RoomChat, ID: chatID}
	if !ctl.Hub.Rooms.Contains(key, c.id) {
		return
	}

	b, _ := json.Marshal(struct {
		Type   string      `json:"type"`
		ChatID string      `json:"chatId"`
		User   domain.User `json:"user"`
	}{
		Type:   event,
		ChatID: chatID,
		User:   *c.user,
	})
	ctl.Hub.Rooms.Broadcast(key, b, c.id, false)
}
