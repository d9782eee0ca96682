package signal

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/soleron/huddle/internal/domain"
)

func (ctl *Controller) writePump(ctx context.Context, c *wsConn) {
	pingPeriod := ctl.Cfg.PongWait * 9 / 10
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.Cfg.WriteWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.Cfg.WriteWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, c *wsConn) {
	defer log.Info().Str("module", "signal").Str("conn", string(c.id)).Msg("readPump closing")

	_ = c.conn.SetReadDeadline(time.Now().Add(ctl.Cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(ctl.Cfg.PongWait))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Warn().Err(err).Str("module", "signal").Str("conn", string(c.id)).Msg("readPump read error")
				}
				return
			}
			ctl.dispatch(c, data)
		}
	}
}

// dispatch routes one inbound event. The event set is closed: anything
// outside it earns a scoped error, never a dropped connection. A panicking
// handler is recovered so one connection cannot take down its peers.
func (ctl *Controller) dispatch(c *wsConn, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("module", "signal").
				Str("conn", string(c.id)).Msg("handler panic recovered")
			ctl.sendError(c, errInternal)
		}
	}()

	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		ctl.sendError(c, &domain.ValidationError{Field: "event", Reason: "malformed json"})
		return
	}

	switch env.Type {
	case "join_whiteboard":
		ctl.handleJoinRoom(c, data, domain.RoomWhiteboard, "whiteboardId")
	case "join_document":
		ctl.handleJoinRoom(c, data, domain.RoomDocument, "documentId")
	case "join_chat":
		ctl.handleJoinRoom(c, data, domain.RoomChat, "chatId")
	case "join_project":
		ctl.handleJoinRoom(c, data, domain.RoomProject, "projectId")
	case "leave_whiteboard":
		ctl.handleLeaveRoom(c, data, domain.RoomWhiteboard, "whiteboardId")
	case "leave_document":
		ctl.handleLeaveRoom(c, data, domain.RoomDocument, "documentId")
	case "leave_chat":
		ctl.handleLeaveRoom(c, data, domain.RoomChat, "chatId")
	case "leave_project":
		ctl.handleLeaveRoom(c, data, domain.RoomProject, "projectId")
	case "start_call":
		ctl.handleStartCall(c, data)
	case "join_call":
		ctl.handleJoinCall(c, data)
	case "end_call":
		ctl.handleEndCall(c, data)
	case "reject_call":
		ctl.handleRejectCall(c, data)
	case "sdp_offer", "sdp_answer", "ice_candidate":
		ctl.handleRelay(c, env.Type, data)
	case "send_message":
		ctl.handleSendMessage(c, data)
	case "mark_as_read":
		ctl.handleMarkMessage(c, data, "messages_read")
	case "mark_as_delivered":
		ctl.handleMarkMessage(c, data, "message_delivered")
	case "typing_start", "typing_stop":
		ctl.handleTyping(c, env.Type, data)
	case "cursor_update", "selection_update":
		ctl.handleCollabState(c, env.Type, data)
	case "draw_action", "clear_canvas":
		ctl.handleRoomFanout(c, env.Type, data, domain.RoomWhiteboard)
	case "content_change", "format_change", "structure_change", "title_change", "save_status":
		ctl.handleRoomFanout(c, env.Type, data, domain.RoomDocument)
	case "ping":
		ctl.handlePing(c)
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown event")
		ctl.sendError(c, &domain.ValidationError{Field: "type", Reason: "unknown event " + env.Type})
	}
}

var errInternal = errors.New("internal error")

func (ctl *Controller) sendJSON(c *wsConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(b)
}

// sendError emits the scoped error event for this connection only.
func (ctl *Controller) sendError(c *wsConn, err error) {
	ctl.sendJSON(c, struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	}{
		Type:    "error",
		Code:    domain.ErrorCode(err),
		Message: err.Error(),
	})
}
