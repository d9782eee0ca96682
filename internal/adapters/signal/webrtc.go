package signal

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/soleron/huddle/internal/domain"
)

// handleRelay forwards sdp_offer, sdp_answer and ice_candidate payloads to
// the other members of the call room, augmented with the sender identity.
// Payloads are opaque and never inspected. Membership in the call room,
// established at join time, is the trust boundary; frames are not
// re-authorized per message.
func (ctl *Controller) handleRelay(c *wsConn, event string, data []byte) {
	var p struct {
		Type      string          `json:"type"`
		CallID    string          `json:"callId"`
		Offer     json.RawMessage `json:"offer,omitempty"`
		Answer    json.RawMessage `json:"answer,omitempty"`
		Candidate json.RawMessage `json:"candidate,omitempty"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(c, &domain.ValidationError{Field: "event", Reason: "malformed json"})
		return
	}
	if p.CallID == "" {
		ctl.sendError(c, &domain.ValidationError{Field: "callId", Reason: "required"})
		return
	}

	key := domain.CallRoom(p.CallID)
	if !ctl.Hub.Rooms.Contains(key, c.id) {
		ctl.sendError(c, &domain.AuthorizationError{Resource: "call " + p.CallID, Reason: "not in call room"})
		return
	}

	out := struct {
		Type      string          `json:"type"`
		CallID    string          `json:"callId"`
		From      domain.User     `json:"from"`
		Offer     json.RawMessage `json:"offer,omitempty"`
		Answer    json.RawMessage `json:"answer,omitempty"`
		Candidate json.RawMessage `json:"candidate,omitempty"`
	}{
		Type:      event,
		CallID:    p.CallID,
		From:      *c.user,
		Offer:     p.Offer,
		Answer:    p.Answer,
		Candidate: p.Candidate,
	}
	b, err := json.Marshal(out)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("relay marshal")
		return
	}
	ctl.Hub.Rooms.Broadcast(key, b, c.id, false)
}
