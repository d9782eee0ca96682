package domain

import "time"

type CallType string

const (
	CallOneToOne CallType = "one_to_one"
	CallGroup    CallType = "group"
)

// CallStatus is the lifecycle state of a call. Values are part of the
// client protocol, keep them stable.
type CallStatus string

const (
	CallRinging  CallStatus = "ringing"
	CallOngoing  CallStatus = "ongoing"
	CallEnded    CallStatus = "ended"
	CallMissed   CallStatus = "missed"
	CallRejected CallStatus = "rejected"
)

// Terminal reports whether no further transition is permitted from s.
func (s CallStatus) Terminal() bool {
	return s == CallEnded || s == CallMissed || s == CallRejected
}

type ParticipantStatus string

const (
	ParticipantInvited  ParticipantStatus = "invited"
	ParticipantJoined   ParticipantStatus = "joined"
	ParticipantLeft     ParticipantStatus = "left"
	ParticipantMissed   ParticipantStatus = "missed"
	ParticipantRejected ParticipantStatus = "rejected"
)

const (
	EndReasonCompleted       = "completed"
	EndReasonCallerCancelled = "caller_cancelled"
	EndReasonInsufficient    = "insufficient_participants"
)

type CallParticipant struct {
	User     User              `json:"user"`
	Status   ParticipantStatus `json:"status"`
	JoinedAt *time.Time        `json:"joinedAt,omitempty"`
	LeftAt   *time.Time        `json:"leftAt,omitempty"`
	Duration int               `json:"duration,omitempty"` // seconds
}

type Call struct {
	ID           string             `json:"id"`
	Type         CallType           `json:"type"`
	Status       CallStatus         `json:"status"`
	StartedBy    UserID             `json:"startedBy"`
	Participants []*CallParticipant `json:"participants"`
	StartedAt    time.Time          `json:"startedAt"`
	EndedAt      *time.Time         `json:"endedAt,omitempty"`
	Duration     int                `json:"duration,omitempty"` // seconds
	EndReason    string             `json:"endReason,omitempty"`
}

// Participant returns the entry for id, or nil when id was never invited.
func (c *Call) Participant(id UserID) *CallParticipant {
	for _, p := range c.Participants {
		if p.User.ID == id {
			return p
		}
	}
	return nil
}

// ActiveCount counts participants currently on the call.
func (c *Call) ActiveCount() int {
	n := 0
	for _, p := range c.Participants {
		if p.Status == ParticipantJoined && p.LeftAt == nil {
			n++
		}
	}
	return n
}

// Snapshot returns a deep copy safe to hand to encoders after the
// coordinator lock is released.
func (c *Call) Snapshot() *Call {
	cp := *c
	cp.Participants = make([]*CallParticipant, len(c.Participants))
	for i, p := range c.Participants {
		pc := *p
		cp.Participants[i] = &pc
	}
	return &cp
}
