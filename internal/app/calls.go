package app

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/soleron/huddle/internal/core"
	"github.com/soleron/huddle/internal/domain"
)

// Calls drives the per-call state machine:
//
//	ringing -> ongoing -> ended
//	ringing -> missed | rejected
//
// ended, missed and rejected are terminal. Every transition happens under
// one lock, timers included, so a call can reach exactly one terminal state
// and emit exactly one terminal broadcast.
type Calls struct {
	mu    sync.Mutex
	calls map[string]*callState

	clk      clock.Clock
	rooms    *Rooms
	archiver core.CallArchiver

	ringTimeout       time.Duration
	monitorInterval   time.Duration
	archiveMaxElapsed time.Duration

	wg sync.WaitGroup
}

type callState struct {
	call        *domain.Call
	missTimer   *clock.Timer
	monitorStop chan struct{}
}

func NewCalls(rooms *Rooms, clk clock.Clock, archiver core.CallArchiver, ringTimeout, monitorInterval time.Duration) *Calls {
	return &Calls{
		calls:             make(map[string]*callState),
		clk:               clk,
		rooms:             rooms,
		archiver:          archiver,
		ringTimeout:       ringTimeout,
		monitorInterval:   monitorInterval,
		archiveMaxElapsed: 30 * time.Second,
	}
}

type callEvent struct {
	Type string       `json:"type"`
	Call *domain.Call `json:"call"`
	User *domain.User `json:"user,omitempty"`
}

// emit is a prepared broadcast; transitions build emits under the lock and
// send them after release.
type emit struct {
	frame   core.Frame
	targets []domain.RoomKey
}

// Create starts a call in ringing state. startedBy is recorded as joined,
// everyone else as invited, and a single cancellable auto-miss timer is
// scheduled.
func (c *Calls) Create(callType domain.CallType, participants []domain.User, startedBy domain.UserID) (*domain.Call, error) {
	distinct := dedupeUsers(participants)
	if len(distinct) < 2 {
		return nil, &domain.ValidationError{Field: "participants", Reason: "a call needs at least two distinct participants"}
	}
	if callType == domain.CallOneToOne && len(distinct) != 2 {
		return nil, &domain.ValidationError{Field: "participants", Reason: "one-to-one calls take exactly two participants"}
	}
	if callType != domain.CallOneToOne && callType != domain.CallGroup {
		return nil, &domain.ValidationError{Field: "type", Reason: "unknown call type"}
	}

	now := c.clk.Now()
	call := &domain.Call{
		ID:        uuid.NewString(),
		Type:      callType,
		Status:    domain.CallRinging,
		StartedBy: startedBy,
		StartedAt: now,
	}
	starterFound := false
	for i := range distinct {
		p := &domain.CallParticipant{User: distinct[i], Status: domain.ParticipantInvited}
		if distinct[i].ID == startedBy {
			at := now
			p.Status = domain.ParticipantJoined
			p.JoinedAt = &at
			starterFound = true
		}
		call.Participants = append(call.Participants, p)
	}
	if !starterFound {
		return nil, &domain.ValidationError{Field: "participants", Reason: "caller must be a participant"}
	}

	cs := &callState{call: call}

	c.mu.Lock()
	c.calls[call.ID] = cs
	cs.missTimer = c.clk.AfterFunc(c.ringTimeout, func() { c.autoMiss(call.ID) })

	snap := call.Snapshot()
	emits := []emit{
		{frame: marshalEvent(callEvent{Type: "call_started", Call: snap}),
			targets: append([]domain.RoomKey{domain.CallRoom(call.ID)}, domain.UserRoom(startedBy))},
	}
	invited := make([]domain.RoomKey, 0, len(call.Participants))
	for _, p := range call.Participants {
		if p.Status == domain.ParticipantInvited {
			invited = append(invited, domain.UserRoom(p.User.ID))
		}
	}
	if len(invited) > 0 {
		emits = append(emits, emit{frame: marshalEvent(callEvent{Type: "incoming_call", Call: snap}), targets: invited})
	}
	c.mu.Unlock()

	c.send(emits)
	log.Info().Str("module", "app.calls").Str("call", call.ID).
		Str("type", string(callType)).Str("started_by", string(startedBy)).
		Msg("call created")
	return snap, nil
}

// Join moves a participant with status invited or left to joined. The first
// join cancels the auto-miss timer, flips the call to ongoing and starts
// the participant monitor.
func (c *Calls) Join(callID string, userID domain.UserID) (*domain.Call, error) {
	c.mu.Lock()
	cs, ok := c.calls[callID]
	if !ok {
		c.mu.Unlock()
		log.Warn().Str("module", "app.calls").Str("call", callID).Msg("join on unknown call")
		return nil, &domain.NotFoundError{Resource: "call", ID: callID}
	}
	call := cs.call
	p := call.Participant(userID)
	if p == nil {
		c.mu.Unlock()
		return nil, &domain.AuthorizationError{Resource: "call " + callID, Reason: "not a participant"}
	}
	if p.Status != domain.ParticipantInvited && p.Status != domain.ParticipantLeft {
		c.mu.Unlock()
		return nil, &domain.ValidationError{Field: "callId", Reason: "participant cannot join in status " + string(p.Status)}
	}

	now := c.clk.Now()
	p.Status = domain.ParticipantJoined
	p.JoinedAt = &now
	p.LeftAt = nil

	if cs.missTimer != nil {
		cs.missTimer.Stop()
		cs.missTimer = nil
	}
	if call.Status == domain.CallRinging {
		call.Status = domain.CallOngoing
		cs.monitorStop = make(chan struct{})
		go c.monitor(callID, cs.monitorStop)
	}

	snap := call.Snapshot()
	emits := c.callWideEmits(call, callEvent{Type: "call_joined", Call: snap, User: &p.User})
	c.mu.Unlock()

	c.send(emits)
	return snap, nil
}

// End marks the acting participant left. The call itself ends when the
// caller cancels while still ringing, or when nobody remains on it.
func (c *Calls) End(callID string, userID domain.UserID) (*domain.Call, error) {
	c.mu.Lock()
	cs, ok := c.calls[callID]
	if !ok {
		c.mu.Unlock()
		log.Warn().Str("module", "app.calls").Str("call", callID).Msg("end on unknown call")
		return nil, &domain.NotFoundError{Resource: "call", ID: callID}
	}
	p := cs.call.Participant(userID)
	if p == nil {
		c.mu.Unlock()
		return nil, &domain.AuthorizationError{Resource: "call " + callID, Reason: "not a participant"}
	}

	snap, emits := c.leaveLocked(cs, p)
	c.mu.Unlock()

	c.send(emits)
	return snap, nil
}

// Reject marks the participant rejected. A rejected one-to-one call is over;
// a group call keeps ringing for the remaining invitees.
func (c *Calls) Reject(callID string, userID domain.UserID) (*domain.Call, error) {
	c.mu.Lock()
	cs, ok := c.calls[callID]
	if !ok {
		c.mu.Unlock()
		log.Warn().Str("module", "app.calls").Str("call", callID).Msg("reject on unknown call")
		return nil, &domain.NotFoundError{Resource: "call", ID: callID}
	}
	call := cs.call
	p := call.Participant(userID)
	if p == nil {
		c.mu.Unlock()
		return nil, &domain.AuthorizationError{Resource: "call " + callID, Reason: "not a participant"}
	}

	p.Status = domain.ParticipantRejected
	var emits []emit
	if call.Type == domain.CallOneToOne {
		now := c.clk.Now()
		call.Status = domain.CallRejected
		call.EndedAt = &now
		call.Duration = int(now.Sub(call.StartedAt).Seconds())
		call.EndReason = "rejected"
		emits = c.terminalLocked(cs, "call_rejected", &p.User)
	} else {
		emits = c.callWideEmits(call, callEvent{Type: "call_rejected", Call: call.Snapshot(), User: &p.User})
	}
	snap := call.Snapshot()
	c.mu.Unlock()

	c.send(emits)
	return snap, nil
}

// OnDisconnect applies leave semantics for every live call the user is
// currently joined to. Runs during the disconnect cascade.
func (c *Calls) OnDisconnect(userID domain.UserID) {
	c.mu.Lock()
	var all []emit
	for _, cs := range c.calls {
		p := cs.call.Participant(userID)
		if p == nil || p.Status != domain.ParticipantJoined {
			continue
		}
		_, emits := c.leaveLocked(cs, p)
		all = append(all, emits...)
	}
	c.mu.Unlock()

	c.send(all)
}

// Get returns a snapshot of a live call.
func (c *Calls) Get(callID string) (*domain.Call, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cs, ok := c.calls[callID]; ok {
		return cs.call.Snapshot(), true
	}
	return nil, false
}

// Wait blocks until pending archive writes finish. Test helper.
func (c *Calls) Wait() { c.wg.Wait() }

// leaveLocked performs the shared End/disconnect mutation. Caller holds mu.
func (c *Calls) leaveLocked(cs *callState, p *domain.CallParticipant) (*domain.Call, []emit) {
	call := cs.call
	now := c.clk.Now()

	if p.Status == domain.ParticipantJoined && p.JoinedAt != nil {
		p.Duration = int(now.Sub(*p.JoinedAt).Seconds())
	}
	p.Status = domain.ParticipantLeft
	p.LeftAt = &now

	cancelled := call.Status == domain.CallRinging
	if cancelled || call.ActiveCount() == 0 {
		call.Status = domain.CallEnded
		call.EndedAt = &now
		call.Duration = int(now.Sub(call.StartedAt).Seconds())
		if cancelled {
			call.EndReason = domain.EndReasonCallerCancelled
		} else {
			call.EndReason = domain.EndReasonCompleted
		}
		return call.Snapshot(), c.terminalLocked(cs, "call_ended", &p.User)
	}

	snap := call.Snapshot()
	return snap, c.callWideEmits(call, callEvent{Type: "call_left", Call: snap, User: &p.User})
}

// autoMiss fires at the ring deadline. A call that left ringing before the
// timer ran is untouched; join always wins the race because both sides take
// the coordinator lock and join cancels the timer first.
func (c *Calls) autoMiss(callID string) {
	c.mu.Lock()
	cs, ok := c.calls[callID]
	if !ok || cs.call.Status != domain.CallRinging {
		c.mu.Unlock()
		return
	}
	call := cs.call
	now := c.clk.Now()
	for _, p := range call.Participants {
		if p.Status == domain.ParticipantInvited {
			p.Status = domain.ParticipantMissed
		}
	}
	call.Status = domain.CallMissed
	call.EndedAt = &now
	call.Duration = int(now.Sub(call.StartedAt).Seconds())
	call.EndReason = "missed"
	emits := c.terminalLocked(cs, "call_missed", nil)
	c.mu.Unlock()

	c.send(emits)
	log.Info().Str("module", "app.calls").Str("call", callID).Msg("call auto-missed")
}

// monitor polls an ongoing call and force-ends it once fewer than two
// participants remain. It stops within one interval of any terminal
// transition via the stop channel.
func (c *Calls) monitor(callID string, stop chan struct{}) {
	t := c.clk.Ticker(c.monitorInterval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			if c.checkParticipants(callID) {
				return
			}
		}
	}
}

func (c *Calls) checkParticipants(callID string) (done bool) {
	c.mu.Lock()
	cs, ok := c.calls[callID]
	if !ok || cs.call.Status != domain.CallOngoing {
		c.mu.Unlock()
		return true
	}
	call := cs.call
	if call.ActiveCount() >= 2 {
		c.mu.Unlock()
		return false
	}

	now := c.clk.Now()
	call.Status = domain.CallEnded
	call.EndedAt = &now
	call.Duration = int(now.Sub(call.StartedAt).Seconds())
	call.EndReason = domain.EndReasonInsufficient
	emits := c.terminalLocked(cs, "call_ended", nil)
	c.mu.Unlock()

	c.send(emits)
	log.Info().Str("module", "app.calls").Str("call", callID).Msg("call ended, insufficient participants")
	return true
}

// terminalLocked tears a call down after its status was set terminal:
// cancels timers, evicts the call from memory, hands the final record to
// the archiver and prepares the single terminal broadcast. Caller holds mu.
func (c *Calls) terminalLocked(cs *callState, event string, user *domain.User) []emit {
	call := cs.call
	if cs.missTimer != nil {
		cs.missTimer.Stop()
		cs.missTimer = nil
	}
	if cs.monitorStop != nil {
		close(cs.monitorStop)
		cs.monitorStop = nil
	}
	delete(c.calls, call.ID)

	c.archiveAsync(call.Snapshot())
	return c.callWideEmits(call, callEvent{Type: event, Call: call.Snapshot(), User: user})
}

// callWideEmits targets the call room plus every participant's private
// room, so invitees who never joined the room still hear about the call.
func (c *Calls) callWideEmits(call *domain.Call, ev callEvent) []emit {
	targets := make([]domain.RoomKey, 0, len(call.Participants)+1)
	targets = append(targets, domain.CallRoom(call.ID))
	for _, p := range call.Participants {
		targets = append(targets, domain.UserRoom(p.User.ID))
	}
	return []emit{{frame: marshalEvent(ev), targets: targets}}
}

func (c *Calls) send(emits []emit) {
	for _, e := range emits {
		if e.frame == nil {
			continue
		}
		// A connection can sit in both the call room and its private
		// room; deliver each frame once per connection.
		seen := make(map[core.ConnID]struct{})
		for _, key := range e.targets {
			for _, conn := range c.rooms.Conns(key) {
				if _, dup := seen[conn.ID()]; dup {
					continue
				}
				seen[conn.ID()] = struct{}{}
				if err := conn.TrySend(e.frame); err != nil {
					log.Warn().Str("module", "calls").
						Str("conn", string(conn.ID())).
						Msg("dropping call event, send buffer full")
				}
			}
		}
	}
}

func (c *Calls) archiveAsync(call *domain.Call) {
	if c.archiver == nil {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.archiveMaxElapsed)
		defer cancel()

		bo := backoff.NewExponentialBackOff()
		bo.MaxElapsedTime = c.archiveMaxElapsed
		err := backoff.Retry(func() error {
			return c.archiver.Archive(ctx, call)
		}, backoff.WithContext(bo, ctx))
		if err != nil {
			log.Warn().Err(err).Str("module", "app.calls").Str("call", call.ID).
				Msg("call archive gave up")
		}
	}()
}

func marshalEvent(v any) core.Frame {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "app.calls").Msg("marshal event")
		return nil
	}
	return b
}

func dedupeUsers(users []domain.User) []domain.User {
	seen := make(map[domain.UserID]bool, len(users))
	out := make([]domain.User, 0, len(users))
	for _, u := range users {
		if seen[u.ID] {
			continue
		}
		seen[u.ID] = true
		out = append(out, u)
	}
	return out
}
