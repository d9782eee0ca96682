package app_test

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/soleron/huddle/internal/core"
	"github.com/soleron/huddle/internal/domain"
)

// fakeConn records every frame it is handed, in order.
type fakeConn struct {
	id   core.ConnID
	user domain.User

	mu     sync.Mutex
	frames []core.Frame
	fail   bool
}

func newFakeConn(id string, user domain.User) *fakeConn {
	return &fakeConn{id: core.ConnID(id), user: user}
}

func (c *fakeConn) ID() core.ConnID    { return c.id }
func (c *fakeConn) User() *domain.User { return &c.user }
func (c *fakeConn) Close()             {}

func (c *fakeConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return context.DeadlineExceeded
	}
	c.frames = append(c.frames, f)
	return nil
}

// events decodes the type field of every received frame, in order.
func (c *fakeConn) events() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.frames))
	for _, f := range c.frames {
		var env struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(f, &env) == nil {
			out = append(out, env.Type)
		}
	}
	return out
}

func (c *fakeConn) count(event string) int {
	n := 0
	for _, e := range c.events() {
		if e == event {
			n++
		}
	}
	return n
}

// lastCall decodes the call payload of the most recent frame of the given
// event type, or nil.
func (c *fakeConn) lastCall(event string) *domain.Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.frames) - 1; i >= 0; i-- {
		var ev struct {
			Type string       `json:"type"`
			Call *domain.Call `json:"call"`
		}
		if json.Unmarshal(c.frames[i], &ev) == nil && ev.Type == event {
			return ev.Call
		}
	}
	return nil
}

type fakePresenceStore struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (s *fakePresenceStore) SetPresence(_ context.Context, _ domain.UserID, _ bool, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.err
}

func (s *fakePresenceStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type fakeArchiver struct {
	mu    sync.Mutex
	calls []*domain.Call
}

func (a *fakeArchiver) Archive(_ context.Context, call *domain.Call) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, call)
	return nil
}

func (a *fakeArchiver) archived() []*domain.Call {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*domain.Call(nil), a.calls...)
}
