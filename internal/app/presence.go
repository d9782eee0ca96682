package app

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"github.com/soleron/huddle/internal/core"
	"github.com/soleron/huddle/internal/domain"
)

type presenceState struct {
	conns    int
	lastSeen time.Time
}

// Presence tracks which users hold at least one live connection. The local
// table is authoritative for IsOnline; the store write is best-effort and
// runs off the hot path with bounded retry.
type Presence struct {
	mu      sync.RWMutex
	entries map[domain.UserID]*presenceState

	store      core.PresenceStore
	maxElapsed time.Duration

	// wg lets tests wait for in-flight persistence goroutines.
	wg sync.WaitGroup
}

func NewPresence(store core.PresenceStore, maxElapsed time.Duration) *Presence {
	return &Presence{
		entries:    make(map[domain.UserID]*presenceState),
		store:      store,
		maxElapsed: maxElapsed,
	}
}

// MarkOnline registers one more connection for id. It reports whether the
// user transitioned from offline to online.
func (p *Presence) MarkOnline(id domain.UserID) bool {
	now := time.Now()

	p.mu.Lock()
	st, ok := p.entries[id]
	if !ok {
		st = &presenceState{}
		p.entries[id] = st
	}
	st.conns++
	st.lastSeen = now
	first := st.conns == 1
	p.mu.Unlock()

	if first {
		p.persistAsync(id, true, now)
	}
	return first
}

// MarkOffline drops one connection for id. It reports whether that was the
// user's last connection.
func (p *Presence) MarkOffline(id domain.UserID) bool {
	now := time.Now()

	p.mu.Lock()
	st, ok := p.entries[id]
	if !ok {
		p.mu.Unlock()
		return false
	}
	st.conns--
	st.lastSeen = now
	last := st.conns <= 0
	if last {
		delete(p.entries, id)
	}
	p.mu.Unlock()

	if last {
		p.persistAsync(id, false, now)
	}
	return last
}

func (p *Presence) IsOnline(id domain.UserID) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.entries[id]
	return ok
}

func (p *Presence) LastSeen(id domain.UserID) (time.Time, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if st, ok := p.entries[id]; ok {
		return st.lastSeen, true
	}
	return time.Time{}, false
}

// Online returns a snapshot of every currently online user id.
func (p *Presence) Online() []domain.UserID {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]domain.UserID, 0, len(p.entries))
	for id := range p.entries {
		out = append(out, id)
	}
	return out
}

// Wait blocks until pending store writes finish. Test helper.
func (p *Presence) Wait() { p.wg.Wait() }

func (p *Presence) persistAsync(id domain.UserID, online bool, at time.Time) {
	if p.store == nil {
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), p.maxElapsed)
		defer cancel()

		bo := backoff.NewExponentialBackOff()
		bo.MaxElapsedTime = p.maxElapsed
		err := backoff.Retry(func() error {
			return p.store.SetPresence(ctx, id, online, at)
		}, backoff.WithContext(bo, ctx))
		if err != nil {
			log.Warn().Err(err).Str("module", "app.presence").
				Str("user", string(id)).Bool("online", online).
				Msg("presence persistence gave up")
		}
	}()
}
