// Package core defines the hub-facing transport abstraction and the
// interfaces of external collaborators. Adapters own the concrete
// implementations; the app layer never imports an adapter.
package core

import (
	"context"
	"time"

	"github.com/soleron/huddle/internal/domain"
)

// Frame is a marshaled outbound event.
type Frame []byte

type ConnID string

// Conn is one live client connection as seen by the hub. The transport
// adapter owns the socket and must Close() it; frames pushed through
// TrySend are delivered in order per sender.
type Conn interface {
	ID() ConnID
	User() *domain.User
	TrySend(Frame) error
	Close()
}

// TokenVerifier checks the bearer credential presented at handshake and
// yields the identity it was issued for.
type TokenVerifier interface {
	Verify(ctx context.Context, credential string) (domain.UserID, error)
}

// UserStore resolves profiles for verified identities.
type UserStore interface {
	GetUser(ctx context.Context, id domain.UserID) (*domain.User, error)
}

// PresenceStore persists online/offline transitions. Calls are wrapped in
// bounded retry by the presence registry; failures are never fatal.
type PresenceStore interface {
	SetPresence(ctx context.Context, id domain.UserID, online bool, at time.Time) error
}

// AccessChecker answers existence-and-authorization for a referenced
// resource. It returns a domain.NotFoundError or domain.AuthorizationError,
// or nil when the user may join.
type AccessChecker interface {
	CanAccess(ctx context.Context, user domain.UserID, kind domain.RoomKind, id string) error
}

// CallArchiver receives the final record of a call after it reaches a
// terminal status. The hub itself keeps no terminal calls in memory.
type CallArchiver interface {
	Archive(ctx context.Context, call *domain.Call) error
}

// ReadinessProbe is awaited once per connection before event processing
// begins. A failed probe blocks room joins but keeps the socket open.
type ReadinessProbe interface {
	Ready(ctx context.Context) error
}
