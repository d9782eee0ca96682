package domain

import "time"

// PresenceEntry is the per-user online state kept by the registry and
// mirrored best-effort into the user store.
type PresenceEntry struct {
	Online   bool      `json:"online"`
	LastSeen time.Time `json:"lastSeen"`
}
