// Package domain contains entities without logic, just meta-data.
package domain

type UserID string

// User is the profile shape resolved from the user store at handshake.
type User struct {
	ID       UserID `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
}
