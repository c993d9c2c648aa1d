package model

import "time"

// Grant is a short-lived proof that an identity may attach a given connection to a
// private channel. Grants are never persisted; they live for the subscribe handshake.
//
// Auth is the opaque signature string the connection presents to the relay.
// JSON field names follow the broadcasting auth response expected by Pusher clients.
type Grant struct {
	ChannelName string    `json:"channel_name"`
	IdentityID  int64     `json:"identity_id"`
	SocketID    string    `json:"socket_id"`
	Auth        string    `json:"auth"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Expired reports whether the grant is past its expiry at now.
func (g Grant) Expired(now time.Time) bool {
	return !now.Before(g.ExpiresAt)
}
