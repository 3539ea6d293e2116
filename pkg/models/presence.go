package models

import "time"

// PresenceChangedEvent is broadcast globally when a user flips fully online
// or fully offline (not per-connection).
type PresenceChangedEvent struct {
	UserID     string     `json:"userId"`
	IsOnline   bool       `json:"isOnline"`
	LastSeenAt *time.Time `json:"lastSeenAt,omitempty"`
}

// UserOnlineStatus is the response shape for GetUserOnlineStatus.
type UserOnlineStatus struct {
	UserID   string `json:"userId"`
	IsOnline bool   `json:"isOnline"`
}
