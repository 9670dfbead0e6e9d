package models

import "time"

// RoomKind distinguishes two-party rooms from group rooms.
type RoomKind string

const (
	RoomDirect RoomKind = "direct"
	RoomGroup  RoomKind = "group"
)

// Valid reports whether k is a known room kind.
func (k RoomKind) Valid() bool {
	return k == RoomDirect || k == RoomGroup
}

// RoomSettings holds per-room behaviour flags.
type RoomSettings struct {
	EncryptionEnabled bool `db:"encryption_enabled" json:"encryption_enabled"`
	// MaxMembers caps active memberships; zero means unlimited.
	MaxMembers int `db:"max_members" json:"max_members"`
	// AutoDeleteSeconds is applied to new messages that carry no explicit auto_delete_at.
	AutoDeleteSeconds int64 `db:"auto_delete_seconds" json:"auto_delete_seconds"`
}

// AutoDeleteAfter returns the default message lifetime, or zero when disabled.
func (s RoomSettings) AutoDeleteAfter() time.Duration {
	return time.Duration(s.AutoDeleteSeconds) * time.Second
}

// Room is a direct or group chat container.
type Room struct {
	ID        int64        `db:"id" json:"id"`
	Kind      RoomKind     `db:"kind" json:"kind"`
	Name      string       `db:"name" json:"name"`
	Settings  RoomSettings `db:"-" json:"settings"`
	Visible   bool         `db:"visible" json:"visible"`
	CreatedAt time.Time    `db:"created_at" json:"created_at"`
}

// Identity is the verified user snapshot supplied by the authentication collaborator.
type Identity struct {
	UserID      int64  `json:"user_id"`
	DisplayName string `json:"display_name"`
}
