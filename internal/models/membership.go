package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Role is a member's standing inside a room.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleMember:
		return true
	}
	return false
}

// Capability is a single grantable room permission.
type Capability uint8

const (
	CapSendMessage Capability = iota + 1
	CapAddMember
	CapRemoveMember
	CapPinMessage
	CapDeleteAnyMessage
)

// Capabilities lists every capability in declaration order.
var Capabilities = []Capability{CapSendMessage, CapAddMember, CapRemoveMember, CapPinMessage, CapDeleteAnyMessage}

func (c Capability) String() string {
	switch c {
	case CapSendMessage:
		return "send_message"
	case CapAddMember:
		return "add_member"
	case CapRemoveMember:
		return "remove_member"
	case CapPinMessage:
		return "pin_message"
	case CapDeleteAnyMessage:
		return "delete_any_message"
	default:
		return fmt.Sprintf("capability(%d)", uint8(c))
	}
}

// ParseCapability resolves a wire name into a Capability.
func ParseCapability(s string) (Capability, error) {
	for _, c := range Capabilities {
		if c.String() == s {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown capability %q", s)
}

// PermissionSet is a bitmask of capabilities.
type PermissionSet uint8

// NewPermissionSet builds a set from the given capabilities.
func NewPermissionSet(caps ...Capability) PermissionSet {
	var p PermissionSet
	for _, c := range caps {
		p = p.With(c)
	}
	return p
}

func (p PermissionSet) Has(c Capability) bool {
	return c != 0 && p&(1<<(c-1)) != 0
}

func (p PermissionSet) With(c Capability) PermissionSet {
	if c == 0 {
		return p
	}
	return p | 1<<(c-1)
}

func (p PermissionSet) Without(c Capability) PermissionSet {
	if c == 0 {
		return p
	}
	return p &^ (1 << (c - 1))
}

// Names returns the wire names of the capabilities in the set.
func (p PermissionSet) Names() []string {
	names := make([]string, 0, len(Capabilities))
	for _, c := range Capabilities {
		if p.Has(c) {
			names = append(names, c.String())
		}
	}
	return names
}

// ParsePermissionSet builds a set from wire names.
func ParsePermissionSet(names []string) (PermissionSet, error) {
	var p PermissionSet
	for _, name := range names {
		c, err := ParseCapability(name)
		if err != nil {
			return 0, err
		}
		p = p.With(c)
	}
	return p, nil
}

func (p PermissionSet) MarshalJSON() ([]byte, error) {
	names := p.Names()
	sort.Strings(names)
	return json.Marshal(names)
}

func (p *PermissionSet) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	parsed, err := ParsePermissionSet(names)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// DefaultPermissions is granted to members added without an explicit set.
var DefaultPermissions = NewPermissionSet(CapSendMessage)

// MembershipStatus tracks whether a membership currently counts.
type MembershipStatus string

const (
	StatusActive  MembershipStatus = "active"
	StatusBlocked MembershipStatus = "blocked"
	StatusLeft    MembershipStatus = "left"
)

// Membership is a user's standing within one room.
type Membership struct {
	RoomID      int64            `db:"room_id" json:"room_id"`
	UserID      int64            `db:"user_id" json:"user_id"`
	DisplayName string           `db:"display_name" json:"display_name"`
	Role        Role             `db:"role" json:"role"`
	Permissions PermissionSet    `db:"permissions" json:"permissions"`
	Status      MembershipStatus `db:"status" json:"status"`
	Muted       bool             `db:"muted" json:"muted"`
	JoinedAt    time.Time        `db:"joined_at" json:"joined_at"`
}

// Active reports whether the membership currently counts toward the room.
func (m Membership) Active() bool {
	return m.Status == StatusActive
}

// Permits reports whether the member may exercise c. Owners and admins hold every capability.
func (m Membership) Permits(c Capability) bool {
	if !m.Active() {
		return false
	}
	switch m.Role {
	case RoleOwner, RoleAdmin:
		return true
	}
	return m.Permissions.Has(c)
}
