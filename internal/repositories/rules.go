package repositories

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"chat-engine/internal/chaterr"
	"chat-engine/internal/models"
)

const (
	DefaultPageSize   = 50
	MaxPageSize       = 100
	MaxSearchLimit    = 100
	MaxRoomNameLength = 255
)

// RoomUpdate carries the room fields to change. Nil fields are left alone.
type RoomUpdate struct {
	Name              *string `json:"name,omitempty"`
	EncryptionEnabled *bool   `json:"encryption_enabled,omitempty"`
	MaxMembers        *int    `json:"max_members,omitempty"`
	AutoDeleteSeconds *int64  `json:"auto_delete_seconds,omitempty"`
}

func (u RoomUpdate) Empty() bool {
	return u.Name == nil && u.EncryptionEnabled == nil && u.MaxMembers == nil && u.AutoDeleteSeconds == nil
}

// Apply returns room with the update applied.
func (u RoomUpdate) Apply(room models.Room) models.Room {
	if u.Name != nil {
		room.Name = *u.Name
	}
	if u.EncryptionEnabled != nil {
		room.Settings.EncryptionEnabled = *u.EncryptionEnabled
	}
	if u.MaxMembers != nil {
		room.Settings.MaxMembers = *u.MaxMembers
	}
	if u.AutoDeleteSeconds != nil {
		room.Settings.AutoDeleteSeconds = *u.AutoDeleteSeconds
	}
	return room
}

// roomCounts is what the membership invariants are evaluated against.
type roomCounts struct {
	active int
	owners int
}

// planRoom validates p and returns the initial memberships, creator first.
func planRoom(p CreateRoomParams) ([]models.Membership, error) {
	if !p.Kind.Valid() {
		return nil, fmt.Errorf("%w: unknown room kind %q", chaterr.ErrInvalidAction, p.Kind)
	}
	if p.Creator.UserID == 0 {
		return nil, fmt.Errorf("%w: missing creator", chaterr.ErrInvalidAction)
	}

	seen := map[int64]struct{}{p.Creator.UserID: {}}
	others := make([]models.Identity, 0, len(p.Members))
	for _, m := range p.Members {
		if m.UserID == 0 {
			continue
		}
		if _, ok := seen[m.UserID]; ok {
			continue
		}
		seen[m.UserID] = struct{}{}
		others = append(others, m)
	}
	sort.Slice(others, func(i, j int) bool { return others[i].UserID < others[j].UserID })

	if p.Kind == models.RoomDirect && len(others) != 1 {
		return nil, fmt.Errorf("%w: a direct room needs exactly two distinct members", chaterr.ErrInvariantViolation)
	}
	if limit := p.Settings.MaxMembers; limit > 0 && len(others)+1 > limit {
		return nil, fmt.Errorf("%w: room allows at most %d members", chaterr.ErrInvariantViolation, limit)
	}

	// Both sides of a direct room own it, so neither can be left without an owner.
	otherRole := models.RoleMember
	if p.Kind == models.RoomDirect {
		otherRole = models.RoleOwner
	}

	members := make([]models.Membership, 0, len(others)+1)
	members = append(members, models.Membership{
		UserID:      p.Creator.UserID,
		DisplayName: p.Creator.DisplayName,
		Role:        models.RoleOwner,
		Permissions: models.DefaultPermissions,
		Status:      models.StatusActive,
	})
	for _, o := range others {
		members = append(members, models.Membership{
			UserID:      o.UserID,
			DisplayName: o.DisplayName,
			Role:        otherRole,
			Permissions: models.DefaultPermissions,
			Status:      models.StatusActive,
		})
	}
	return members, nil
}

func checkIdentity(id models.Identity) error {
	if id.UserID == 0 {
		return fmt.Errorf("%w: missing user id", chaterr.ErrInvalidAction)
	}
	return nil
}

func checkAdd(room models.Room, counts roomCounts, actor models.Membership, existing *models.Membership) error {
	if !actor.Permits(models.CapAddMember) {
		return fmt.Errorf("%w: add_member required", chaterr.ErrForbidden)
	}
	if room.Kind == models.RoomDirect {
		return fmt.Errorf("%w: a direct room has exactly two members", chaterr.ErrInvariantViolation)
	}
	if existing != nil && existing.Active() {
		return fmt.Errorf("%w: user %d is already a member", chaterr.ErrInvariantViolation, existing.UserID)
	}
	if limit := room.Settings.MaxMembers; limit > 0 && counts.active >= limit {
		return fmt.Errorf("%w: room allows at most %d members", chaterr.ErrInvariantViolation, limit)
	}
	return nil
}

func checkRemove(room models.Room, counts roomCounts, actor, target models.Membership, block bool) error {
	leaving := actor.UserID == target.UserID && !block
	if !leaving {
		if !actor.Permits(models.CapRemoveMember) {
			return fmt.Errorf("%w: remove_member required", chaterr.ErrForbidden)
		}
		if target.Role == models.RoleOwner && actor.Role != models.RoleOwner {
			return fmt.Errorf("%w: only an owner can remove an owner", chaterr.ErrForbidden)
		}
	}
	if room.Kind == models.RoomDirect {
		return fmt.Errorf("%w: a direct room has exactly two members", chaterr.ErrInvariantViolation)
	}
	if target.Role == models.RoleOwner && counts.owners <= 1 && counts.active > 1 {
		return fmt.Errorf("%w: room would have no owner", chaterr.ErrInvariantViolation)
	}
	return nil
}

func checkRole(room models.Room, counts roomCounts, actor, target models.Membership, role models.Role) error {
	if !role.Valid() {
		return fmt.Errorf("%w: unknown role %q", chaterr.ErrInvalidAction, role)
	}
	if !actor.Active() || actor.Role != models.RoleOwner {
		return fmt.Errorf("%w: only an owner can change roles", chaterr.ErrForbidden)
	}
	if room.Kind == models.RoomDirect {
		return fmt.Errorf("%w: roles are fixed in a direct room", chaterr.ErrInvariantViolation)
	}
	if target.Role == models.RoleOwner && role != models.RoleOwner && counts.owners <= 1 {
		return fmt.Errorf("%w: room would have no owner", chaterr.ErrInvariantViolation)
	}
	return nil
}

func checkPermissions(actor models.Membership) error {
	if !actor.Active() || (actor.Role != models.RoleOwner && actor.Role != models.RoleAdmin) {
		return fmt.Errorf("%w: only owners and admins can change permissions", chaterr.ErrForbidden)
	}
	return nil
}

func checkUpdateRoom(room models.Room, counts roomCounts, actor models.Membership, p RoomUpdate) error {
	if !actor.Active() || (actor.Role != models.RoleOwner && actor.Role != models.RoleAdmin) {
		return fmt.Errorf("%w: only owners and admins can update the room", chaterr.ErrForbidden)
	}
	if p.Empty() {
		return fmt.Errorf("%w: nothing to update", chaterr.ErrInvalidAction)
	}
	if p.Name != nil && len(*p.Name) > MaxRoomNameLength {
		return fmt.Errorf("%w: name exceeds %d bytes", chaterr.ErrInvalidAction, MaxRoomNameLength)
	}
	if p.AutoDeleteSeconds != nil && *p.AutoDeleteSeconds < 0 {
		return fmt.Errorf("%w: negative auto_delete_seconds", chaterr.ErrInvalidAction)
	}
	if p.MaxMembers == nil {
		return nil
	}
	limit := *p.MaxMembers
	if limit < 0 {
		return fmt.Errorf("%w: negative max_members", chaterr.ErrInvalidAction)
	}
	if room.Kind == models.RoomDirect {
		return fmt.Errorf("%w: a direct room holds exactly two members", chaterr.ErrInvariantViolation)
	}
	if limit > 0 && limit < counts.active {
		return fmt.Errorf("%w: room already has %d members", chaterr.ErrInvariantViolation, counts.active)
	}
	return nil
}

func checkDeleteRoom(actor models.Membership) error {
	if !actor.Active() || actor.Role != models.RoleOwner {
		return fmt.Errorf("%w: only an owner can delete the room", chaterr.ErrForbidden)
	}
	return nil
}

func roomNotFound(roomID int64) error {
	return fmt.Errorf("%w: room %d", chaterr.ErrNotFound, roomID)
}

func memberNotFound(roomID, userID int64) error {
	return fmt.Errorf("%w: user %d in room %d", chaterr.ErrNotFound, userID, roomID)
}

func messageNotFound(messageID int64) error {
	return fmt.Errorf("%w: message %d", chaterr.ErrNotFound, messageID)
}

func clampLimit(limit, ceiling int) int {
	if limit <= 0 {
		return DefaultPageSize
	}
	if limit > ceiling {
		return ceiling
	}
	return limit
}

// MaxContentLength bounds the opaque body, in bytes.
const MaxContentLength = 16 * 1024

func checkContent(c models.Content) error {
	if !c.Type.Valid() {
		return fmt.Errorf("%w: unknown content type %q", chaterr.ErrInvalidAction, c.Type)
	}
	if strings.TrimSpace(c.Body) == "" {
		return fmt.Errorf("%w: empty content", chaterr.ErrInvalidAction)
	}
	if len(c.Body) > MaxContentLength {
		return fmt.Errorf("%w: content exceeds %d bytes", chaterr.ErrInvalidAction, MaxContentLength)
	}
	return nil
}

// CheckSchedule rejects an auto-delete time that does not fall after the
// moment the message becomes visible: now, or its scheduled send time.
func CheckSchedule(now time.Time, scheduledAt, autoDeleteAt *time.Time) error {
	if autoDeleteAt == nil {
		return nil
	}
	visibleAt := now
	if scheduledAt != nil && scheduledAt.After(now) {
		visibleAt = *scheduledAt
	}
	if !autoDeleteAt.After(visibleAt) {
		return fmt.Errorf("%w: auto_delete_at must be after the message is sent", chaterr.ErrInvalidAction)
	}
	return nil
}

func checkEmoji(emoji string) error {
	if strings.TrimSpace(emoji) == "" || len(emoji) > 64 {
		return fmt.Errorf("%w: invalid emoji", chaterr.ErrInvalidAction)
	}
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, chaterr.ErrNotFound)
}

func requireCapability(ctx context.Context, auth Authorizer, roomID, userID int64, c models.Capability) error {
	ok, err := auth.IsPermitted(ctx, roomID, userID, c)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s required in room %d", chaterr.ErrForbidden, c, roomID)
	}
	return nil
}
