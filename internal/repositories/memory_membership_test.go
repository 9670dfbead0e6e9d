package repositories

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"chat-engine/internal/chaterr"
	"chat-engine/internal/models"
)

func newGroup(t *testing.T, s *MemoryMembershipStore, creator int64, members ...int64) models.Room {
	t.Helper()
	ids := make([]models.Identity, 0, len(members))
	for _, m := range members {
		ids = append(ids, models.Identity{UserID: m})
	}
	room, _, err := s.CreateRoom(context.Background(), CreateRoomParams{
		Kind:    models.RoomGroup,
		Name:    "general",
		Creator: models.Identity{UserID: creator, DisplayName: "creator"},
		Members: ids,
	})
	require.NoError(t, err)
	return room
}

func TestCreateRoomAssignsCreatorAsOwner(t *testing.T) {
	s := NewMemoryMembershipStore()
	room, members, err := s.CreateRoom(context.Background(), CreateRoomParams{
		Kind:    models.RoomGroup,
		Creator: models.Identity{UserID: 1},
		Members: []models.Identity{{UserID: 3}, {UserID: 2}, {UserID: 1}, {UserID: 3}},
	})
	require.NoError(t, err)
	require.True(t, room.Visible)
	require.Len(t, members, 3)
	require.Equal(t, int64(1), members[0].UserID)
	require.Equal(t, models.RoleOwner, members[0].Role)
	require.Equal(t, models.RoleMember, members[1].Role)

	active, err := s.ActiveMembers(context.Background(), room.ID)
	require.NoError(t, err)
	require.Equal(t, []int64{1, 2, 3}, userIDs(active))
}

func TestDirectRoomInvariants(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryMembershipStore()

	_, _, err := s.CreateRoom(ctx, CreateRoomParams{Kind: models.RoomDirect, Creator: models.Identity{UserID: 1}})
	require.ErrorIs(t, err, chaterr.ErrInvariantViolation)

	_, _, err = s.CreateRoom(ctx, CreateRoomParams{
		Kind:    models.RoomDirect,
		Creator: models.Identity{UserID: 1},
		Members: []models.Identity{{UserID: 2}, {UserID: 3}},
	})
	require.ErrorIs(t, err, chaterr.ErrInvariantViolation)

	room, members, err := s.CreateRoom(ctx, CreateRoomParams{
		Kind:    models.RoomDirect,
		Creator: models.Identity{UserID: 1},
		Members: []models.Identity{{UserID: 2}},
	})
	require.NoError(t, err)
	require.Len(t, members, 2)

	_, err = s.AddMember(ctx, room.ID, 1, models.Identity{UserID: 3})
	require.ErrorIs(t, err, chaterr.ErrInvariantViolation)

	_, err = s.RemoveMember(ctx, room.ID, 1, 1, false)
	require.ErrorIs(t, err, chaterr.ErrInvariantViolation)

	active, err := s.ActiveMembers(ctx, room.ID)
	require.NoError(t, err)
	require.Len(t, active, 2)
}

func TestAddMemberRequiresCapability(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryMembershipStore()
	room := newGroup(t, s, 1, 2)

	_, err := s.AddMember(ctx, room.ID, 2, models.Identity{UserID: 3})
	require.ErrorIs(t, err, chaterr.ErrForbidden)

	_, err = s.AddMember(ctx, room.ID, 99, models.Identity{UserID: 3})
	require.ErrorIs(t, err, chaterr.ErrForbidden)

	_, err = s.UpdatePermissions(ctx, room.ID, 1, 2, models.NewPermissionSet(models.CapSendMessage, models.CapAddMember))
	require.NoError(t, err)

	added, err := s.AddMember(ctx, room.ID, 2, models.Identity{UserID: 3, DisplayName: "carol"})
	require.NoError(t, err)
	require.Equal(t, models.RoleMember, added.Role)
	require.True(t, added.Permissions.Has(models.CapSendMessage))

	_, err = s.AddMember(ctx, room.ID, 1, models.Identity{UserID: 3})
	require.ErrorIs(t, err, chaterr.ErrInvariantViolation)
}

func TestMaxMembersEnforced(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryMembershipStore()
	room, _, err := s.CreateRoom(ctx, CreateRoomParams{
		Kind:     models.RoomGroup,
		Settings: models.RoomSettings{MaxMembers: 2},
		Creator:  models.Identity{UserID: 1},
		Members:  []models.Identity{{UserID: 2}},
	})
	require.NoError(t, err)

	_, err = s.AddMember(ctx, room.ID, 1, models.Identity{UserID: 3})
	require.ErrorIs(t, err, chaterr.ErrInvariantViolation)
}

func TestLastOwnerCannotLeave(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryMembershipStore()
	room := newGroup(t, s, 1, 2)

	_, err := s.RemoveMember(ctx, room.ID, 1, 1, false)
	require.ErrorIs(t, err, chaterr.ErrInvariantViolation)

	_, err = s.UpdateRole(ctx, room.ID, 1, 1, models.RoleMember)
	require.ErrorIs(t, err, chaterr.ErrInvariantViolation)

	_, err = s.UpdateRole(ctx, room.ID, 1, 2, models.RoleOwner)
	require.NoError(t, err)

	left, err := s.RemoveMember(ctx, room.ID, 1, 1, false)
	require.NoError(t, err)
	require.Equal(t, models.StatusLeft, left.Status)
}

func TestMemberCanLeaveWithoutRemovePermission(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryMembershipStore()
	room := newGroup(t, s, 1, 2, 3)

	_, err := s.RemoveMember(ctx, room.ID, 2, 3, false)
	require.ErrorIs(t, err, chaterr.ErrForbidden)

	left, err := s.RemoveMember(ctx, room.ID, 2, 2, false)
	require.NoError(t, err)
	require.False(t, left.Active())

	ok, err := s.IsPermitted(ctx, room.ID, 2, models.CapSendMessage)
	require.NoError(t, err)
	require.False(t, ok)

	rejoined, err := s.AddMember(ctx, room.ID, 1, models.Identity{UserID: 2})
	require.NoError(t, err)
	require.True(t, rejoined.Active())
}

func TestBlockedMemberLosesAccess(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryMembershipStore()
	room := newGroup(t, s, 1, 2)

	blocked, err := s.RemoveMember(ctx, room.ID, 1, 2, true)
	require.NoError(t, err)
	require.Equal(t, models.StatusBlocked, blocked.Status)

	rooms, err := s.RoomsForUser(ctx, 2)
	require.NoError(t, err)
	require.Empty(t, rooms)
}

func TestAdminCannotRemoveOwner(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryMembershipStore()
	room := newGroup(t, s, 1, 2)

	_, err := s.UpdateRole(ctx, room.ID, 1, 2, models.RoleAdmin)
	require.NoError(t, err)

	_, err = s.RemoveMember(ctx, room.ID, 2, 1, false)
	require.ErrorIs(t, err, chaterr.ErrForbidden)

	_, err = s.UpdateRole(ctx, room.ID, 2, 1, models.RoleMember)
	require.ErrorIs(t, err, chaterr.ErrForbidden)
}

func TestDeleteRoomCascadesMemberships(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryMembershipStore()
	room := newGroup(t, s, 1, 2)

	require.ErrorIs(t, s.DeleteRoom(ctx, room.ID, 2), chaterr.ErrForbidden)
	require.NoError(t, s.DeleteRoom(ctx, room.ID, 1))

	_, err := s.GetRoom(ctx, room.ID)
	require.ErrorIs(t, err, chaterr.ErrNotFound)

	active, err := s.ActiveMembers(ctx, room.ID)
	require.NoError(t, err)
	require.Empty(t, active)

	ok, err := s.IsPermitted(ctx, room.ID, 1, models.CapSendMessage)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRoomsForUserNewestFirst(t *testing.T) {
	s := NewMemoryMembershipStore()
	first := newGroup(t, s, 1, 2)
	second := newGroup(t, s, 3, 2)
	newGroup(t, s, 3)

	rooms, err := s.RoomsForUser(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, rooms, 2)
	require.Equal(t, second.ID, rooms[0].ID)
	require.Equal(t, first.ID, rooms[1].ID)
}

func userIDs(members []models.Membership) []int64 {
	out := make([]int64, 0, len(members))
	for _, m := range members {
		out = append(out, m.UserID)
	}
	return out
}

func TestUpdateRoom(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryMembershipStore()
	room := newGroup(t, s, 1, 2, 3)
	name := "renamed"

	_, err := s.UpdateRoom(ctx, room.ID, 2, RoomUpdate{Name: &name})
	require.ErrorIs(t, err, chaterr.ErrForbidden)

	_, err = s.UpdateRoom(ctx, room.ID, 1, RoomUpdate{})
	require.ErrorIs(t, err, chaterr.ErrInvalidAction)

	tooSmall := 2
	_, err = s.UpdateRoom(ctx, room.ID, 1, RoomUpdate{MaxMembers: &tooSmall})
	require.ErrorIs(t, err, chaterr.ErrInvariantViolation)

	limit := 3
	ttl := int64(3600)
	updated, err := s.UpdateRoom(ctx, room.ID, 1, RoomUpdate{Name: &name, MaxMembers: &limit, AutoDeleteSeconds: &ttl})
	require.NoError(t, err)
	require.Equal(t, "renamed", updated.Name)
	require.Equal(t, 3, updated.Settings.MaxMembers)

	stored, err := s.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	require.Equal(t, updated, stored)

	_, err = s.AddMember(ctx, room.ID, 1, models.Identity{UserID: 4})
	require.ErrorIs(t, err, chaterr.ErrInvariantViolation)
}

func TestDirectRoomSizeCannotChange(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryMembershipStore()
	room, _, err := s.CreateRoom(ctx, CreateRoomParams{
		Kind:    models.RoomDirect,
		Creator: models.Identity{UserID: 1},
		Members: []models.Identity{{UserID: 2}},
	})
	require.NoError(t, err)

	limit := 5
	_, err = s.UpdateRoom(ctx, room.ID, 2, RoomUpdate{MaxMembers: &limit})
	require.ErrorIs(t, err, chaterr.ErrInvariantViolation)
}

func TestSetMutedOnlyForActiveMembers(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryMembershipStore()
	room := newGroup(t, s, 1, 2)

	m, err := s.SetMuted(ctx, room.ID, 2, true)
	require.NoError(t, err)
	require.True(t, m.Muted)

	active, err := s.ActiveMembers(ctx, room.ID)
	require.NoError(t, err)
	require.True(t, active[1].Muted)

	_, err = s.SetMuted(ctx, room.ID, 9, true)
	require.ErrorIs(t, err, chaterr.ErrNotFound)

	_, err = s.RemoveMember(ctx, room.ID, 2, 2, false)
	require.NoError(t, err)
	_, err = s.SetMuted(ctx, room.ID, 2, false)
	require.ErrorIs(t, err, chaterr.ErrNotFound)
}
